package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ent0n29/drivethru/internal/audio"
	"github.com/ent0n29/drivethru/internal/reliability"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	DefaultGeminiURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultGeminiModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice       = "Kore"
)

type GeminiConfig struct {
	APIKey string
	WSURL  string
}

// GeminiDialer speaks the Gemini Live BidiGenerateContent protocol over a
// raw websocket.
type GeminiDialer struct {
	cfg    GeminiConfig
	dialer *websocket.Dialer
	log    zerolog.Logger
}

func NewGeminiDialer(cfg GeminiConfig, log zerolog.Logger) *GeminiDialer {
	if strings.TrimSpace(cfg.WSURL) == "" {
		cfg.WSURL = DefaultGeminiURL
	}
	return &GeminiDialer{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("component", "gemini_live").Logger(),
	}
}

func (d *GeminiDialer) Name() string { return "gemini" }

func (d *GeminiDialer) Dial(ctx context.Context, cfg Config, cb Callbacks) (Session, error) {
	u, err := url.Parse(d.cfg.WSURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if d.cfg.APIKey != "" {
		q.Set("key", d.cfg.APIKey)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial live websocket: status %d (retryable=%v): %v",
				ErrTransport, resp.StatusCode, reliability.IsRetryableHTTPStatus(resp.StatusCode), err)
		}
		return nil, fmt.Errorf("%w: dial live websocket: %v", ErrTransport, err)
	}

	s := &geminiSession{conn: conn, cb: cb, log: d.log}
	if err := s.writeJSON(setupMessage(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: send setup: %v", ErrTransport, err)
	}
	if err := s.awaitSetup(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	cb.open()
	go s.readLoop()
	return s, nil
}

type setupPayload struct {
	Setup struct {
		Model             string                  `json:"model"`
		GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
		SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
		Tools             []*genai.Tool           `json:"tools,omitempty"`
	} `json:"setup"`
}

func setupMessage(cfg Config) setupPayload {
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	var p setupPayload
	p.Setup.Model = model
	p.Setup.GenerationConfig = &genai.GenerationConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	if cfg.SystemPrompt != "" {
		p.Setup.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemPrompt}}}
	}
	if len(cfg.Tools) > 0 {
		p.Setup.Tools = []*genai.Tool{{FunctionDeclarations: cfg.Tools}}
	}
	return p
}

// serverMessage keeps inline data as text so that a bad chunk fails alone.
type serverMessage struct {
	SetupComplete *struct{} `json:"setupComplete"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					Data     string `json:"data"`
					MIMEType string `json:"mimeType"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
		Interrupted  bool `json:"interrupted"`
		TurnComplete bool `json:"turnComplete"`
	} `json:"serverContent"`
	ToolCall *struct {
		FunctionCalls []*genai.FunctionCall `json:"functionCalls"`
	} `json:"toolCall"`
	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway"`
}

func (m *serverMessage) toMessage() (Message, bool) {
	var out Message
	if m.ToolCall != nil {
		out.ToolCalls = m.ToolCall.FunctionCalls
	}
	if sc := m.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || part.InlineData.Data == "" {
					continue
				}
				out.Audio = append(out.Audio, AudioChunk{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
			}
		}
		out.Interrupted = sc.Interrupted
		out.TurnComplete = sc.TurnComplete
	}
	ok := len(out.ToolCalls) > 0 || len(out.Audio) > 0 || out.Interrupted || out.TurnComplete
	return out, ok
}

type geminiSession struct {
	conn      *websocket.Conn
	cb        Callbacks
	log       zerolog.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
	mu        sync.Mutex
	isClosed  bool
}

func (s *geminiSession) awaitSetup(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: waiting for setup: %s", ErrTransport, reliability.CloseReason(err))
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func (s *geminiSession) SendAudio(blob audio.Blob) error {
	return s.writeJSON(map[string]any{
		"realtimeInput": map[string]any{"audio": blob},
	})
}

func (s *geminiSession) SendText(text string, final bool) error {
	return s.writeJSON(map[string]any{
		"clientContent": map[string]any{
			"turns":        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
			"turnComplete": final,
		},
	})
}

func (s *geminiSession) SendToolResponses(responses []*genai.FunctionResponse) error {
	if len(responses) == 0 {
		return nil
	}
	return s.writeJSON(map[string]any{
		"toolResponse": map[string]any{"functionResponses": responses},
	})
}

func (s *geminiSession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.isClosed = true
		s.mu.Unlock()

		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *geminiSession) closedLocally() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

func (s *geminiSession) writeJSON(payload any) error {
	if s.closedLocally() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (s *geminiSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug().Err(err).Msg("ignoring undecodable server message")
			continue
		}
		if msg.GoAway != nil {
			s.log.Warn().Str("time_left", msg.GoAway.TimeLeft).Msg("live server is going away")
		}
		if m, ok := msg.toMessage(); ok {
			s.cb.message(m)
		}
	}
}

func (s *geminiSession) finish(err error) {
	if s.closedLocally() {
		return
	}
	_ = s.Close()
	if reliability.IsOrderlyClose(err) {
		s.cb.closed(reliability.CloseReason(err))
		return
	}
	code := reliability.CloseCode(err)
	s.log.Warn().Err(err).Str("code", code).Msg("live stream failed")
	s.cb.failed(&TransportError{Code: code, Err: err})
}

// TransportError carries the classified cause of a stream failure.
type TransportError struct {
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live transport %s: %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// AsTransportError extracts the classified failure, if any.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	ok := errors.As(err, &te)
	return te, ok
}
