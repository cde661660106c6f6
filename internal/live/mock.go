package live

import (
	"context"
	"encoding/base64"
	"math"
	"strings"
	"sync"

	"github.com/ent0n29/drivethru/internal/audio"
	"google.golang.org/genai"
)

// MockDialer is a local stand-in used when no Gemini key is configured. With
// Greeting set, each final text turn is answered with a short chime so the
// playback path can be exercised offline.
type MockDialer struct {
	Greeting bool

	mu       sync.Mutex
	sessions []*MockSession
	dialErr  error
}

func NewMockDialer() *MockDialer { return &MockDialer{Greeting: true} }

func (d *MockDialer) Name() string { return "mock" }

// FailNextDial makes the next Dial return err.
func (d *MockDialer) FailNextDial(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *MockDialer) Dial(ctx context.Context, cfg Config, cb Callbacks) (Session, error) {
	d.mu.Lock()
	err := d.dialErr
	d.dialErr = nil
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &MockSession{cfg: cfg, cb: cb, greeting: d.Greeting}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	cb.open()
	return s, nil
}

// Last returns the most recently dialed session.
func (d *MockDialer) Last() *MockSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

type MockSession struct {
	cfg      Config
	cb       Callbacks
	greeting bool

	mu        sync.Mutex
	closed    bool
	audio     int
	texts     []string
	responses [][]*genai.FunctionResponse
}

func (s *MockSession) Config() Config { return s.cfg }

func (s *MockSession) SendAudio(blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if blob.Data != "" {
		s.audio++
	}
	return nil
}

func (s *MockSession) SendText(text string, final bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.texts = append(s.texts, text)
	s.mu.Unlock()

	if s.greeting && final && strings.TrimSpace(text) != "" {
		go s.cb.message(Message{Audio: []AudioChunk{chime()}, TurnComplete: true})
	}
	return nil
}

func (s *MockSession) SendToolResponses(responses []*genai.FunctionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.responses = append(s.responses, responses)
	return nil
}

func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Emit delivers a server message as if it came from the agent.
func (s *MockSession) Emit(m Message) { s.cb.message(m) }

// RemoteClose simulates the agent ending the session.
func (s *MockSession) RemoteClose(reason string) { s.cb.closed(reason) }

// Fail simulates a transport fault.
func (s *MockSession) Fail(err error) { s.cb.failed(err) }

func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockSession) AudioSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *MockSession) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *MockSession) ToolResponses() [][]*genai.FunctionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]*genai.FunctionResponse(nil), s.responses...)
}

// chime is 300ms of a soft two-tone sine at the output rate.
func chime() AudioChunk {
	n := audio.OutputSampleRate * 3 / 10
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / audio.OutputSampleRate
		freq := 660.0
		if i > n/2 {
			freq = 880
		}
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*freq*t))
	}
	return AudioChunk{
		Data:     base64.StdEncoding.EncodeToString(audio.PCM16(samples)),
		MIMEType: "audio/pcm;rate=24000",
	}
}
