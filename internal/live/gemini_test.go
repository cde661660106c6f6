package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/drivethru/internal/audio"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

type fakeLiveServer struct {
	t      *testing.T
	script func(conn *websocket.Conn)

	mu    sync.Mutex
	setup map[string]any
	query string
}

func (f *fakeLiveServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	var setup map[string]any
	if err := conn.ReadJSON(&setup); err != nil {
		f.t.Errorf("read setup: %v", err)
		return
	}
	f.mu.Lock()
	f.setup = setup
	f.query = r.URL.RawQuery
	f.mu.Unlock()

	if err := conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}}); err != nil {
		return
	}
	if f.script != nil {
		f.script(conn)
	}
}

func dialFake(t *testing.T, f *fakeLiveServer, cb Callbacks) (Session, func()) {
	t.Helper()
	srv := httptest.NewServer(f)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := NewGeminiDialer(GeminiConfig{APIKey: "k", WSURL: wsURL}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := d.Dial(ctx, Config{
		Model:        "test-model",
		Voice:        "Kore",
		SystemPrompt: "be nice",
		Tools:        []*genai.FunctionDeclaration{{Name: "finishOrder"}},
	}, cb)
	if err != nil {
		srv.Close()
		t.Fatalf("Dial() error = %v", err)
	}
	return s, func() {
		_ = s.Close()
		srv.Close()
	}
}

func TestGeminiDialSendsSetupAndOpens(t *testing.T) {
	f := &fakeLiveServer{t: t, script: func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	}}
	opened := false
	_, closeAll := dialFake(t, f, Callbacks{OnOpen: func() { opened = true }})
	defer closeAll()

	if !opened {
		t.Fatalf("OnOpen not called before Dial returned")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.query != "key=k" {
		t.Fatalf("query = %q, want key=k", f.query)
	}
	setup, _ := f.setup["setup"].(map[string]any)
	if setup["model"] != "models/test-model" {
		t.Fatalf("model = %v", setup["model"])
	}
	raw, _ := json.Marshal(setup)
	for _, want := range []string{`"AUDIO"`, `"voiceName":"Kore"`, `"be nice"`, `"finishOrder"`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("setup %s missing %s", raw, want)
		}
	}
}

func TestGeminiDeliversMessagesAndToolResponses(t *testing.T) {
	toolResponse := make(chan map[string]any, 1)
	f := &fakeLiveServer{t: t, script: func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []any{map[string]any{"id": "c1", "name": "addToOrder", "args": map[string]any{"itemName": "BURGER"}}},
			},
		})
		_ = conn.WriteJSON(map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{"parts": []any{
					map[string]any{"inlineData": map[string]any{"data": "AAAA", "mimeType": "audio/pcm;rate=24000"}},
					map[string]any{"inlineData": map[string]any{"data": "!!bad!!", "mimeType": "audio/pcm"}},
				}},
			},
		})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"interrupted": true}})

		var msg map[string]any
		if err := conn.ReadJSON(&msg); err == nil {
			toolResponse <- msg
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}}

	var (
		mu     sync.Mutex
		msgs   []Message
		reason string
	)
	closed := make(chan struct{})
	s, closeAll := dialFake(t, f, Callbacks{
		OnMessage: func(m Message) {
			mu.Lock()
			msgs = append(msgs, m)
			mu.Unlock()
		},
		OnClose: func(r string) {
			mu.Lock()
			reason = r
			mu.Unlock()
			close(closed)
		},
	})
	defer closeAll()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(msgs)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("received %d messages, want 3", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].ID != "c1" || msgs[0].ToolCalls[0].Args["itemName"] != "BURGER" {
		t.Fatalf("tool call message = %+v", msgs[0])
	}
	if len(msgs[1].Audio) != 2 || msgs[1].Audio[0].Data != "AAAA" {
		t.Fatalf("audio message = %+v", msgs[1])
	}
	if !msgs[2].Interrupted {
		t.Fatalf("third message not interrupted: %+v", msgs[2])
	}
	mu.Unlock()

	err := s.SendToolResponses([]*genai.FunctionResponse{{ID: "c1", Name: "addToOrder", Response: map[string]any{"result": "Item added to order."}}})
	if err != nil {
		t.Fatalf("SendToolResponses() error = %v", err)
	}
	select {
	case msg := <-toolResponse:
		raw, _ := json.Marshal(msg)
		if !strings.Contains(string(raw), `"functionResponses"`) || !strings.Contains(string(raw), `"id":"c1"`) {
			t.Fatalf("tool response = %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received tool response")
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnClose not called")
	}
	mu.Lock()
	defer mu.Unlock()
	if reason != "bye" {
		t.Fatalf("close reason = %q, want bye", reason)
	}
}

func TestGeminiAbnormalDropReportsTransportError(t *testing.T) {
	f := &fakeLiveServer{t: t, script: func(conn *websocket.Conn) {
		_ = conn.UnderlyingConn().Close()
	}}
	failed := make(chan error, 1)
	_, closeAll := dialFake(t, f, Callbacks{OnError: func(err error) { failed <- err }})
	defer closeAll()

	select {
	case err := <-failed:
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("error = %v, want ErrTransport", err)
		}
		if _, ok := AsTransportError(err); !ok {
			t.Fatalf("error = %T, want *TransportError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnError not called")
	}
}

func TestGeminiDialFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	d := NewGeminiDialer(GeminiConfig{WSURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, zerolog.Nop())
	_, err := d.Dial(context.Background(), Config{}, Callbacks{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Dial() error = %v, want ErrTransport", err)
	}
}

func TestGeminiSendAfterCloseFails(t *testing.T) {
	f := &fakeLiveServer{t: t, script: func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	}}
	s, closeAll := dialFake(t, f, Callbacks{})
	defer closeAll()
	_ = s.Close()
	if err := s.SendAudio(audio.Encode([]float32{0})); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendAudio() after Close error = %v, want ErrClosed", err)
	}
}

func TestSetupMessageDefaults(t *testing.T) {
	p := setupMessage(Config{})
	if p.Setup.Model != "models/"+DefaultGeminiModel {
		t.Fatalf("model = %q", p.Setup.Model)
	}
	if got := p.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != DefaultVoice {
		t.Fatalf("voice = %q, want %q", got, DefaultVoice)
	}
	if p.Setup.SystemInstruction != nil || p.Setup.Tools != nil {
		t.Fatalf("empty config produced instruction or tools")
	}
}
