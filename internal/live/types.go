package live

import (
	"context"
	"errors"

	"github.com/ent0n29/drivethru/internal/audio"
	"google.golang.org/genai"
)

var (
	ErrTransport = errors.New("live transport error")
	ErrClosed    = errors.New("live session closed")
)

// Config is everything the agent needs at session setup. SystemPrompt is
// passed through verbatim.
type Config struct {
	Model        string
	Voice        string
	SystemPrompt string
	Tools        []*genai.FunctionDeclaration
}

// AudioChunk is one base64 PCM16 part of agent speech. Decoding is left to
// the consumer so that a malformed chunk can be dropped on its own.
type AudioChunk struct {
	Data     string
	MIMEType string
}

// Message is one inbound server event. Any combination of fields may be set.
type Message struct {
	ToolCalls    []*genai.FunctionCall
	Audio        []AudioChunk
	Interrupted  bool
	TurnComplete bool
}

// Callbacks are invoked from the session's reader goroutine, in arrival
// order. OnOpen fires before Dial returns.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func(reason string)
	OnError   func(error)
}

type Session interface {
	SendAudio(blob audio.Blob) error
	SendText(text string, final bool) error
	SendToolResponses(responses []*genai.FunctionResponse) error
	Close() error
}

// Dialer opens sessions with a remote agent. Dial blocks until the agent
// reports the session open or ctx is done.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, cfg Config, cb Callbacks) (Session, error)
}

func (cb Callbacks) open() {
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
}

func (cb Callbacks) message(m Message) {
	if cb.OnMessage != nil {
		cb.OnMessage(m)
	}
}

func (cb Callbacks) closed(reason string) {
	if cb.OnClose != nil {
		cb.OnClose(reason)
	}
}

func (cb Callbacks) failed(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
