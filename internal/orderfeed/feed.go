package orderfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/drivethru/internal/order"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventItemAdded     EventType = "item_added"
	EventItemRemoved   EventType = "item_removed"
	EventOrderFinished EventType = "order_finished"
)

// Event is published for the kitchen display whenever the order changes.
type Event struct {
	Type  EventType    `json:"type"`
	Epoch uint64       `json:"epoch"`
	Item  *order.Item  `json:"item,omitempty"`
	Items []order.Item `json:"items,omitempty"`
	Total order.Cents  `json:"total"`
	At    time.Time    `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NATS publishes order events as JSON on a single subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

func NewNATS(url, subject string, log zerolog.Logger) (*NATS, error) {
	l := log.With().Str("component", "orderfeed").Logger()
	conn, err := nats.Connect(url,
		nats.Name("drivethru-kiosk"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn().Err(err).Msg("order feed disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info().Str("url", c.ConnectedUrl()).Msg("order feed reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{conn: conn, subject: subject, log: l}, nil
}

func (p *NATS) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	return p.conn.Publish(p.subject, payload)
}

func (p *NATS) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// Memory keeps events in process. It backs the feed when no broker is
// configured and in tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 256
	}
	return &Memory{limit: limit}
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if len(m.events) > m.limit {
		m.events = append([]Event(nil), m.events[len(m.events)-m.limit:]...)
	}
	return nil
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func (m *Memory) Close() error { return nil }
