package kiosk

import (
	"time"

	"github.com/ent0n29/drivethru/internal/order"
)

// Snapshot is everything the renderer needs to draw the kiosk.
type Snapshot struct {
	Epoch          uint64           `json:"epoch"`
	Connected      bool             `json:"connected"`
	Scene          Scene            `json:"scene"`
	Display        string           `json:"display"`
	DisplayClass   string           `json:"display_class,omitempty"`
	Total          order.Cents      `json:"total"`
	Items          []order.Item     `json:"items"`
	Menu           []order.MenuItem `json:"menu"`
	SecretMenuOpen bool             `json:"secret_menu_open"`
	SecretItems    []order.MenuItem `json:"secret_items,omitempty"`
	CarArrived     bool             `json:"car_arrived"`
	WindowOpen     bool             `json:"window_open"`
	OrderImage     string           `json:"order_image,omitempty"`
	FunctionLogs   []LogEntry       `json:"function_logs"`
	Ingredients    []Ingredient     `json:"ingredients"`
	ModelVolume    float64          `json:"model_volume"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	s := Snapshot{
		Epoch:          b.epoch,
		Connected:      b.connected,
		Scene:          b.scene,
		SecretMenuOpen: b.secret,
		CarArrived:     b.carArrived,
		WindowOpen:     b.carArrived && b.image != "",
		OrderImage:     b.image,
		FunctionLogs:   append([]LogEntry{}, b.logs...),
		Ingredients:    append([]Ingredient{}, b.ingredients...),
		UpdatedAt:      time.Now().UTC(),
	}
	status := b.status
	level := b.level
	b.mu.Unlock()

	s.Items = b.store.Items()
	s.Total = b.store.Total()
	s.Menu = b.catalog.Items()
	if s.SecretMenuOpen {
		s.SecretItems = append([]order.MenuItem{}, order.SecretBoard...)
	}
	s.Display = status
	if s.Display == "" {
		s.Display = "TOTAL: " + s.Total.String()
	}
	s.DisplayClass = DisplayClass(s.Display)
	if level != nil && s.Connected {
		s.ModelVolume = level()
	}
	return s
}

// Subscribe streams snapshots after every change. Slow subscribers miss
// intermediate snapshots, never the channel.
func (b *Board) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.subMu.Unlock()

	return ch, func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *Board) notify() {
	b.subMu.Lock()
	if len(b.subs) == 0 {
		b.subMu.Unlock()
		return
	}
	b.subMu.Unlock()

	snap := b.Snapshot()

	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
