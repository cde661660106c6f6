package kiosk

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/drivethru/internal/audio"
	"github.com/ent0n29/drivethru/internal/order"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Scene string

const (
	SceneOrdering Scene = "ordering"
	ScenePickup   Scene = "pickup"
)

// Protected status strings. While one is showing it replaces the live total.
const (
	StatusEmptyOrder = "ORDER SOMETHING..."
	StatusProcessing = "PROCESSING PAYMENT..."
	StatusAuthorized = "PAYMENT AUTHORIZED"
	StatusPullAround = "PLEASE PULL AROUND >>"
)

type Timings struct {
	EmptyWarning  time.Duration
	Processing    time.Duration
	Authorized    time.Duration
	PickupDelay   time.Duration
	Teardown      time.Duration
	CarArrival    time.Duration
	LogTTL        time.Duration
	IngredientTTL time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		EmptyWarning:  1500 * time.Millisecond,
		Processing:    1500 * time.Millisecond,
		Authorized:    1500 * time.Millisecond,
		PickupDelay:   time.Second,
		Teardown:      15 * time.Second,
		CarArrival:    3 * time.Second,
		LogTTL:        4 * time.Second,
		IngredientTTL: 6 * time.Second,
	}
}

// Hooks are invoked outside the board lock.
type Hooks struct {
	// Mute fires when the customer is told to pull around.
	Mute func()
	// Teardown fires once the checkout sequence has run its course.
	Teardown func()
	Cue      func(audio.Cue)
}

type FinishOutcome int

const (
	FinishEmpty FinishOutcome = iota
	FinishStarted
	FinishInProgress
)

type LogEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Ingredient is a generated icon flying across the ordering scene.
type Ingredient struct {
	ID  string `json:"id"`
	SVG string `json:"svg"`
	Top string `json:"top"`
}

// Board owns the scene and display state machine layered over the order
// store. Timer driven transitions are tagged with the epoch they were armed
// in and re-check state when they fire, so a reset or newer status always
// wins.
type Board struct {
	store   *order.Store
	catalog *order.Catalog
	timings Timings
	log     zerolog.Logger

	mu          sync.Mutex
	hooks       Hooks
	level       func() float64
	epoch       uint64
	connected   bool
	scene       Scene
	status      string
	secret      bool
	checkout    bool
	carArrived  bool
	image       string
	logs        []LogEntry
	ingredients []Ingredient
	timers      []*time.Timer

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

func NewBoard(store *order.Store, catalog *order.Catalog, timings Timings, log zerolog.Logger) *Board {
	return &Board{
		store:   store,
		catalog: catalog,
		timings: timings,
		log:     log.With().Str("component", "board").Logger(),
		scene:   SceneOrdering,
		subs:    make(map[int]chan Snapshot),
	}
}

func (b *Board) SetHooks(h Hooks) {
	b.mu.Lock()
	b.hooks = h
	b.mu.Unlock()
}

// SetLevelSource wires the speech loudness meter shown on the speaker grill.
func (b *Board) SetLevelSource(fn func() float64) {
	b.mu.Lock()
	b.level = fn
	b.mu.Unlock()
}

func (b *Board) Store() *order.Store { return b.store }

func (b *Board) Epoch() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

// Reset returns the kiosk to a fresh ordering scene and invalidates every
// pending timer and in-flight generation result.
func (b *Board) Reset() {
	b.mu.Lock()
	b.epoch++
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil
	b.store.Clear()
	b.scene = SceneOrdering
	b.status = ""
	b.secret = false
	b.checkout = false
	b.carArrived = false
	b.image = ""
	b.ingredients = nil
	epoch := b.epoch
	b.mu.Unlock()

	b.log.Debug().Uint64("epoch", epoch).Msg("board reset")
	b.notify()
}

func (b *Board) SetConnected(connected bool) {
	b.mu.Lock()
	changed := b.connected != connected
	b.connected = connected
	b.mu.Unlock()
	if changed {
		b.notify()
	}
}

// OrderChanged republishes the board after the store was mutated.
func (b *Board) OrderChanged() {
	b.notify()
}

// RevealSecretMenu flips the one-way secret flag and reports whether it was
// newly revealed.
func (b *Board) RevealSecretMenu() bool {
	b.mu.Lock()
	first := !b.secret
	b.secret = true
	b.mu.Unlock()
	if first {
		b.notify()
	}
	return first
}

func (b *Board) SecretMenuOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.secret
}

// FinishOrder runs the checkout flow. An empty order flashes a warning that
// reverts to the live total; a non-empty order walks processing, authorized
// and pull-around, mutes the microphone, moves to the pickup scene and
// finally tears the session down.
func (b *Board) FinishOrder() FinishOutcome {
	b.mu.Lock()
	if b.checkout {
		b.mu.Unlock()
		return FinishInProgress
	}
	epoch := b.epoch
	cue := b.hooks.Cue

	if b.store.Total() == 0 {
		b.status = StatusEmptyOrder
		b.afterLocked(epoch, b.timings.EmptyWarning, func() []func() {
			if b.status == StatusEmptyOrder {
				b.status = ""
			}
			return nil
		})
		b.mu.Unlock()
		fire(cue, audio.CueEmptyOrder)
		b.notify()
		return FinishEmpty
	}

	b.checkout = true
	b.status = StatusProcessing
	b.afterLocked(epoch, b.timings.Processing, b.authorizeLocked)
	b.mu.Unlock()

	b.log.Info().Str("total", b.store.Total().String()).Msg("checkout started")
	fire(cue, audio.CueCheckout)
	b.notify()
	return FinishStarted
}

func (b *Board) authorizeLocked() []func() {
	b.status = StatusAuthorized
	b.afterLocked(b.epoch, b.timings.Authorized, b.pullAroundLocked)
	cue := b.hooks.Cue
	return []func(){func() { fire(cue, audio.CuePaymentAuthorized) }}
}

func (b *Board) pullAroundLocked() []func() {
	b.status = StatusPullAround
	epoch := b.epoch
	b.afterLocked(epoch, b.timings.PickupDelay, func() []func() {
		b.scene = ScenePickup
		b.ingredients = nil
		b.afterLocked(b.epoch, b.timings.CarArrival, func() []func() {
			b.carArrived = true
			return nil
		})
		return nil
	})
	b.afterLocked(epoch, b.timings.Teardown, func() []func() {
		if b.hooks.Teardown == nil {
			return nil
		}
		return []func(){b.hooks.Teardown}
	})
	if b.hooks.Mute == nil {
		return nil
	}
	return []func(){b.hooks.Mute}
}

// afterLocked arms a transition for the given epoch. fn runs under the lock
// and returns follow-up actions that run after it is released.
func (b *Board) afterLocked(epoch uint64, d time.Duration, fn func() []func()) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		b.mu.Lock()
		b.dropTimerLocked(t)
		if b.epoch != epoch {
			b.mu.Unlock()
			return
		}
		actions := fn()
		b.mu.Unlock()
		for _, a := range actions {
			a()
		}
		b.notify()
	})
	b.timers = append(b.timers, t)
}

func (b *Board) dropTimerLocked(t *time.Timer) {
	for i, x := range b.timers {
		if x == t {
			b.timers = append(b.timers[:i], b.timers[i+1:]...)
			return
		}
	}
}

// AddLog shows a function call chip for LogTTL.
func (b *Board) AddLog(text string) LogEntry {
	entry := LogEntry{
		ID:        uuid.NewString(),
		Text:      text,
		ExpiresAt: time.Now().UTC().Add(b.timings.LogTTL),
	}
	b.mu.Lock()
	b.logs = append(b.logs, entry)
	b.mu.Unlock()

	time.AfterFunc(b.timings.LogTTL, func() {
		b.mu.Lock()
		for i, l := range b.logs {
			if l.ID == entry.ID {
				b.logs = append(b.logs[:i], b.logs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		b.notify()
	})
	b.notify()
	return entry
}

// AddIngredient queues a generated icon. Results from an older epoch, or
// arriving after the ordering scene is gone, are discarded.
func (b *Board) AddIngredient(epoch uint64, svg string) (Ingredient, bool) {
	b.mu.Lock()
	if b.epoch != epoch || b.scene != SceneOrdering {
		b.mu.Unlock()
		return Ingredient{}, false
	}
	ing := Ingredient{
		ID:  uuid.NewString(),
		SVG: svg,
		Top: strconv.Itoa(rand.IntN(50)+10) + "%",
	}
	b.ingredients = append(b.ingredients, ing)
	b.afterLocked(epoch, b.timings.IngredientTTL, func() []func() {
		b.removeIngredientLocked(ing.ID)
		return nil
	})
	b.mu.Unlock()
	b.notify()
	return ing, true
}

// RemoveIngredient is called when the renderer finished animating an icon.
func (b *Board) RemoveIngredient(id string) bool {
	b.mu.Lock()
	ok := b.removeIngredientLocked(id)
	b.mu.Unlock()
	if ok {
		b.notify()
	}
	return ok
}

func (b *Board) removeIngredientLocked(id string) bool {
	for i, ing := range b.ingredients {
		if ing.ID == id {
			b.ingredients = append(b.ingredients[:i], b.ingredients[i+1:]...)
			return true
		}
	}
	return false
}

// SetOrderImage stores the latest preview. Last write wins within an epoch.
func (b *Board) SetOrderImage(epoch uint64, uri string) bool {
	b.mu.Lock()
	if b.epoch != epoch {
		b.mu.Unlock()
		return false
	}
	b.image = uri
	b.mu.Unlock()
	b.notify()
	return true
}

// Display is the text on the order board.
func (b *Board) Display() string {
	b.mu.Lock()
	status := b.status
	b.mu.Unlock()
	if status != "" {
		return status
	}
	return "TOTAL: " + b.store.Total().String()
}

// DisplayClass maps the display text to a renderer style.
func DisplayClass(text string) string {
	switch {
	case strings.Contains(text, "PROCESSING"):
		return "status-processing"
	case strings.Contains(text, "AUTHORIZED"):
		return "status-authorized"
	case strings.Contains(text, "PULL AROUND"):
		return "status-pull-around"
	}
	return ""
}

func fire(fn func(audio.Cue), c audio.Cue) {
	if fn != nil {
		fn(c)
	}
}
