package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/drivethru/internal/audio"
	"github.com/ent0n29/drivethru/internal/imagegen"
	"github.com/ent0n29/drivethru/internal/kiosk"
	"github.com/ent0n29/drivethru/internal/observability"
	"github.com/ent0n29/drivethru/internal/order"
	"github.com/ent0n29/drivethru/internal/orderfeed"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// Result strings returned to the agent.
const (
	ResultAdded          = "Item added to order."
	ResultNotFound       = "Item not found."
	ResultNotInOrder     = "Item not found in order."
	ResultSecretRevealed = "Secret menu revealed. Visual style changed to Glitch Mode, but keep your voice charming and playful. " +
		"Tell them the secret menu is where the 'fun' begins."
	ResultVisualizing    = "Background visualization triggered."
	ResultPreview        = "Preview generated internally based on current order state."
	ResultEmptyOrder     = "The customer hasn't ordered anything yet."
	ResultPaymentStarted = "Payment processed automatically. Customer is driving forward."
	ResultPaymentPending = "Payment is already processing. Customer is driving forward."
)

// CuePlayer plays UI feedback sounds.
type CuePlayer interface {
	Play(c audio.Cue)
}

type Config struct {
	// GenerationTimeout bounds each detached icon or preview request.
	GenerationTimeout time.Duration
}

// Dispatcher executes agent tool calls against the kiosk state.
type Dispatcher struct {
	board     *kiosk.Board
	catalog   *order.Catalog
	generator imagegen.Generator
	feed      orderfeed.Publisher
	cues      CuePlayer
	metrics   *observability.Metrics
	log       zerolog.Logger
	cfg       Config

	wg sync.WaitGroup
}

func NewDispatcher(
	board *kiosk.Board,
	catalog *order.Catalog,
	generator imagegen.Generator,
	feed orderfeed.Publisher,
	cues CuePlayer,
	metrics *observability.Metrics,
	cfg Config,
	log zerolog.Logger,
) *Dispatcher {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 60 * time.Second
	}
	if generator == nil {
		generator = imagegen.Disabled{}
	}
	return &Dispatcher{
		board:     board,
		catalog:   catalog,
		generator: generator,
		feed:      feed,
		cues:      cues,
		metrics:   metrics,
		log:       log.With().Str("component", "dispatcher").Logger(),
		cfg:       cfg,
	}
}

// Dispatch runs a batch of calls in order and returns one response per known
// call, carrying the call ID. Unknown names get no response. Generation work
// is started only after the whole batch has been applied.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []*genai.FunctionCall) []*genai.FunctionResponse {
	responses := make([]*genai.FunctionResponse, 0, len(calls))
	var deferred []func()

	for _, call := range calls {
		if call == nil {
			continue
		}
		d.board.AddLog(FormatCall(call.Name, call.Args))

		result, outcome, task := d.apply(ctx, call)
		d.countCall(call.Name, outcome)
		if outcome == "unknown" {
			d.log.Warn().Str("name", call.Name).Str("id", call.ID).Msg("ignoring unknown tool call")
			continue
		}
		if task != nil {
			deferred = append(deferred, task)
		}
		responses = append(responses, &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"result": result},
		})
	}

	for _, task := range deferred {
		task()
	}
	return responses
}

// Wait blocks until detached generation tasks have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) apply(ctx context.Context, call *genai.FunctionCall) (string, string, func()) {
	store := d.board.Store()
	switch call.Name {
	case AddToOrder:
		name := stringArg(call.Args, "itemName")
		item, ok := d.catalog.Lookup(name)
		if !ok {
			d.log.Warn().Str("item", name).Msg("failed to match menu item")
			return ResultNotFound, "miss", nil
		}
		added := store.Add(item.Name, item.Price, nil)
		d.orderChanged(ctx, orderfeed.EventItemAdded, &added, audio.CueItemAdded)
		return ResultAdded, "ok", nil

	case RemoveFromOrder:
		name := stringArg(call.Args, "itemName")
		removed, ok := store.RemoveFirst(name)
		if !ok {
			return ResultNotInOrder, "miss", nil
		}
		d.orderChanged(ctx, orderfeed.EventItemRemoved, &removed, audio.CueItemRemoved)
		return fmt.Sprintf("Removed %s from the order.", name), "ok", nil

	case RevealSecretMenu:
		if d.board.RevealSecretMenu() {
			d.play(audio.CueSecretMenu)
		}
		return ResultSecretRevealed, "ok", nil

	case CreateCustomBurger:
		ingredients := stringsArg(call.Args, "ingredients")
		price := order.CustomPrice(len(ingredients))
		added := store.Add(fmt.Sprintf("STACK (%d)", len(ingredients)), price, ingredients)
		d.orderChanged(ctx, orderfeed.EventItemAdded, &added, audio.CueCustomBurger)
		return fmt.Sprintf("Custom stack created with %s. Price: %s", strings.Join(ingredients, ", "), price), "ok", nil

	case VisualizeIngredient:
		label := stringArg(call.Args, "ingredient")
		epoch := d.board.Epoch()
		return ResultVisualizing, "ok", func() { d.visualize(ctx, epoch, label) }

	case GenerateOrderPreview:
		epoch := d.board.Epoch()
		return ResultPreview, "ok", func() { d.preview(ctx, epoch) }

	case FinishOrder:
		switch d.board.FinishOrder() {
		case kiosk.FinishEmpty:
			return ResultEmptyOrder, "miss", nil
		case kiosk.FinishInProgress:
			return ResultPaymentPending, "ok", nil
		}
		d.publish(ctx, orderfeed.Event{Type: orderfeed.EventOrderFinished, Items: store.Items()})
		return ResultPaymentStarted, "ok", nil
	}
	return "", "unknown", nil
}

func (d *Dispatcher) orderChanged(ctx context.Context, typ orderfeed.EventType, item *order.Item, cue audio.Cue) {
	d.board.OrderChanged()
	d.play(cue)
	d.publish(ctx, orderfeed.Event{Type: typ, Item: item})
}

func (d *Dispatcher) visualize(ctx context.Context, epoch uint64, label string) {
	d.detach(ctx, "icon", func(ctx context.Context) error {
		svg, err := d.generator.GenerateIcon(ctx, label)
		if err != nil {
			return err
		}
		if _, ok := d.board.AddIngredient(epoch, svg); !ok {
			return errStale
		}
		return nil
	})
}

// preview reads the store when the task runs, after the batch that asked for
// it has been applied.
func (d *Dispatcher) preview(ctx context.Context, epoch uint64) {
	description := d.board.Store().Describe()
	if description == "" {
		d.log.Debug().Msg("skipping preview for empty order")
		return
	}
	d.detach(ctx, "image", func(ctx context.Context) error {
		uri, err := d.generator.GenerateSceneImage(ctx, description)
		if err != nil {
			return err
		}
		if !d.board.SetOrderImage(epoch, uri) {
			return errStale
		}
		return nil
	})
}

var errStale = errors.New("session changed before result arrived")

func (d *Dispatcher) detach(parent context.Context, kind string, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.cfg.GenerationTimeout)
		defer cancel()

		outcome := "ok"
		if err := fn(ctx); err != nil {
			outcome = "error"
			if errors.Is(err, errStale) {
				outcome = "stale"
			}
			d.log.Warn().Err(err).Str("kind", kind).Msg("generation discarded")
		}
		if d.metrics != nil {
			d.metrics.Generations.WithLabelValues(kind, outcome).Inc()
		}
	}()
}

func (d *Dispatcher) publish(ctx context.Context, ev orderfeed.Event) {
	if d.feed == nil {
		return
	}
	ev.Epoch = d.board.Epoch()
	ev.Total = d.board.Store().Total()
	ev.At = time.Now().UTC()
	if err := d.feed.Publish(ctx, ev); err != nil {
		d.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("order event not published")
	}
}

func (d *Dispatcher) play(c audio.Cue) {
	if d.cues != nil {
		d.cues.Play(c)
	}
}

func (d *Dispatcher) countCall(name, outcome string) {
	if d.metrics == nil {
		return
	}
	if outcome == "unknown" {
		name = "unknown"
	}
	d.metrics.ToolCalls.WithLabelValues(name, outcome).Inc()
}
