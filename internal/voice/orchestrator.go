package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/drivethru/internal/audio"
	"github.com/ent0n29/drivethru/internal/kiosk"
	"github.com/ent0n29/drivethru/internal/live"
	"github.com/ent0n29/drivethru/internal/observability"
	"github.com/ent0n29/drivethru/internal/session"
	"github.com/ent0n29/drivethru/internal/tools"
	"github.com/rs/zerolog"
)

// Device is the shared output device: the speech clock plus loudness meter.
type Device interface {
	audio.Output
	Open() error
	Level() float64
}

type Deps struct {
	Sessions   *session.Manager
	Dialer     live.Dialer
	Board      *kiosk.Board
	Dispatcher *tools.Dispatcher
	Device     Device
	Capture    *audio.Capture
	Cues       tools.CuePlayer
	Metrics    *observability.Metrics
	Live       live.Config
	Log        zerolog.Logger
}

type eventKind int

const (
	eventOpen eventKind = iota
	eventMessage
	eventClose
	eventError
)

type liveEvent struct {
	kind   eventKind
	msg    live.Message
	reason string
	err    error
}

// Orchestrator owns the single live conversation: it wires the microphone to
// the agent, plays agent speech, and routes tool calls to the dispatcher.
type Orchestrator struct {
	sessions   *session.Manager
	dialer     live.Dialer
	board      *kiosk.Board
	dispatcher *tools.Dispatcher
	device     Device
	scheduler  *audio.Scheduler
	capture    *audio.Capture
	cues       tools.CuePlayer
	metrics    *observability.Metrics
	liveCfg    live.Config
	log        zerolog.Logger

	mu         sync.Mutex
	sessionID  string
	handle     live.Session
	done       chan struct{}
	cancel     context.CancelFunc
	openedAt   time.Time
	heardAudio bool
}

func NewOrchestrator(d Deps) *Orchestrator {
	o := &Orchestrator{
		sessions:   d.Sessions,
		dialer:     d.Dialer,
		board:      d.Board,
		dispatcher: d.Dispatcher,
		device:     d.Device,
		scheduler:  audio.NewScheduler(d.Device),
		capture:    d.Capture,
		cues:       d.Cues,
		metrics:    d.Metrics,
		liveCfg:    d.Live,
		log:        d.Log.With().Str("component", "orchestrator").Logger(),
	}

	o.board.SetHooks(kiosk.Hooks{
		Mute:     o.capture.Mute,
		Teardown: func() { o.end("checkout_complete") },
		Cue:      o.playCue,
	})
	o.board.SetLevelSource(o.device.Level)
	o.sessions.SetExpireHook(func(s *session.Session) {
		o.release(s.ID, "inactive")
	})
	o.capture.SetDropHook(func(reason string) {
		o.metrics.AudioDropped.WithLabelValues(reason).Inc()
	})
	return o
}

// Connect opens a session with the agent and starts the microphone. While a
// session is pending or open it returns that session and does nothing else.
func (o *Orchestrator) Connect(ctx context.Context) (*session.Session, error) {
	s, err := o.sessions.Begin(o.dialer.Name(), o.liveCfg.Voice)
	if errors.Is(err, session.ErrActive) {
		cur, _ := o.sessions.Current()
		return cur, nil
	}
	if err != nil {
		return nil, err
	}
	id := s.ID

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	inbox := make(chan liveEvent, 256)
	o.mu.Lock()
	o.sessionID = id
	o.handle = nil
	o.done = done
	o.cancel = cancel
	o.heardAudio = false
	o.mu.Unlock()

	o.board.Reset()
	if err := o.device.Open(); err != nil {
		o.release(id, "device_error")
		return nil, fmt.Errorf("open output device: %w", err)
	}
	o.scheduler.Reset()
	o.capture.Unmute()
	o.playCue(audio.CueSessionStart)
	o.metrics.SessionEvents.WithLabelValues("connect").Inc()

	handle, err := o.dialer.Dial(ctx, o.liveCfg, o.callbacks(inbox, done))
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues(o.dialer.Name(), "dial").Inc()
		o.release(id, "dial_failed")
		if !errors.Is(err, live.ErrTransport) {
			err = fmt.Errorf("%w: %w", live.ErrTransport, err)
		}
		return nil, fmt.Errorf("connect live session: %w", err)
	}

	o.mu.Lock()
	if o.sessionID != id {
		o.mu.Unlock()
		_ = handle.Close()
		return nil, fmt.Errorf("%w: session ended while connecting", live.ErrClosed)
	}
	o.handle = handle
	go o.pump(sessCtx, id, handle, inbox, done)
	err = o.capture.Start(func(b audio.Blob) error {
		return o.sendAudio(handle, b)
	})
	o.mu.Unlock()
	if err != nil {
		o.log.Warn().Err(err).Msg("microphone unavailable, aborting session")
		o.release(id, "permission_denied")
		return nil, err
	}

	if err := handle.SendText(StartConversationText, true); err != nil {
		o.log.Warn().Err(err).Msg("failed to send conversation opener")
	}

	// The transport may have failed while the mic was starting; release then
	// already ran and the session must not be reported as connected.
	o.mu.Lock()
	if o.sessionID != id {
		o.mu.Unlock()
		cur, _ := o.sessions.Current()
		reason := "released"
		if cur != nil && cur.ID == id {
			reason = cur.EndReason
		}
		return nil, fmt.Errorf("%w: session ended while connecting (%s)", live.ErrTransport, reason)
	}
	o.board.SetConnected(true)
	o.metrics.ActiveSessions.Set(1)
	o.mu.Unlock()
	o.log.Info().Str("session_id", id).Str("provider", o.dialer.Name()).Msg("live session connected")

	cur, _ := o.sessions.Current()
	return cur, nil
}

// Disconnect tears the current session down. It is a no-op when nothing is
// connected.
func (o *Orchestrator) Disconnect() {
	o.end("user")
}

// Toggle connects when idle and disconnects otherwise.
func (o *Orchestrator) Toggle(ctx context.Context) (*session.Session, error) {
	o.mu.Lock()
	active := o.sessionID != ""
	o.mu.Unlock()
	if active {
		o.Disconnect()
		cur, _ := o.sessions.Current()
		return cur, nil
	}
	return o.Connect(ctx)
}

// DismissIngredient acknowledges that the renderer finished an icon animation.
func (o *Orchestrator) DismissIngredient(id string) bool {
	return o.board.RemoveIngredient(id)
}

type State struct {
	Kiosk   kiosk.Snapshot   `json:"kiosk"`
	Session *session.Session `json:"session,omitempty"`
}

func (o *Orchestrator) State() State {
	st := State{Kiosk: o.board.Snapshot()}
	if cur, ok := o.sessions.Current(); ok {
		st.Session = cur
	}
	return st
}

func (o *Orchestrator) Scheduler() *audio.Scheduler { return o.scheduler }

// Level is the loudness of the agent's speech, 0..1.
func (o *Orchestrator) Level() float64 { return o.device.Level() }

func (o *Orchestrator) end(reason string) {
	o.mu.Lock()
	id := o.sessionID
	o.mu.Unlock()
	if id != "" {
		o.release(id, reason)
	}
}

func (o *Orchestrator) callbacks(inbox chan<- liveEvent, done <-chan struct{}) live.Callbacks {
	push := func(ev liveEvent) {
		select {
		case inbox <- ev:
		case <-done:
		}
	}
	return live.Callbacks{
		OnOpen:    func() { push(liveEvent{kind: eventOpen}) },
		OnMessage: func(m live.Message) { push(liveEvent{kind: eventMessage, msg: m}) },
		OnClose:   func(reason string) { push(liveEvent{kind: eventClose, reason: reason}) },
		OnError:   func(err error) { push(liveEvent{kind: eventError, err: err}) },
	}
}

// pump applies transport events for one session in arrival order.
func (o *Orchestrator) pump(ctx context.Context, id string, handle live.Session, inbox <-chan liveEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-inbox:
			switch ev.kind {
			case eventOpen:
				o.handleOpen(id)
			case eventMessage:
				o.handleMessage(ctx, id, handle, ev.msg)
			case eventClose:
				o.log.Info().Str("session_id", id).Str("reason", ev.reason).Msg("live session closed by remote")
				o.release(id, "remote_closed")
				return
			case eventError:
				code := "transport"
				if te, ok := live.AsTransportError(ev.err); ok {
					code = te.Code
				}
				o.metrics.ProviderErrors.WithLabelValues(o.dialer.Name(), code).Inc()
				o.log.Error().Err(ev.err).Str("session_id", id).Msg("live session failed")
				o.release(id, "transport_error")
				return
			}
		}
	}
}

func (o *Orchestrator) handleOpen(id string) {
	if err := o.sessions.MarkOpen(id); err != nil {
		return
	}
	o.mu.Lock()
	o.openedAt = time.Now()
	o.mu.Unlock()
	o.metrics.SessionEvents.WithLabelValues("open").Inc()
}

func (o *Orchestrator) handleMessage(ctx context.Context, id string, handle live.Session, msg live.Message) {
	_ = o.sessions.Touch(id)

	if len(msg.ToolCalls) > 0 {
		_ = o.sessions.RecordToolCalls(id, len(msg.ToolCalls))
		responses := o.dispatcher.Dispatch(ctx, msg.ToolCalls)
		if err := handle.SendToolResponses(responses); err != nil {
			o.log.Warn().Err(err).Int("responses", len(responses)).Msg("tool responses not sent")
		}
	}

	for _, chunk := range msg.Audio {
		raw, err := audio.Decode(chunk.Data)
		if err != nil {
			o.metrics.AudioDropped.WithLabelValues("decode").Inc()
			o.log.Warn().Err(err).Msg("dropping agent audio chunk")
			continue
		}
		rate := audio.RateFromMIME(chunk.MIMEType, audio.OutputSampleRate)
		o.scheduler.Enqueue(audio.FramesToBuffer(raw, rate, 1))
		o.metrics.AudioChunks.WithLabelValues("in").Inc()
		o.observeFirstAudio()
	}

	if msg.Interrupted {
		o.scheduler.Interrupt()
		_ = o.sessions.Interrupt(id)
		o.metrics.SessionEvents.WithLabelValues("interrupted").Inc()
	}
}

func (o *Orchestrator) observeFirstAudio() {
	o.mu.Lock()
	first := !o.heardAudio && !o.openedAt.IsZero()
	o.heardAudio = true
	opened := o.openedAt
	o.mu.Unlock()
	if first {
		o.metrics.ObserveFirstAudioLatency(time.Since(opened))
	}
}

func (o *Orchestrator) sendAudio(handle live.Session, b audio.Blob) error {
	if err := handle.SendAudio(b); err != nil {
		return err
	}
	o.metrics.AudioChunks.WithLabelValues("out").Inc()
	return nil
}

// release stops everything tied to session id. Only the first call for a
// given session does any work.
func (o *Orchestrator) release(id, reason string) {
	o.mu.Lock()
	if id == "" || o.sessionID != id {
		o.mu.Unlock()
		return
	}
	handle := o.handle
	done := o.done
	cancel := o.cancel
	o.sessionID = ""
	o.handle = nil
	o.done = nil
	o.cancel = nil
	o.openedAt = time.Time{}
	o.mu.Unlock()

	close(done)
	cancel()
	if err := o.capture.Stop(); err != nil {
		o.log.Warn().Err(err).Msg("microphone release failed")
	}
	o.scheduler.Reset()
	if handle != nil {
		_ = handle.Close()
	}
	if _, err := o.sessions.End(id, reason); err != nil && !errors.Is(err, session.ErrNotFound) {
		o.log.Warn().Err(err).Msg("session end failed")
	}
	o.board.SetConnected(false)
	o.metrics.ActiveSessions.Set(0)
	o.metrics.SessionEvents.WithLabelValues(reason).Inc()
	o.log.Info().Str("session_id", id).Str("reason", reason).Msg("live session released")
}

func (o *Orchestrator) playCue(c audio.Cue) {
	if o.cues != nil {
		o.cues.Play(c)
	}
}
