package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/drivethru/internal/audio"
	"github.com/ent0n29/drivethru/internal/kiosk"
	"github.com/ent0n29/drivethru/internal/live"
	"github.com/ent0n29/drivethru/internal/observability"
	"github.com/ent0n29/drivethru/internal/order"
	"github.com/ent0n29/drivethru/internal/orderfeed"
	"github.com/ent0n29/drivethru/internal/session"
	"github.com/ent0n29/drivethru/internal/tools"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

type fakeVoice struct {
	dev *fakeDevice
}

func (v *fakeVoice) Stop() {
	v.dev.mu.Lock()
	v.dev.stopped++
	v.dev.mu.Unlock()
}

type fakeDevice struct {
	mu        sync.Mutex
	now       float64
	starts    []float64
	durations []float64
	stopped   int
	opened    int
}

func (d *fakeDevice) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *fakeDevice) Schedule(buf *audio.Buffer, at float64, _ func()) audio.Voice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts = append(d.starts, at)
	d.durations = append(d.durations, buf.Duration())
	return &fakeVoice{dev: d}
}

func (d *fakeDevice) Open() error {
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Level() float64 { return 0 }

func (d *fakeDevice) snapshot() ([]float64, []float64, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.starts...), append([]float64(nil), d.durations...), d.stopped
}

type fakeSource struct {
	err error

	mu     sync.Mutex
	closed int
}

func (s *fakeSource) Start(func([]float32)) error { return s.err }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

type cueLog struct {
	mu   sync.Mutex
	cues []audio.Cue
}

func (c *cueLog) Play(cue audio.Cue) {
	c.mu.Lock()
	c.cues = append(c.cues, cue)
	c.mu.Unlock()
}

type fixture struct {
	o        *Orchestrator
	dialer   *live.MockDialer
	device   *fakeDevice
	source   *fakeSource
	capture  *audio.Capture
	board    *kiosk.Board
	sessions *session.Manager
	metrics  *observability.Metrics
}

func newFixture(t *testing.T, timings kiosk.Timings) *fixture {
	t.Helper()
	dialer := &live.MockDialer{}
	f := newFixtureWithDialer(t, timings, dialer)
	f.dialer = dialer
	return f
}

func newFixtureWithDialer(t *testing.T, timings kiosk.Timings, dialer live.Dialer) *fixture {
	t.Helper()
	log := zerolog.Nop()
	catalog := order.NewCatalog(order.DefaultMenu)
	board := kiosk.NewBoard(order.NewStore(), catalog, timings, log)
	metrics := observability.NewMetrics(fmt.Sprintf("drivethru_voice_test_%d", time.Now().UnixNano()))
	cues := &cueLog{}
	dispatcher := tools.NewDispatcher(board, catalog, nil, orderfeed.NewMemory(0), cues, metrics, tools.Config{}, log)
	source := &fakeSource{}
	capture := audio.NewCapture(func() audio.Source { return source }, audio.CaptureConfig{}, log)
	device := &fakeDevice{now: 1}
	sessions := session.NewManager(time.Minute)

	o := NewOrchestrator(Deps{
		Sessions:   sessions,
		Dialer:     dialer,
		Board:      board,
		Dispatcher: dispatcher,
		Device:     device,
		Capture:    capture,
		Cues:       cues,
		Metrics:    metrics,
		Live:       live.Config{Voice: "Kore", Tools: tools.Declarations(catalog.Names())},
		Log:        log,
	})
	t.Cleanup(o.Disconnect)
	return &fixture{o: o, device: device, source: source, capture: capture, board: board, sessions: sessions, metrics: metrics}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func pcmChunk(frames int) live.AudioChunk {
	return live.AudioChunk{
		Data:     base64.StdEncoding.EncodeToString(make([]byte, frames*2)),
		MIMEType: "audio/pcm;rate=24000",
	}
}

func TestConnectOpensSessionOnce(t *testing.T) {
	f := newFixture(t, kiosk.DefaultTimings())
	s, err := f.o.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "session open", func() bool {
		cur, _ := f.sessions.Current()
		return cur.Status == session.StatusOpen
	})

	again, err := f.o.Connect(context.Background())
	if err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if again.ID != s.ID || f.dialer.Dials() != 1 {
		t.Fatalf("second Connect dialed again: id %s vs %s, dials=%d", again.ID, s.ID, f.dialer.Dials())
	}

	mock := f.dialer.Last()
	if texts := mock.Texts(); len(texts) != 1 || texts[0] != StartConversationText {
		t.Fatalf("texts = %v, want [%s]", texts, StartConversationText)
	}
	if !f.capture.Running() || f.capture.Muted() {
		t.Fatalf("capture running=%v muted=%v", f.capture.Running(), f.capture.Muted())
	}
	if !f.board.Snapshot().Connected {
		t.Fatalf("board not connected")
	}
	if len(mock.Config().Tools) != 7 {
		t.Fatalf("session config carries %d tools, want 7", len(mock.Config().Tools))
	}
}

func TestToolCallsAreAnsweredInOneBatch(t *testing.T) {
	f := newFixture(t, kiosk.DefaultTimings())
	if _, err := f.o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	mock := f.dialer.Last()
	mock.Emit(live.Message{ToolCalls: []*genai.FunctionCall{
		{ID: "a", Name: tools.AddToOrder, Args: map[string]any{"itemName": "burger"}},
		{ID: "b", Name: tools.AddToOrder, Args: map[string]any{"itemName": "COMBO 5 MIX"}},
	}})

	waitFor(t, "tool responses", func() bool { return len(mock.ToolResponses()) == 1 })
	batch := mock.ToolResponses()[0]
	if len(batch) != 2 || batch[0].ID != "a" || batch[1].ID != "b" {
		t.Fatalf("batch = %+v", batch)
	}
	if got := f.board.Store().Total(); got != order.Dollars(90) {
		t.Fatalf("Total() = %v, want $90.00", got)
	}
}

func TestAgentAudioIsScheduledBackToBack(t *testing.T) {
	f := newFixture(t, kiosk.DefaultTimings())
	if _, err := f.o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	mock := f.dialer.Last()
	mock.Emit(live.Message{Audio: []live.AudioChunk{
		pcmChunk(2400),
		{Data: "%%%not-base64%%%"},
		pcmChunk(1200),
	}})

	waitFor(t, "two scheduled chunks", func() bool {
		starts, _, _ := f.device.snapshot()
		return len(starts) == 2
	})
	starts, durations, _ := f.device.snapshot()
	if starts[0] != 1 {
		t.Fatalf("first start = %v, want device time 1", starts[0])
	}
	if starts[1] != starts[0]+durations[0] {
		t.Fatalf("second start = %v, want %v", starts[1], starts[0]+durations[0])
	}

	mock.Emit(live.Message{Interrupted: true})
	waitFor(t, "interrupt", func() bool { return f.o.Scheduler().InFlight() == 0 })
	if _, _, stopped := f.device.snapshot(); stopped != 2 {
		t.Fatalf("stopped = %d, want 2", stopped)
	}
	cur, _ := f.sessions.Current()
	if cur.InterruptionCount != 1 {
		t.Fatalf("InterruptionCount = %d, want 1", cur.InterruptionCount)
	}
}

func TestMicrophoneRefusalAbortsConnect(t *testing.T) {
	f := newFixture(t, kiosk.DefaultTimings())
	f.source.err = errors.New("permission dismissed")

	_, err := f.o.Connect(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Connect() error = %v, want ErrPermissionDenied", err)
	}
	if f.sessions.Active() {
		t.Fatalf("session still active after refusal")
	}
	if !f.dialer.Last().Closed() {
		t.Fatalf("live session not closed after refusal")
	}
	cur, _ := f.sessions.Current()
	if cur.EndReason != "permission_denied" {
		t.Fatalf("EndReason = %q", cur.EndReason)
	}
}

func TestDialFailureIsTransportError(t *testing.T) {
	f := newFixture(t, kiosk.DefaultTimings())
	f.dialer.FailNextDial(errors.New("connection refused"))

	if _, err := f.o.Connect(context.Background()); !errors.Is(err, live.ErrTransport) {
		t.Fatalf("Connect() error = %v, want ErrTransport", err)
	}
	if f.sessions.Active() {
		t.Fatalf("session active after failed dial")
	}
	if _, err := f.o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() after failure error = %v", err)
	}
}

// droppingDialer opens a session whose transport fails before Dial returns.
// SendText holds the opener until the failure has been processed.
type droppingDialer struct {
	sessions *session.Manager
}

func (d *droppingDialer) Name() string { return "dropping" }

func (d *droppingDialer) Dial(_ context.Context, _ live.Config, cb live.Callbacks) (live.Session, error) {
	cb.OnOpen()
	cb.OnError(fmt.Errorf("%w: abnormal closure", live.ErrTransport))
	return &droppedSession{sessions: d.sessions}, nil
}

type droppedSession struct {
	sessions *session.Manager
}

func (s *droppedSession) SendAudio(audio.Blob) error { return live.ErrClosed }

func (s *droppedSession) SendText(string, bool) error {
	deadline := time.Now().Add(2 * time.Second)
	for s.sessions.Active() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return live.ErrClosed
}

func (s *droppedSession) SendToolResponses([]*genai.FunctionResponse) error { return live.ErrClosed }
func (s *droppedSession) Close() error                                      { return nil }

func TestTransportFailureDuringConnectIsReported(t *testing.T) {
	dialer := &droppingDialer{}
	f := newFixtureWithDialer(t, kiosk.DefaultTimings(), dialer)
	dialer.sessions = f.sessions

	sess, err := f.o.Connect(context.Background())
	if !errors.Is(err, live.ErrTransport) {
		t.Fatalf("Connect() = %v, %v, want ErrTransport", sess, err)
	}
	if f.sessions.Active() {
		t.Fatalf("session still active after transport failure")
	}
	cur, _ := f.sessions.Current()
	if cur.EndReason != "transport_error" {
		t.Fatalf("EndReason = %q, want transport_error", cur.EndReason)
	}
	if f.board.Snapshot().Connected {
		t.Fatalf("board reports connected after transport failure")
	}
	if got := testutil.ToFloat64(f.metrics.ActiveSessions); got != 0 {
		t.Fatalf("ActiveSessions = %v, want 0", got)
	}
	waitFor(t, "capture stop", func() bool { return !f.capture.Running() })
}

func TestRemoteCloseAndErrorRelease(t *testing.T) {
	for _, tc := range []struct {
		name   string
		end    func(*live.MockSession)
		reason string
	}{
		{"close", func(s *live.MockSession) { s.RemoteClose("bye") }, "remote_closed"},
		{"error", func(s *live.MockSession) { s.Fail(live.ErrTransport) }, "transport_error"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, kiosk.DefaultTimings())
			if _, err := f.o.Connect(context.Background()); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			tc.end(f.dialer.Last())
			waitFor(t, "release", func() bool { return !f.sessions.Active() })
			cur, _ := f.sessions.Current()
			if cur.EndReason != tc.reason {
				t.Fatalf("EndReason = %q, want %q", cur.EndReason, tc.reason)
			}
			waitFor(t, "capture stop", func() bool { return !f.capture.Running() })
			if f.o.Scheduler().NextStartTime() != 0 {
				t.Fatalf("playback clock not reset")
			}
		})
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t, kiosk.DefaultTimings())
	f.o.Disconnect()
	if _, err := f.o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	f.o.Disconnect()
	f.o.Disconnect()
	if f.sessions.Active() || f.capture.Running() {
		t.Fatalf("still active after Disconnect")
	}
	if !f.dialer.Last().Closed() {
		t.Fatalf("live session not closed")
	}
	if f.board.Snapshot().Connected {
		t.Fatalf("board still connected")
	}
}

func TestToggle(t *testing.T) {
	f := newFixture(t, kiosk.DefaultTimings())
	if _, err := f.o.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if !f.sessions.Active() {
		t.Fatalf("Toggle did not connect")
	}
	if _, err := f.o.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if f.sessions.Active() {
		t.Fatalf("Toggle did not disconnect")
	}
}

func TestCheckoutMutesThenTearsDown(t *testing.T) {
	timings := kiosk.Timings{
		EmptyWarning:  10 * time.Millisecond,
		Processing:    10 * time.Millisecond,
		Authorized:    10 * time.Millisecond,
		PickupDelay:   10 * time.Millisecond,
		Teardown:      80 * time.Millisecond,
		CarArrival:    10 * time.Millisecond,
		LogTTL:        time.Second,
		IngredientTTL: time.Second,
	}
	f := newFixture(t, timings)
	if _, err := f.o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	f.dialer.Last().Emit(live.Message{ToolCalls: []*genai.FunctionCall{
		{ID: "a", Name: tools.AddToOrder, Args: map[string]any{"itemName": "BURGER"}},
		{ID: "f", Name: tools.FinishOrder},
	}})

	waitFor(t, "mute", f.capture.Muted)
	if !f.sessions.Active() {
		t.Fatalf("session ended before teardown delay")
	}
	waitFor(t, "teardown", func() bool { return !f.sessions.Active() })
	cur, _ := f.sessions.Current()
	if cur.EndReason != "checkout_complete" {
		t.Fatalf("EndReason = %q, want checkout_complete", cur.EndReason)
	}
	if snap := f.board.Snapshot(); snap.Scene != kiosk.ScenePickup || snap.Display != kiosk.StatusPullAround {
		t.Fatalf("board after checkout = %s/%q", snap.Scene, snap.Display)
	}
}

func TestReconnectResetsBoard(t *testing.T) {
	f := newFixture(t, kiosk.DefaultTimings())
	if _, err := f.o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	f.board.Store().Add("BURGER", order.Dollars(15), nil)
	f.board.RevealSecretMenu()
	f.o.Disconnect()

	if f.board.Store().Len() != 1 {
		t.Fatalf("order cleared on disconnect")
	}
	if _, err := f.o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if f.board.Store().Len() != 0 || f.board.SecretMenuOpen() {
		t.Fatalf("board not reset on new session")
	}
}
