package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog"
)

const (
	speakerLatency = 100 * time.Millisecond
	headlessTick   = 10 * time.Millisecond
	// levelGain maps speech RMS onto the 0..1 grill animation range.
	levelGain = 6.0
)

// Speaker is the process-wide output device. It renders two independent
// sinks into one stream: scheduled speech voices on a sample-accurate
// timeline, and free-running effect streamers. The device clock is the
// number of frames rendered so far.
type Speaker struct {
	sampleRate beep.SampleRate
	headless   bool
	log        zerolog.Logger

	openMu sync.Mutex
	opened bool
	stop   chan struct{}

	mu      sync.Mutex
	frame   int64
	voices  []*speakerVoice
	effects []beep.Streamer
	scratch [][2]float64
	level   float64
}

type speakerVoice struct {
	owner   *Speaker
	samples []float32
	start   int64
	stopped bool
	onEnded func()
}

func (v *speakerVoice) Stop() {
	v.owner.mu.Lock()
	v.stopped = true
	v.owner.mu.Unlock()
}

// NewSpeaker returns an unopened device. A headless speaker advances its clock
// in real time without touching any sound hardware.
func NewSpeaker(sampleRate int, headless bool, log zerolog.Logger) *Speaker {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	return &Speaker{
		sampleRate: beep.SampleRate(sampleRate),
		headless:   headless,
		log:        log.With().Str("component", "speaker").Logger(),
	}
}

// Open initialises the device on first use. Later calls are no-ops.
func (s *Speaker) Open() error {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if s.opened {
		return nil
	}
	if s.headless {
		s.stop = make(chan struct{})
		go s.drive(s.stop)
	} else {
		if err := speaker.Init(s.sampleRate, s.sampleRate.N(speakerLatency)); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		speaker.Play(s)
	}
	s.opened = true
	s.log.Info().Int("sample_rate", int(s.sampleRate)).Bool("headless", s.headless).Msg("output device opened")
	return nil
}

func (s *Speaker) Close() {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if !s.opened {
		return
	}
	if s.headless {
		close(s.stop)
	} else {
		speaker.Close()
	}
	s.opened = false
}

func (s *Speaker) SampleRate() int { return int(s.sampleRate) }

// Now reports the device time in seconds.
func (s *Speaker) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.frame) / float64(s.sampleRate)
}

// Level is the smoothed loudness of the speech sink, 0..1.
func (s *Speaker) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Schedule places buf on the speech timeline at device time at.
func (s *Speaker) Schedule(buf *Buffer, at float64, onEnded func()) Voice {
	samples := buf.Mono()
	if buf.SampleRate > 0 && buf.SampleRate != int(s.sampleRate) {
		samples = resample(samples, buf.SampleRate, int(s.sampleRate))
	}
	v := &speakerVoice{
		owner:   s,
		samples: samples,
		start:   int64(math.Round(at * float64(s.sampleRate))),
		onEnded: onEnded,
	}

	s.mu.Lock()
	if v.start < s.frame {
		v.start = s.frame
	}
	s.voices = append(s.voices, v)
	s.mu.Unlock()
	return v
}

// PlayEffect mixes st into the output until it drains. Effects never touch
// the speech timeline.
func (s *Speaker) PlayEffect(st beep.Streamer) {
	s.mu.Lock()
	s.effects = append(s.effects, st)
	s.mu.Unlock()
}

// Stream implements beep.Streamer for the hardware speaker.
func (s *Speaker) Stream(samples [][2]float64) (int, bool) {
	n := len(samples)
	s.mu.Lock()
	for i := range samples {
		samples[i] = [2]float64{}
	}

	var ended []func()
	live := s.voices[:0]
	for _, v := range s.voices {
		if v.stopped {
			continue
		}
		for i := 0; i < n; i++ {
			idx := s.frame + int64(i) - v.start
			if idx < 0 {
				continue
			}
			if idx >= int64(len(v.samples)) {
				break
			}
			x := float64(v.samples[idx])
			samples[i][0] += x
			samples[i][1] += x
		}
		if v.start+int64(len(v.samples)) <= s.frame+int64(n) {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		live = append(live, v)
	}
	for i := len(live); i < len(s.voices); i++ {
		s.voices[i] = nil
	}
	s.voices = live

	s.updateLevelLocked(samples)
	s.mixEffectsLocked(samples)
	s.frame += int64(n)
	s.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
	return n, true
}

func (s *Speaker) Err() error { return nil }

func (s *Speaker) updateLevelLocked(samples [][2]float64) {
	if len(samples) == 0 {
		return
	}
	var energy float64
	for _, smp := range samples {
		energy += smp[0] * smp[0]
	}
	target := math.Min(1, math.Sqrt(energy/float64(len(samples)))*levelGain)
	s.level += (target - s.level) * 0.3
	if s.level < 0.01 {
		s.level = 0
	}
}

func (s *Speaker) mixEffectsLocked(samples [][2]float64) {
	if len(s.effects) == 0 {
		return
	}
	if cap(s.scratch) < len(samples) {
		s.scratch = make([][2]float64, len(samples))
	}
	scratch := s.scratch[:len(samples)]
	live := s.effects[:0]
	for _, e := range s.effects {
		n, ok := e.Stream(scratch)
		for i := 0; i < n; i++ {
			samples[i][0] += scratch[i][0]
			samples[i][1] += scratch[i][1]
		}
		if ok && n == len(samples) {
			live = append(live, e)
		}
	}
	for i := len(live); i < len(s.effects); i++ {
		s.effects[i] = nil
	}
	s.effects = live
}

func (s *Speaker) drive(stop <-chan struct{}) {
	ticker := time.NewTicker(headlessTick)
	defer ticker.Stop()
	buf := make([][2]float64, s.sampleRate.N(headlessTick))
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Stream(buf)
		}
	}
}

// planeStreamer exposes a mono plane as a beep stream.
type planeStreamer struct {
	samples []float32
	pos     int
}

func (p *planeStreamer) Stream(out [][2]float64) (int, bool) {
	if p.pos >= len(p.samples) {
		return 0, false
	}
	n := 0
	for n < len(out) && p.pos < len(p.samples) {
		x := float64(p.samples[p.pos])
		out[n] = [2]float64{x, x}
		n++
		p.pos++
	}
	return n, true
}

func (p *planeStreamer) Err() error { return nil }

func resample(samples []float32, from, to int) []float32 {
	r := beep.Resample(4, beep.SampleRate(from), beep.SampleRate(to), &planeStreamer{samples: samples})
	out := make([]float32, 0, len(samples)*to/from+1)
	chunk := make([][2]float64, 512)
	for {
		n, ok := r.Stream(chunk)
		for i := 0; i < n; i++ {
			out = append(out, float32(chunk[i][0]))
		}
		if !ok || n == 0 {
			return out
		}
	}
}
