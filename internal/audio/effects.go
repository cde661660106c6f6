package audio

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
	"github.com/rs/zerolog"
)

// Wave selects the oscillator shape of a beep.
type Wave int

const (
	WaveSine Wave = iota
	WaveSquare
	WaveSawtooth
)

// Cue names a UI feedback sound.
type Cue string

const (
	CueSessionStart      Cue = "session_start"
	CueItemAdded         Cue = "item_added"
	CueItemRemoved       Cue = "item_removed"
	CueSecretMenu        Cue = "secret_menu"
	CueCustomBurger      Cue = "custom_burger"
	CueEmptyOrder        Cue = "empty_order"
	CueCheckout          Cue = "checkout"
	CuePaymentAuthorized Cue = "payment_authorized"
)

// EffectSink accepts free-running streamers mixed at the device.
type EffectSink interface {
	PlayEffect(st beep.Streamer)
	SampleRate() int
}

// Effects synthesises short tones and noise bursts for kiosk feedback.
type Effects struct {
	sink EffectSink
	log  zerolog.Logger
}

func NewEffects(sink EffectSink, log zerolog.Logger) *Effects {
	return &Effects{sink: sink, log: log.With().Str("component", "effects").Logger()}
}

// Play emits the sound for a cue.
func (e *Effects) Play(c Cue) {
	switch c {
	case CueSessionStart:
		e.Static()
	case CueItemAdded:
		e.Beep(550, WaveSawtooth, 80*time.Millisecond)
	case CueItemRemoved:
		e.Beep(250, WaveSawtooth, 200*time.Millisecond)
	case CueSecretMenu:
		// mechanical board flip
		e.BeepAfter(0, 200, WaveSquare, 50*time.Millisecond)
		e.BeepAfter(100*time.Millisecond, 250, WaveSquare, 50*time.Millisecond)
		e.BeepAfter(200*time.Millisecond, 150, WaveSquare, 50*time.Millisecond)
	case CueCustomBurger:
		e.Beep(300, WaveSquare, 150*time.Millisecond)
		e.Beep(600, WaveSquare, 150*time.Millisecond)
	case CueEmptyOrder:
		e.Beep(150, WaveSawtooth, 300*time.Millisecond)
	case CueCheckout:
		e.Beep(900, WaveSquare, 200*time.Millisecond)
	case CuePaymentAuthorized:
		e.Beep(1200, WaveSine, 100*time.Millisecond)
		e.Beep(1200, WaveSine, 100*time.Millisecond)
	default:
		e.log.Debug().Str("cue", string(c)).Msg("unknown cue")
	}
}

// Beep plays a tone with an exponential decay from 0.1 to 0.01 gain.
func (e *Effects) Beep(freq float64, wave Wave, d time.Duration) {
	e.BeepAfter(0, freq, wave, d)
}

// BeepAfter plays a beep preceded by delay of silence.
func (e *Effects) BeepAfter(delay time.Duration, freq float64, wave Wave, d time.Duration) {
	if e == nil || e.sink == nil {
		return
	}
	sr := beep.SampleRate(e.sink.SampleRate())
	tone, err := oscillator(wave, sr, freq)
	if err != nil {
		e.log.Warn().Err(err).Float64("freq", freq).Msg("tone generator rejected frequency")
		return
	}
	n := sr.N(d)
	var st beep.Streamer = &decay{s: beep.Take(n, tone), total: n, from: 0.1, to: 0.01}
	if delay > 0 {
		st = beep.Seq(beep.Silence(sr.N(delay)), st)
	}
	e.sink.PlayEffect(st)
}

// Static plays a 300ms band-passed noise burst.
func (e *Effects) Static() {
	if e == nil || e.sink == nil {
		return
	}
	sr := beep.SampleRate(e.sink.SampleRate())
	n := sr.N(300 * time.Millisecond)
	bp := newBandpass(1000, 1, float64(sr))
	noise := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			x := bp.process(rand.Float64()*2 - 1)
			samples[i] = [2]float64{x, x}
		}
		return len(samples), true
	})
	e.sink.PlayEffect(&decay{s: beep.Take(n, noise), total: n, from: 0.05, to: 0.01})
}

func oscillator(wave Wave, sr beep.SampleRate, freq float64) (beep.Streamer, error) {
	switch wave {
	case WaveSquare:
		return generators.SquareTone(sr, freq)
	case WaveSawtooth:
		return generators.SawtoothTone(sr, freq)
	default:
		return generators.SineTone(sr, freq)
	}
}

// decay applies an exponential gain ramp over total frames.
type decay struct {
	s     beep.Streamer
	total int
	pos   int
	from  float64
	to    float64
}

func (d *decay) Stream(samples [][2]float64) (int, bool) {
	n, ok := d.s.Stream(samples)
	for i := 0; i < n; i++ {
		t := float64(d.pos) / float64(d.total)
		g := d.from * math.Pow(d.to/d.from, t)
		samples[i][0] *= g
		samples[i][1] *= g
		d.pos++
	}
	return n, ok
}

func (d *decay) Err() error { return d.s.Err() }

// bandpass is an RBJ constant-peak biquad.
type bandpass struct {
	b0, b2, a1, a2 float64
	x1, x2, y1, y2 float64
}

func newBandpass(freq, q, sampleRate float64) *bandpass {
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha
	return &bandpass{
		b0: alpha / a0,
		b2: -alpha / a0,
		a1: -2 * math.Cos(w0) / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *bandpass) process(x float64) float64 {
	y := f.b0*x + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}
