package audio

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func TestSpeakerPlaysVoiceAtScheduledFrame(t *testing.T) {
	s := NewSpeaker(1000, true, zerolog.Nop())
	buf := &Buffer{SampleRate: 1000, Channels: [][]float32{{0.5, 0.5, 0.5, 0.5}}}

	ended := 0
	s.Schedule(buf, 0.002, func() { ended++ })

	out := make([][2]float64, 4)
	s.Stream(out)
	if out[0][0] != 0 || out[1][0] != 0 || out[2][0] != 0.5 || out[3][0] != 0.5 {
		t.Fatalf("first block = %v, want silence then voice from frame 2", out)
	}
	if ended != 0 {
		t.Fatalf("voice ended early")
	}

	s.Stream(out)
	if out[0][0] != 0.5 || out[2][0] != 0 {
		t.Fatalf("second block = %v, want tail then silence", out)
	}
	if ended != 1 {
		t.Fatalf("ended callbacks = %d, want 1", ended)
	}
	if got := s.Now(); math.Abs(got-0.008) > 1e-9 {
		t.Fatalf("Now() = %v, want 0.008", got)
	}
}

func TestSpeakerStoppedVoiceIsSilentAndNeverEnds(t *testing.T) {
	s := NewSpeaker(1000, true, zerolog.Nop())
	buf := &Buffer{SampleRate: 1000, Channels: [][]float32{{1, 1, 1, 1}}}
	ended := false
	v := s.Schedule(buf, 0, func() { ended = true })
	v.Stop()

	out := make([][2]float64, 8)
	s.Stream(out)
	for i, smp := range out {
		if smp[0] != 0 {
			t.Fatalf("frame %d = %v, want silence", i, smp)
		}
	}
	if ended {
		t.Fatalf("stopped voice reported natural end")
	}
}

func TestSpeakerNeverSchedulesInThePast(t *testing.T) {
	s := NewSpeaker(1000, true, zerolog.Nop())
	s.Stream(make([][2]float64, 10))

	buf := &Buffer{SampleRate: 1000, Channels: [][]float32{{0.25}}}
	s.Schedule(buf, 0.001, nil)

	out := make([][2]float64, 2)
	s.Stream(out)
	if out[0][0] != 0.25 {
		t.Fatalf("late voice = %v, want it clamped to the current frame", out)
	}
}

func TestSpeakerMixesEffectsIndependently(t *testing.T) {
	s := NewSpeaker(8000, true, zerolog.Nop())
	NewEffects(s, zerolog.Nop()).Play(CueItemAdded)
	if len(s.effects) != 1 {
		t.Fatalf("effects = %d, want 1", len(s.effects))
	}

	out := make([][2]float64, 8000)
	s.Stream(out)
	if len(s.effects) != 0 {
		t.Fatalf("effect still active after its duration")
	}
	if s.Level() != 0 {
		t.Fatalf("Level() = %v, want 0 for effects-only output", s.Level())
	}
}
