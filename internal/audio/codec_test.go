package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 0.25, -1, 0.999, -0.123456, 1.0 / 32768, 0.7071}
	blob := Encode(samples)
	if blob.MIMEType != InputMIMEType {
		t.Fatalf("MIMEType = %q, want %q", blob.MIMEType, InputMIMEType)
	}

	raw, err := Decode(blob.Data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(raw) != len(samples)*2 {
		t.Fatalf("decoded bytes = %d, want %d", len(raw), len(samples)*2)
	}

	buf := FramesToBuffer(raw, InputSampleRate, 1)
	if buf.Frames() != len(samples) {
		t.Fatalf("Frames() = %d, want %d", buf.Frames(), len(samples))
	}
	for i, want := range samples {
		got := buf.Channels[0][i]
		if math.Abs(float64(got-want)) > 1.0/32768 {
			t.Fatalf("sample %d = %v, want %v within 1/32768", i, got, want)
		}
	}
}

func TestPCM16TruncatesWithoutClamping(t *testing.T) {
	cases := []struct {
		in   float32
		want int16
	}{
		{0.5, 16384},
		{-1, -32768},
		{0.99999, 32767},
		{1, -32768},
	}
	for _, tc := range cases {
		raw := PCM16([]float32{tc.in})
		if got := int16(binary.LittleEndian.Uint16(raw)); got != tc.want {
			t.Fatalf("PCM16(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDecodeRejectsMalformedBase64(t *testing.T) {
	_, err := Decode("not base64 !!")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Decode() error = %v, want ErrDecode", err)
	}
}

func TestFramesToBufferDeinterleavesAndTruncates(t *testing.T) {
	// Two stereo frames plus one dangling sample.
	raw := PCM16([]float32{0.5, -0.5, 0.25, -0.25, 0.75})
	buf := FramesToBuffer(raw, OutputSampleRate, 2)
	if buf.Frames() != 2 {
		t.Fatalf("Frames() = %d, want 2", buf.Frames())
	}
	if buf.Channels[0][1] != 0.25 || buf.Channels[1][1] != -0.25 {
		t.Fatalf("frame 1 = (%v, %v), want (0.25, -0.25)", buf.Channels[0][1], buf.Channels[1][1])
	}
	if got, want := buf.Duration(), 2.0/OutputSampleRate; got != want {
		t.Fatalf("Duration() = %v, want %v", got, want)
	}
}

func TestRateFromMIME(t *testing.T) {
	cases := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm; rate=16000", 16000},
		{"audio/pcm", 24000},
		{"audio/pcm;rate=abc", 24000},
		{"", 24000},
	}
	for _, tc := range cases {
		if got := RateFromMIME(tc.mime, 24000); got != tc.want {
			t.Fatalf("RateFromMIME(%q) = %d, want %d", tc.mime, got, tc.want)
		}
	}
}
