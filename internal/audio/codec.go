package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// InputSampleRate is the microphone rate expected by the live agent.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of synthesized speech chunks.
	OutputSampleRate = 24000

	// InputMIMEType tags every outbound microphone blob.
	InputMIMEType = "audio/pcm;rate=16000"
)

var ErrDecode = errors.New("malformed audio chunk")

// Blob is a wire-ready audio payload: base64 PCM16LE plus its MIME descriptor.
type Blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Buffer holds de-interleaved float samples ready for playback.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Mono averages all channels into a single plane.
func (b *Buffer) Mono() []float32 {
	if b == nil || len(b.Channels) == 0 {
		return nil
	}
	if len(b.Channels) == 1 {
		return b.Channels[0]
	}
	out := make([]float32, b.Frames())
	scale := 1 / float32(len(b.Channels))
	for _, plane := range b.Channels {
		for i, v := range plane {
			out[i] += v * scale
		}
	}
	return out
}

// Encode converts float samples to a base64 PCM16LE blob at 16 kHz mono.
// Samples outside [-1, 1) wrap around on the int16 conversion.
func Encode(samples []float32) Blob {
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(PCM16(samples)),
		MIMEType: InputMIMEType,
	}
}

// PCM16 packs float samples as 16-bit signed little-endian integers. Values
// are truncated, not clamped: +1.0 wraps to -32768.
func PCM16(samples []float32) []byte {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(s * 32768))
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
	}
	return raw
}

// Decode reverses the base64 transport encoding.
func Decode(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return raw, nil
}

// FramesToBuffer reinterprets PCM16LE bytes as a playable buffer. A partial
// trailing frame is dropped.
func FramesToBuffer(data []byte, sampleRate, channels int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	frames := len(data) / 2 / channels
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		plane := make([]float32, frames)
		for i := 0; i < frames; i++ {
			off := (i*channels + ch) * 2
			plane[i] = float32(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768
		}
		buf.Channels[ch] = plane
	}
	return buf
}

// RateFromMIME extracts the rate parameter from "audio/pcm;rate=24000".
func RateFromMIME(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
