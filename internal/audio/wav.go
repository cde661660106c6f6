package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM16.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WriteWAV writes mono PCM16LE bytes to out as a WAV stream.
func WriteWAV(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = InputSampleRate
	}
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// captureTap keeps a copy of every block sent upstream so a session can be
// replayed offline.
type captureTap struct {
	path string

	mu  sync.Mutex
	pcm []byte
}

func (t *captureTap) add(samples []float32) {
	t.mu.Lock()
	t.pcm = append(t.pcm, PCM16(samples)...)
	t.mu.Unlock()
}

func (t *captureTap) flush() error {
	t.mu.Lock()
	pcm := t.pcm
	t.pcm = nil
	t.mu.Unlock()
	if len(pcm) == 0 {
		return nil
	}

	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("create capture dump: %w", err)
	}
	defer f.Close()
	return WriteWAV(f, pcm, InputSampleRate)
}
