package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// Microphone captures mono float32 input from the default device.
type Microphone struct {
	sampleRate int
	log        zerolog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func NewMicrophone(sampleRate int, log zerolog.Logger) *Microphone {
	if sampleRate <= 0 {
		sampleRate = InputSampleRate
	}
	return &Microphone{
		sampleRate: sampleRate,
		log:        log.With().Str("component", "microphone").Logger(),
	}
}

func (m *Microphone) Start(onSamples func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		m.log.Debug().Msg(strings.TrimSpace(msg))
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			onSamples(float32LE(in))
		},
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("open capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}
	m.ctx = ctx
	m.device = device
	return nil
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}
	m.device.Uninit()
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.device = nil
	m.ctx = nil
	return err
}

func float32LE(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// Silence is a Source for hosts without an input device. It emits zeros at
// real-time rate.
type Silence struct {
	sampleRate int

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewSilence(sampleRate int) *Silence {
	if sampleRate <= 0 {
		sampleRate = InputSampleRate
	}
	return &Silence{sampleRate: sampleRate}
}

func (s *Silence) Start(onSamples func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	period := 100 * time.Millisecond
	frames := s.sampleRate / 10
	stop := s.stop
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				onSamples(make([]float32, frames))
			}
		}
	}()
	return nil
}

func (s *Silence) Close() error {
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stop)
	s.stop = nil
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
