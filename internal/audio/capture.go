package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultBlockSize is the number of mono samples per outbound blob.
const DefaultBlockSize = 4096

var ErrPermissionDenied = errors.New("microphone access denied")

// Source produces raw float samples from an input device. onSamples may be
// called on a device thread and must not block.
type Source interface {
	Start(onSamples func([]float32)) error
	Close() error
}

type CaptureConfig struct {
	BlockSize int
	QueueSize int
	// DumpPath, when set, receives a WAV copy of everything sent upstream.
	DumpPath string
}

// Capture frames microphone input into fixed blocks, encodes them and hands
// them to the session in capture order.
type Capture struct {
	newSource func() Source
	cfg       CaptureConfig
	log       zerolog.Logger
	onDrop    func(reason string)

	muted atomic.Bool

	mu      sync.Mutex
	running bool
	src     Source
	pending []float32
	queue   chan Blob
	done    chan struct{}
	tap     *captureTap
}

func NewCapture(newSource func() Source, cfg CaptureConfig, log zerolog.Logger) *Capture {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Capture{
		newSource: newSource,
		cfg:       cfg,
		log:       log.With().Str("component", "capture").Logger(),
	}
}

// SetDropHook registers a callback for every block that never reaches the
// session ("muted" or "queue_full").
func (c *Capture) SetDropHook(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDrop = fn
}

// Start acquires the microphone and begins forwarding blocks to send. It is
// a no-op while already running.
func (c *Capture) Start(send func(Blob) error) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	src := c.newSource()
	queue := make(chan Blob, c.cfg.QueueSize)
	done := make(chan struct{})
	c.running = true
	c.src = src
	c.pending = make([]float32, 0, c.cfg.BlockSize*2)
	c.queue = queue
	c.done = done
	if c.cfg.DumpPath != "" {
		c.tap = &captureTap{path: c.cfg.DumpPath}
	}
	c.mu.Unlock()

	go func() {
		defer close(done)
		for blob := range queue {
			if err := send(blob); err != nil {
				c.log.Debug().Err(err).Msg("audio block not sent")
			}
		}
	}()

	if err := src.Start(c.onSamples); err != nil {
		_ = c.Stop()
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	c.log.Info().Int("block_size", c.cfg.BlockSize).Msg("microphone capture started")
	return nil
}

// Stop releases the device and drains queued blocks. Safe to call repeatedly.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	src := c.src
	done := c.done
	tap := c.tap
	c.src = nil
	c.tap = nil
	c.pending = nil
	close(c.queue)
	c.mu.Unlock()

	err := src.Close()
	<-done
	if tap != nil {
		if dumpErr := tap.flush(); dumpErr != nil {
			c.log.Warn().Err(dumpErr).Str("path", tap.path).Msg("capture dump failed")
		}
	}
	c.log.Info().Msg("microphone capture stopped")
	return err
}

// Mute drops blocks without tearing down the device, so Unmute is instant.
func (c *Capture) Mute()   { c.muted.Store(true) }
func (c *Capture) Unmute() { c.muted.Store(false) }

func (c *Capture) Muted() bool { return c.muted.Load() }

func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Capture) onSamples(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.pending = append(c.pending, samples...)
	bs := c.cfg.BlockSize
	for len(c.pending) >= bs {
		block := make([]float32, bs)
		copy(block, c.pending[:bs])
		c.pending = append(c.pending[:0], c.pending[bs:]...)

		if c.muted.Load() {
			c.dropLocked("muted")
			continue
		}
		if c.tap != nil {
			c.tap.add(block)
		}
		select {
		case c.queue <- Encode(block):
		default:
			c.dropLocked("queue_full")
		}
	}
}

func (c *Capture) dropLocked(reason string) {
	if c.onDrop != nil {
		c.onDrop(reason)
	}
}
