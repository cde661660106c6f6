package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/drivethru/internal/audio"
	"github.com/ent0n29/drivethru/internal/config"
	"github.com/ent0n29/drivethru/internal/httpapi"
	"github.com/ent0n29/drivethru/internal/kiosk"
	"github.com/ent0n29/drivethru/internal/live"
	"github.com/ent0n29/drivethru/internal/observability"
	"github.com/ent0n29/drivethru/internal/order"
	"github.com/ent0n29/drivethru/internal/session"
	"github.com/ent0n29/drivethru/internal/tools"
	"github.com/ent0n29/drivethru/internal/voice"
)

// Backends records which implementation was picked for each pluggable
// concern.
type Backends struct {
	Live     string
	ImageGen string
	Feed     string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Board        *kiosk.Board
	Dispatcher   *tools.Dispatcher
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics
	Backends     Backends

	// Cleanup should be called on shutdown to release the device, the order
	// feed and any in-flight generations.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	catalog := order.NewCatalog(order.DefaultMenu)
	prompt, err := voice.SystemPrompt(catalog.Items(), cfg.SystemPromptFile)
	if err != nil {
		return nil, err
	}

	dialer := resolveDialer(cfg, log)
	generator, genBackend := resolveGenerator(ctx, cfg, log)
	feed, feedBackend := resolveFeed(cfg, log)

	speaker := audio.NewSpeaker(audio.OutputSampleRate, cfg.AudioOutputDevice == "null", log)
	effects := audio.NewEffects(speaker, log)
	capture := audio.NewCapture(resolveSource(cfg, log), audio.CaptureConfig{
		BlockSize: cfg.AudioBlockSize,
		DumpPath:  cfg.AudioCaptureDumpPath,
	}, log)

	board := kiosk.NewBoard(order.NewStore(), catalog, cfg.Kiosk, log)
	dispatcher := tools.NewDispatcher(board, catalog, generator, feed, effects, metrics, tools.Config{
		GenerationTimeout: cfg.GenerationTimeout,
	}, log)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	orchestrator := voice.NewOrchestrator(voice.Deps{
		Sessions:   sessions,
		Dialer:     dialer,
		Board:      board,
		Dispatcher: dispatcher,
		Device:     speaker,
		Capture:    capture,
		Cues:       effects,
		Metrics:    metrics,
		Live: live.Config{
			Model:        cfg.GeminiLiveModel,
			Voice:        cfg.GeminiLiveVoice,
			SystemPrompt: prompt,
			Tools:        tools.Declarations(catalog.Names()),
		},
		Log: log,
	})

	api := httpapi.New(cfg, sessions, orchestrator, board, metrics)

	cleanup := func() error {
		orchestrator.Disconnect()
		dispatcher.Wait()
		speaker.Close()
		var errs []error
		if err := capture.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture: %w", err))
		}
		if err := feed.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close order feed: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Board:        board,
		Dispatcher:   dispatcher,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Backends: Backends{
			Live:     dialer.Name(),
			ImageGen: genBackend,
			Feed:     feedBackend,
		},
		Cleanup: cleanup,
	}, nil
}
