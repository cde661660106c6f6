package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ent0n29/drivethru/internal/audio"
	"github.com/ent0n29/drivethru/internal/config"
	"github.com/ent0n29/drivethru/internal/imagegen"
	"github.com/ent0n29/drivethru/internal/live"
	"github.com/ent0n29/drivethru/internal/orderfeed"
)

func resolveDialer(cfg config.Config, log zerolog.Logger) live.Dialer {
	if cfg.Provider() == "gemini" {
		return live.NewGeminiDialer(live.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			WSURL:  cfg.GeminiLiveWSURL,
		}, log)
	}
	return live.NewMockDialer()
}

// resolveGenerator falls back to a disabled generator so tool calls still
// answer when no API key is configured.
func resolveGenerator(ctx context.Context, cfg config.Config, log zerolog.Logger) (imagegen.Generator, string) {
	if cfg.GeminiAPIKey == "" {
		return imagegen.Disabled{}, "disabled"
	}
	g, err := imagegen.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiIconModel, cfg.GeminiImageModel)
	if err != nil {
		log.Warn().Err(err).Msg("image generation unavailable")
		return imagegen.Disabled{}, "disabled"
	}
	return g, "gemini"
}

func resolveFeed(cfg config.Config, log zerolog.Logger) (orderfeed.Publisher, string) {
	if cfg.NATSURL == "" {
		return orderfeed.NewMemory(256), "memory"
	}
	nf, err := orderfeed.NewNATS(cfg.NATSURL, cfg.NATSSubject, log)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("order feed falling back to memory")
		return orderfeed.NewMemory(256), "memory"
	}
	return nf, "nats"
}

func resolveSource(cfg config.Config, log zerolog.Logger) func() audio.Source {
	if cfg.AudioInputDevice == "silence" {
		return func() audio.Source { return audio.NewSilence(audio.InputSampleRate) }
	}
	return func() audio.Source { return audio.NewMicrophone(audio.InputSampleRate, log) }
}
