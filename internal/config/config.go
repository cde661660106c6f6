package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ent0n29/drivethru/internal/kiosk"
	"github.com/ent0n29/drivethru/internal/live"
)

// Config contains all runtime settings for the drive-thru kiosk.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	// LiveProvider is auto, gemini or mock. auto picks gemini when an API key
	// is present.
	LiveProvider         string
	GeminiAPIKey         string
	GeminiLiveWSURL      string
	GeminiLiveModel      string
	GeminiLiveVoice      string
	GeminiIconModel      string
	GeminiImageModel     string
	SystemPromptFile     string
	GenerationTimeout    time.Duration
	AudioOutputDevice    string
	AudioInputDevice     string
	AudioCaptureDumpPath string
	AudioBlockSize       int

	Kiosk kiosk.Timings

	NATSURL     string
	NATSSubject string
}

// Load reads environment variables and applies safe defaults. A .env file
// (or APP_ENV_FILE) is applied first without overriding the environment.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("APP_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "drivethru"),
		LogLevel:                 envOrDefault("APP_LOG_LEVEL", "info"),
		LiveProvider:             strings.ToLower(envOrDefault("LIVE_PROVIDER", "auto")),
		GeminiAPIKey:             stringsTrimSpace("GEMINI_API_KEY"),
		GeminiLiveWSURL:          stringsTrimSpace("GEMINI_LIVE_WS_URL"),
		GeminiLiveModel:          envOrDefault("GEMINI_LIVE_MODEL", live.DefaultGeminiModel),
		GeminiLiveVoice:          envOrDefault("GEMINI_LIVE_VOICE", live.DefaultVoice),
		GeminiIconModel:          envOrDefault("GEMINI_ICON_MODEL", "gemini-2.5-flash"),
		GeminiImageModel:         envOrDefault("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		SystemPromptFile:         stringsTrimSpace("LIVE_SYSTEM_PROMPT_FILE"),
		AudioOutputDevice:        strings.ToLower(envOrDefault("AUDIO_OUTPUT_DEVICE", "speaker")),
		AudioInputDevice:         strings.ToLower(envOrDefault("AUDIO_INPUT_DEVICE", "microphone")),
		AudioCaptureDumpPath:     stringsTrimSpace("AUDIO_CAPTURE_DUMP_PATH"),
		AudioBlockSize:           4096,
		NATSURL:                  stringsTrimSpace("NATS_URL"),
		NATSSubject:              envOrDefault("NATS_SUBJECT", "drivethru.orders"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		GenerationTimeout:        30 * time.Second,
		Kiosk:                    kiosk.DefaultTimings(),
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"GENERATION_TIMEOUT", &cfg.GenerationTimeout},
		{"KIOSK_EMPTY_WARNING", &cfg.Kiosk.EmptyWarning},
		{"KIOSK_PROCESSING", &cfg.Kiosk.Processing},
		{"KIOSK_AUTHORIZED", &cfg.Kiosk.Authorized},
		{"KIOSK_PICKUP_DELAY", &cfg.Kiosk.PickupDelay},
		{"KIOSK_TEARDOWN", &cfg.Kiosk.Teardown},
		{"KIOSK_CAR_ARRIVAL", &cfg.Kiosk.CarArrival},
		{"KIOSK_LOG_TTL", &cfg.Kiosk.LogTTL},
		{"KIOSK_INGREDIENT_TTL", &cfg.Kiosk.IngredientTTL},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioBlockSize, err = intFromEnv("AUDIO_BLOCK_SIZE", cfg.AudioBlockSize)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Provider resolves LiveProvider to a concrete dialer name.
func (c Config) Provider() string {
	if c.LiveProvider == "auto" {
		if c.GeminiAPIKey != "" {
			return "gemini"
		}
		return "mock"
	}
	return c.LiveProvider
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("APP_LOG_LEVEL: %w", err)
	}
	switch c.LiveProvider {
	case "auto", "mock":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when LIVE_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("LIVE_PROVIDER must be auto, gemini or mock, got %q", c.LiveProvider)
	}
	if c.AudioOutputDevice != "speaker" && c.AudioOutputDevice != "null" {
		return fmt.Errorf("AUDIO_OUTPUT_DEVICE must be speaker or null, got %q", c.AudioOutputDevice)
	}
	if c.AudioInputDevice != "microphone" && c.AudioInputDevice != "silence" {
		return fmt.Errorf("AUDIO_INPUT_DEVICE must be microphone or silence, got %q", c.AudioInputDevice)
	}
	if c.AudioBlockSize <= 0 {
		return fmt.Errorf("AUDIO_BLOCK_SIZE must be positive")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	return nil
}

func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
