package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects how the gateway talks to the AI backend.
type Mode string

const (
	// ModeTurns drives the call through speech-recognition webhooks and the
	// deterministic intake flow, one utterance per HTTP round trip.
	ModeTurns Mode = "turns"
	// ModeRealtime bridges a bidirectional telephony audio stream to the
	// AI backend's realtime session protocol.
	ModeRealtime Mode = "realtime"
)

type Config struct {
	Addr string

	// PublicBaseURL is the externally reachable base URL the telephony
	// provider uses for webhook callbacks and the media stream endpoint.
	PublicBaseURL string

	Mode Mode

	// AI backend (realtime session protocol).
	OpenAIAPIKey    string
	RealtimeBaseURL string
	RealtimeModel   string
	RealtimeVoice   string
	// Silence the backend waits for before treating the caller's turn as done.
	TurnSilence time.Duration

	// Persistence. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string

	// Session lifecycle.
	IdleSweepInterval time.Duration
	IdleTimeout       time.Duration

	// Relay websocket limits.
	StreamMaxMessageBytes int64
	StreamWriteTimeout    time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("HVAC_ADDR", ":3000"),
		PublicBaseURL:         strings.TrimRight(envOr("HVAC_PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		Mode:                  Mode(envOr("HVAC_MODE", string(ModeTurns))),
		OpenAIAPIKey:          strings.TrimSpace(os.Getenv("HVAC_OPENAI_API_KEY")),
		RealtimeBaseURL:       envOr("HVAC_REALTIME_BASE_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:         envOr("HVAC_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeVoice:         envOr("HVAC_REALTIME_VOICE", "alloy"),
		TurnSilence:           envDurationOr("HVAC_TURN_SILENCE", 700*time.Millisecond),
		DatabaseURL:           strings.TrimSpace(os.Getenv("HVAC_DATABASE_URL")),
		IdleSweepInterval:     envDurationOr("HVAC_IDLE_SWEEP_INTERVAL", 5*time.Minute),
		IdleTimeout:           envDurationOr("HVAC_IDLE_TIMEOUT", 15*time.Minute),
		StreamMaxMessageBytes: envInt64Or("HVAC_STREAM_MAX_MESSAGE_BYTES", 64*1024),
		StreamWriteTimeout:    envDurationOr("HVAC_STREAM_WRITE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:     envDurationOr("HVAC_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDurationOr("HVAC_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:   envDurationOr("HVAC_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.Mode {
	case ModeTurns, ModeRealtime:
	default:
		return Config{}, fmt.Errorf("HVAC_MODE must be one of turns|realtime")
	}
	if cfg.Mode == ModeRealtime && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("HVAC_OPENAI_API_KEY must be set when HVAC_MODE=realtime")
	}
	if cfg.PublicBaseURL == "" {
		return Config{}, fmt.Errorf("HVAC_PUBLIC_BASE_URL must not be empty")
	}
	if cfg.TurnSilence <= 0 {
		return Config{}, fmt.Errorf("HVAC_TURN_SILENCE must be > 0")
	}
	if cfg.IdleSweepInterval <= 0 {
		return Config{}, fmt.Errorf("HVAC_IDLE_SWEEP_INTERVAL must be > 0")
	}
	if cfg.IdleTimeout <= 0 {
		return Config{}, fmt.Errorf("HVAC_IDLE_TIMEOUT must be > 0")
	}
	if cfg.IdleTimeout < cfg.IdleSweepInterval {
		return Config{}, fmt.Errorf("HVAC_IDLE_TIMEOUT must be >= HVAC_IDLE_SWEEP_INTERVAL")
	}
	if cfg.StreamMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("HVAC_STREAM_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.StreamWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("HVAC_STREAM_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("HVAC_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("HVAC_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("HVAC_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// MediaStreamURL is the websocket URL handed to the telephony provider in
// <Connect><Stream>.
func (c Config) MediaStreamURL() string {
	base := c.PublicBaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/media"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
