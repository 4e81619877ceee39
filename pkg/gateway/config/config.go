package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// Gemini credentials for the classifier and responder calls.
	GeminiAPIKey string
	GeminiModel  string

	// Postgres DSN for the turn recorder. Empty disables persistence.
	DatabaseURL string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Live WebSocket sessions (/v1/live).
	LiveMaxJSONMessageBytes int64
	LiveHandshakeTimeout    time.Duration
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSReadTimeout       time.Duration
	LivePhotoWait           time.Duration
	LiveCaptureTimeout      time.Duration
	WSMaxSessionsPerUser    int

	// Turn loop timings, forwarded into each session's controller.
	WakeDebounce    time.Duration
	FinalDebounce   time.Duration
	PartialDebounce time.Duration
	MaxListening    time.Duration
	FollowUpWindow  time.Duration
	ClarifyTimeout  time.Duration
	TurnTimeout     time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("MENTRA_ADDR", ":8080"),
		AuthMode:                AuthMode(envOr("MENTRA_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                 make(map[string]struct{}),
		GeminiAPIKey:            strings.TrimSpace(os.Getenv("MENTRA_GEMINI_API_KEY")),
		GeminiModel:             envOr("MENTRA_GEMINI_MODEL", ""),
		DatabaseURL:             strings.TrimSpace(os.Getenv("MENTRA_DATABASE_URL")),
		CORSAllowedOrigins:      make(map[string]struct{}),
		LiveMaxJSONMessageBytes: envInt64Or("MENTRA_LIVE_MAX_JSON_MESSAGE_BYTES", 1<<20),
		LiveHandshakeTimeout:    envDurationOr("MENTRA_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveWSPingInterval:      envDurationOr("MENTRA_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("MENTRA_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:       envDurationOr("MENTRA_LIVE_WS_READ_TIMEOUT", 0),
		LivePhotoWait:           envDurationOr("MENTRA_LIVE_PHOTO_WAIT", 4*time.Second),
		LiveCaptureTimeout:      envDurationOr("MENTRA_LIVE_CAPTURE_TIMEOUT", 10*time.Second),
		WSMaxSessionsPerUser:    envIntOr("MENTRA_WS_MAX_SESSIONS_PER_USER", 1),
		WakeDebounce:            envDurationOr("MENTRA_WAKE_DEBOUNCE", 10*time.Second),
		FinalDebounce:           envDurationOr("MENTRA_FINAL_DEBOUNCE", 1200*time.Millisecond),
		PartialDebounce:         envDurationOr("MENTRA_PARTIAL_DEBOUNCE", 1800*time.Millisecond),
		MaxListening:            envDurationOr("MENTRA_MAX_LISTENING", 15*time.Second),
		FollowUpWindow:          envDurationOr("MENTRA_FOLLOW_UP_WINDOW", 5*time.Second),
		ClarifyTimeout:          envDurationOr("MENTRA_CLARIFY_TIMEOUT", 10*time.Second),
		TurnTimeout:             envDurationOr("MENTRA_TURN_TIMEOUT", 30*time.Second),
		ReadHeaderTimeout:       envDurationOr("MENTRA_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("MENTRA_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("MENTRA_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("MENTRA_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("MENTRA_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("MENTRA_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("MENTRA_API_KEYS must be set when MENTRA_AUTH_MODE=required")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("MENTRA_GEMINI_API_KEY must be set")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("MENTRA_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("MENTRA_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("MENTRA_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("MENTRA_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("MENTRA_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LivePhotoWait <= 0 {
		return Config{}, fmt.Errorf("MENTRA_LIVE_PHOTO_WAIT must be > 0")
	}
	if cfg.LiveCaptureTimeout <= 0 {
		return Config{}, fmt.Errorf("MENTRA_LIVE_CAPTURE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxSessionsPerUser <= 0 {
		return Config{}, fmt.Errorf("MENTRA_WS_MAX_SESSIONS_PER_USER must be > 0")
	}
	if cfg.WakeDebounce <= 0 || cfg.FinalDebounce <= 0 || cfg.PartialDebounce <= 0 {
		return Config{}, fmt.Errorf("debounce durations must be > 0")
	}
	if cfg.MaxListening <= 0 {
		return Config{}, fmt.Errorf("MENTRA_MAX_LISTENING must be > 0")
	}
	if cfg.FollowUpWindow <= 0 {
		return Config{}, fmt.Errorf("MENTRA_FOLLOW_UP_WINDOW must be > 0")
	}
	if cfg.ClarifyTimeout <= 0 {
		return Config{}, fmt.Errorf("MENTRA_CLARIFY_TIMEOUT must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("MENTRA_TURN_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("MENTRA_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("MENTRA_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("MENTRA_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
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

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
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

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
