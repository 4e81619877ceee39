package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/config"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		AuthMode string   `json:"auth_mode"`
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key not configured")
	}
	if h.Config.LiveMaxJSONMessageBytes <= 0 {
		issues = append(issues, "live max json message bytes must be > 0")
	}
	if h.Config.LiveHandshakeTimeout <= 0 {
		issues = append(issues, "live handshake timeout must be > 0")
	}
	if h.Config.LivePhotoWait <= 0 || h.Config.LiveCaptureTimeout <= 0 {
		issues = append(issues, "photo timings must be > 0")
	}
	if h.Config.FinalDebounce <= 0 || h.Config.PartialDebounce <= 0 || h.Config.WakeDebounce <= 0 {
		issues = append(issues, "debounce timings must be > 0")
	}
	if h.Config.MaxListening <= 0 || h.Config.TurnTimeout <= 0 {
		issues = append(issues, "turn timings must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "server timeouts must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	resp := readyResp{
		OK:       len(issues) == 0 && !draining,
		AuthMode: string(h.Config.AuthMode),
		Draining: draining,
		Issues:   issues,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if !resp.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
