package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/config"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/metrics"
)

func serverTestConfig() config.Config {
	return config.Config{
		AuthMode:                config.AuthModeDisabled,
		APIKeys:                 map[string]struct{}{},
		CORSAllowedOrigins:      map[string]struct{}{},
		GeminiAPIKey:            "gk",
		LiveMaxJSONMessageBytes: 1 << 20,
		LiveHandshakeTimeout:    time.Second,
		LivePhotoWait:           time.Second,
		LiveCaptureTimeout:      time.Second,
		WakeDebounce:            10 * time.Second,
		FinalDebounce:           time.Second,
		PartialDebounce:         time.Second,
		MaxListening:            15 * time.Second,
		TurnTimeout:             30 * time.Second,
		ReadHeaderTimeout:       time.Second,
		ReadTimeout:             time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(cfg, Deps{Logger: logger, Metrics: metrics.New("mentra")})
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(t, serverTestConfig())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"code":"not_found"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthRoutesBypassAuth(t *testing.T) {
	cfg := serverTestConfig()
	cfg.AuthMode = config.AuthModeRequired
	cfg.APIKeys = map[string]struct{}{"mentra_sk_test": {}}
	s := newTestServer(t, cfg)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code == http.StatusUnauthorized {
			t.Fatalf("%s blocked by auth", path)
		}
	}
}

func TestServer_MetricsRoute_Reachable(t *testing.T) {
	s := newTestServer(t, serverTestConfig())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_RequestIDHeaderAlwaysSet(t *testing.T) {
	s := newTestServer(t, serverTestConfig())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}
