package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/dispatch"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/config"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/lifecycle"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/live/session"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/live/sessions"
)

type noopClassifiers struct{}

func (noopClassifiers) ClassifyMemory(ctx context.Context, text string, turns []types.Turn) (types.MemoryLabel, error) {
	return types.MemoryNone, nil
}
func (noopClassifiers) ClassifyTool(ctx context.Context, text string) (bool, error) {
	return false, nil
}
func (noopClassifiers) ClassifyVision(ctx context.Context, text string) (types.VisionLabel, error) {
	return types.VisionNo, nil
}

type noopResponder struct{}

func (noopResponder) Respond(ctx context.Context, req dispatch.Request) (types.Assistant, error) {
	return types.Assistant{Text: "ok"}, nil
}

func liveTestCollab() session.Collaborators {
	return session.Collaborators{
		Memory: noopClassifiers{},
		Tools:  noopClassifiers{},
		Vision: noopClassifiers{},
		Text:   noopResponder{},
		Visual: noopResponder{},
	}
}

type liveTestOptions struct {
	cfg      config.Config
	draining bool
	tracker  *sessions.Tracker
}

func liveTestConfig() config.Config {
	return config.Config{
		AuthMode:                config.AuthModeDisabled,
		APIKeys:                 map[string]struct{}{},
		CORSAllowedOrigins:      map[string]struct{}{},
		LiveMaxJSONMessageBytes: 1 << 20,
		LiveHandshakeTimeout:    2 * time.Second,
		LiveWSPingInterval:      time.Minute,
		LiveWSWriteTimeout:      2 * time.Second,
		LivePhotoWait:           time.Second,
		LiveCaptureTimeout:      2 * time.Second,
		WakeDebounce:            10 * time.Second,
		FinalDebounce:           50 * time.Millisecond,
		PartialDebounce:         100 * time.Millisecond,
		MaxListening:            5 * time.Second,
		FollowUpWindow:          200 * time.Millisecond,
		ClarifyTimeout:          time.Second,
		TurnTimeout:             5 * time.Second,
	}
}

func newLiveTestServer(t *testing.T, opts liveTestOptions) *httptest.Server {
	t.Helper()
	if opts.cfg.LiveHandshakeTimeout == 0 {
		opts.cfg = liveTestConfig()
	}
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(opts.draining)
	srv := httptest.NewServer(LiveHandler{
		Config:       opts.cfg,
		Lifecycle:    lc,
		LiveSessions: opts.tracker,
		Collab:       liveTestCollab(),
	})
	t.Cleanup(srv.Close)
	return srv
}

func mustDialWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustWriteJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func mustReadJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func baseHello(version string) map[string]any {
	return map[string]any{
		"type":             "hello",
		"protocol_version": version,
		"user_id":          "user-1",
	}
}

func TestLive_RejectsNonGet(t *testing.T) {
	srv := newLiveTestServer(t, liveTestOptions{})
	resp, err := http.Post(srv.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestLive_RejectsWhileDraining(t *testing.T) {
	srv := newLiveTestServer(t, liveTestOptions{draining: true})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial succeeded while draining")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestLive_HelloHandshakeSucceeds(t *testing.T) {
	srv := newLiveTestServer(t, liveTestOptions{})
	conn := mustDialWS(t, srv.URL)

	mustWriteJSON(t, conn, baseHello("1"))
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "session_ready" {
		t.Fatalf("msg=%v", msg)
	}
}

func TestLive_UnsupportedVersionRejected(t *testing.T) {
	srv := newLiveTestServer(t, liveTestOptions{})
	conn := mustDialWS(t, srv.URL)

	mustWriteJSON(t, conn, baseHello("2"))
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "session_error" || msg["code"] != "unsupported" {
		t.Fatalf("msg=%v", msg)
	}
}

func TestLive_MissingUserIDRejected(t *testing.T) {
	srv := newLiveTestServer(t, liveTestOptions{})
	conn := mustDialWS(t, srv.URL)

	hello := baseHello("1")
	delete(hello, "user_id")
	mustWriteJSON(t, conn, hello)
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "session_error" || msg["code"] != "bad_request" {
		t.Fatalf("msg=%v", msg)
	}
	if msg["param"] != "user_id" {
		t.Fatalf("param=%v", msg["param"])
	}
}

func TestLive_FirstFrameMustBeHello(t *testing.T) {
	srv := newLiveTestServer(t, liveTestOptions{})
	conn := mustDialWS(t, srv.URL)

	mustWriteJSON(t, conn, map[string]any{"type": "transcription", "speaker_id": "s", "text": "hi"})
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "session_error" || msg["code"] != "bad_request" {
		t.Fatalf("msg=%v", msg)
	}
}

func TestLive_AuthRequiredMissingKey(t *testing.T) {
	cfg := liveTestConfig()
	cfg.AuthMode = config.AuthModeRequired
	cfg.APIKeys = map[string]struct{}{"mentra_sk_test": {}}
	srv := newLiveTestServer(t, liveTestOptions{cfg: cfg})
	conn := mustDialWS(t, srv.URL)

	mustWriteJSON(t, conn, baseHello("1"))
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "session_error" || msg["code"] != "unauthorized" {
		t.Fatalf("msg=%v", msg)
	}
}

func TestLive_AuthViaHelloFrame(t *testing.T) {
	cfg := liveTestConfig()
	cfg.AuthMode = config.AuthModeRequired
	cfg.APIKeys = map[string]struct{}{"mentra_sk_test": {}}
	srv := newLiveTestServer(t, liveTestOptions{cfg: cfg})
	conn := mustDialWS(t, srv.URL)

	hello := baseHello("1")
	hello["auth"] = map[string]any{"gateway_api_key": "mentra_sk_test"}
	mustWriteJSON(t, conn, hello)
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "session_ready" {
		t.Fatalf("msg=%v", msg)
	}
}

func TestLive_ReconnectDisplacesPreviousSession(t *testing.T) {
	tracker := sessions.NewTracker(1)
	srv := newLiveTestServer(t, liveTestOptions{tracker: tracker})

	first := mustDialWS(t, srv.URL)
	mustWriteJSON(t, first, baseHello("1"))
	if msg := mustReadJSON(t, first, 2*time.Second); msg["type"] != "session_ready" {
		t.Fatalf("first: %v", msg)
	}

	second := mustDialWS(t, srv.URL)
	mustWriteJSON(t, second, baseHello("1"))
	if msg := mustReadJSON(t, second, 2*time.Second); msg["type"] != "session_ready" {
		t.Fatalf("second: %v", msg)
	}

	// The first connection is torn down once the same user reconnects.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	if tracker.Count() != 1 {
		t.Fatalf("tracker count=%d, want 1", tracker.Count())
	}
}
