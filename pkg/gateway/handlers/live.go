package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/interact"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/config"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/lifecycle"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/live/protocol"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/live/session"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/live/sessions"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/metrics"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/mw"
)

// LiveHandler upgrades /v1/live to a websocket and runs one session per
// connection. The hello handshake is bounded and authenticated in-band.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	Collab       session.Collaborators

	// NewRecorder binds turn persistence to the session identity. Nil
	// disables persistence.
	NewRecorder func(userID, sessionID string) interact.Recorder
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", "")
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", "")
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		h.writeWSError(conn, "bad_request", "invalid hello frame", "")
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", "")
		return
	}
	if err := protocol.ValidateHello(hello); err != nil {
		code := "bad_request"
		param := ""
		if de, ok := err.(*protocol.DecodeError); ok {
			code = de.Code
			param = de.Param
		}
		h.writeWSError(conn, code, err.Error(), param)
		return
	}
	if authErr := h.authorize(r, hello); authErr != "" {
		h.writeWSError(conn, "unauthorized", authErr, "")
		return
	}

	_ = conn.SetReadDeadline(time.Time{})

	sessionID := "s_" + uuid.NewString()
	collab := h.Collab
	if h.NewRecorder != nil {
		collab.Recorder = h.NewRecorder(hello.UserID, sessionID)
	}

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Hello:     hello,
		SessionID: sessionID,
		RequestID: requestIDFromContext(r),
		Config:    h.sessionConfig(),
		Collab:    collab,
		Metrics:   h.Metrics,
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live session", "")
		return
	}

	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(hello.UserID, sessions.Handle{
			SessionID: s.SessionID(),
			Cancel:    s.Cancel,
			Notify:    s.Notify,
		})
	}
	defer unregister()

	h.Metrics.RecordSessionStart()
	start := time.Now()
	runErr := s.Run()
	h.Metrics.RecordSessionEnd(time.Since(start))
	if runErr != nil && h.Logger != nil {
		h.Logger.Warn("live session ended with error",
			"session_id", s.SessionID(),
			"request_id", requestIDFromContext(r),
			"error", runErr,
		)
	}
}

func (h LiveHandler) sessionConfig() session.Config {
	return session.Config{
		MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
		ReadTimeout:         h.Config.LiveWSReadTimeout,
		WriteTimeout:        h.Config.LiveWSWriteTimeout,
		PingInterval:        h.Config.LiveWSPingInterval,
		PhotoWait:           h.Config.LivePhotoWait,
		CaptureTimeout:      h.Config.LiveCaptureTimeout,
		Interact: interact.Config{
			WakeDebounce:    h.Config.WakeDebounce,
			FinalDebounce:   h.Config.FinalDebounce,
			PartialDebounce: h.Config.PartialDebounce,
			MaxListening:    h.Config.MaxListening,
			FollowUpWindow:  h.Config.FollowUpWindow,
			ClarifyTimeout:  h.Config.ClarifyTimeout,
			TurnTimeout:     h.Config.TurnTimeout,
		},
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// authorize resolves the gateway key from the hello frame or, as a browser
// fallback, the api_key query parameter. Empty return means authorized.
func (h LiveHandler) authorize(r *http.Request, hello protocol.ClientHello) string {
	if h.Config.AuthMode == config.AuthModeDisabled {
		return ""
	}
	key := ""
	if hello.Auth != nil {
		key = strings.TrimSpace(hello.Auth.GatewayAPIKey)
	}
	if key == "" {
		key = strings.TrimSpace(r.URL.Query().Get("api_key"))
	}
	if key == "" {
		if h.Config.AuthMode == config.AuthModeRequired {
			return "missing gateway api key"
		}
		return ""
	}
	if _, ok := h.Config.APIKeys[key]; !ok {
		return "invalid gateway api key"
	}
	return ""
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message, param string) {
	_ = conn.WriteJSON(protocol.ServerSessionError{
		Type: "session_error", Code: code, Message: message, Param: param, Close: true,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

func requestIDFromContext(r *http.Request) string {
	if id, ok := mw.RequestIDFrom(r.Context()); ok {
		return id
	}
	return ""
}
