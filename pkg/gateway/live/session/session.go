// Package session binds one websocket connection to one interaction
// session: it decodes inbound frames, feeds the controller, serves photo
// captures over the wire, and owns the outbound writer.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/disambig"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/dispatch"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/history"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/interact"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/photo"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/wake"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/live/protocol"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/metrics"
)

var errBackpressure = errors.New("live outbound backpressure")

const (
	outboundQueueSize         = 64
	outboundPriorityQueueSize = 8

	historyMaxTurns = 10
	historyMaxAge   = 10 * time.Minute
)

type Config struct {
	MaxJSONMessageBytes int64
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	PingInterval        time.Duration
	// PhotoWait bounds how long a visual turn blocks on the camera.
	PhotoWait time.Duration
	// CaptureTimeout bounds the device round trip for one photo_request.
	CaptureTimeout time.Duration

	Interact interact.Config
}

// Collaborators are the model-backed and storage-backed dependencies one
// session consumes. All sessions typically share one set.
type Collaborators struct {
	Memory dispatch.MemoryClassifier
	Tools  dispatch.ToolClassifier
	Vision dispatch.VisionClassifier
	Text   dispatch.Responder
	Visual dispatch.Responder
	// Actions runs a resolved app choice. When nil the session sends an
	// app_action frame to the device itself.
	Actions   dispatch.ActionRunner
	FollowUps interact.FollowUpClassifier
	Recorder  interact.Recorder
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Hello     protocol.ClientHello
	SessionID string
	RequestID string
	Config    Config
	Collab    Collaborators
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// LiveSession is the aggregate owning every per-connection component: the
// controller, the photo coordinator, the conversation history, and the
// pending disambiguation. Nothing is shared across sessions.
type LiveSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	hello     protocol.ClientHello
	sessionID string
	requestID string
	cfg       Config
	collab    Collaborators
	metrics   *metrics.Metrics
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan []byte
	outboundNormal   chan []byte

	controller *interact.Controller
	photos     *photo.Coordinator

	photoWaitersMu sync.Mutex
	photoWaiters   map[string]chan protocol.ClientPhotoResponse
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Collab.Memory == nil || deps.Collab.Tools == nil || deps.Collab.Vision == nil {
		return nil, fmt.Errorf("classifier collaborators are required")
	}
	if deps.Collab.Text == nil || deps.Collab.Visual == nil {
		return nil, fmt.Errorf("responder collaborators are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.SessionID == "" {
		deps.SessionID = uuid.NewString()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger.With("session_id", deps.SessionID, "user_id", deps.Hello.UserID),
		hello:            deps.Hello,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		collab:           deps.Collab,
		metrics:          deps.Metrics,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan []byte, outboundPriorityQueueSize),
		outboundNormal:   make(chan []byte, outboundQueueSize),
		photoWaiters:     make(map[string]chan protocol.ClientPhotoResponse),
	}

	s.photos = photo.NewCoordinator(s, s.cfg.PhotoWait)

	icfg := s.cfg.Interact
	icfg.FollowUpEnabled = deps.Hello.Features.FollowUp
	icfg.HeadUpGate = deps.Hello.Features.HeadUpGate

	actions := deps.Collab.Actions
	if actions == nil {
		// Resolved app choices go to the device itself over the wire.
		actions = deviceActionRunner{s}
	}

	turns := history.NewLog(historyMaxTurns, historyMaxAge)
	pipeline, err := dispatch.New(dispatch.Deps{
		Logger:  s.logger,
		Photos:  s.photos,
		Pending: disambig.NewState(),
		Turns:   turns,
		Memory:  deps.Collab.Memory,
		Tools:   deps.Collab.Tools,
		Vision:  deps.Collab.Vision,
		Text:    deps.Collab.Text,
		Visual:  deps.Collab.Visual,
		Actions: actions,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	var observer interact.Observer
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	controller, err := interact.New(icfg, interact.Deps{
		Logger:    s.logger,
		Pipeline:  pipeline,
		Photos:    s.photos,
		Turns:     turns,
		Wake:      wake.New(),
		FollowUps: deps.Collab.FollowUps,
		Sink:      s,
		Recorder:  deps.Collab.Recorder,
		Observer:  observer,
		Now:       deps.Now,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.controller = controller

	return s, nil
}

// SessionID returns the id assigned at construction.
func (s *LiveSession) SessionID() string { return s.sessionID }

// Cancel tears the session down from outside (drain, displacement).
func (s *LiveSession) Cancel() { s.cancel() }

// Notify pushes a short out-of-band notice to the device.
func (s *LiveSession) Notify(code, message string) error {
	return s.sendJSONPriority(protocol.ServerSessionError{
		Type: "session_error", Code: code, Message: message,
	})
}

// Run drives the session until the connection drops, the client ends it, or
// the session is canceled. It always releases every per-session resource.
func (s *LiveSession) Run() error {
	defer s.cancel()
	defer s.controller.Close()
	defer s.photos.Close()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	if err := s.sendJSON(protocol.ServerSessionReady{
		Type:            "session_ready",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       s.sessionID,
		Features:        s.hello.Features,
		Limits: &protocol.SessionReadyLimits{
			MaxJSONMessageBytes: int(s.cfg.MaxJSONMessageBytes),
			PhotoWaitMS:         int(s.cfg.PhotoWait / time.Millisecond),
			FollowUpWindowMS:    int(s.cfg.Interact.FollowUpWindow / time.Millisecond),
		},
	}); err != nil {
		return err
	}

	readCh := make(chan inboundFrame, 64)
	go s.readLoop(readCh)

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return frame.err
			}
			if done, err := s.handleFrame(frame.data); done || err != nil {
				return err
			}
		}
	}
}

type inboundFrame struct {
	data []byte
	err  error
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		select {
		case out <- inboundFrame{data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// handleFrame decodes one inbound frame and routes it. A decode failure is
// reported to the device but never ends the session.
func (s *LiveSession) handleFrame(data []byte) (done bool, err error) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		s.metrics.RecordError("decode")
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			_ = s.sendJSON(protocol.ServerSessionError{
				Type: "session_error", Code: de.Code, Message: de.Message, Param: de.Param,
			})
			return false, nil
		}
		return false, err
	}

	switch m := msg.(type) {
	case protocol.ClientTranscription:
		s.metrics.RecordFrame("transcription")
		at := s.now()
		if m.TimestampMS != nil {
			at = time.UnixMilli(*m.TimestampMS)
		}
		s.controller.HandleTranscription(types.TranscriptionEvent{
			SpeakerID: m.SpeakerID,
			Text:      m.Text,
			IsFinal:   m.IsFinal,
			At:        at,
		})
	case protocol.ClientPhotoResponse:
		s.metrics.RecordFrame("photo_response")
		s.resolvePhoto(m)
	case protocol.ClientHeadPosition:
		s.metrics.RecordFrame("head_position")
		s.controller.HeadUp(m.Up)
	case protocol.ClientControl:
		s.metrics.RecordFrame("control")
		if m.Op == "end_session" {
			s.logger.Info("session ended by client")
			return true, nil
		}
	case protocol.ClientHello:
		_ = s.sendJSON(protocol.ServerSessionError{
			Type: "session_error", Code: "bad_request", Message: "duplicate hello",
		})
	}
	return false, nil
}

// Speak delivers a finished answer as both spoken and displayed text.
func (s *LiveSession) Speak(text string) error {
	if err := s.sendJSON(protocol.ServerSpeak{Type: "speak", Text: text}); err != nil {
		return err
	}
	return s.sendJSON(protocol.ServerDisplay{Type: "display", Text: text})
}

// Display puts text on the glasses screen without speaking it.
func (s *LiveSession) Display(text string) error {
	return s.sendJSON(protocol.ServerDisplay{Type: "display", Text: text})
}

// Status pushes a short state string for UI feedback.
func (s *LiveSession) Status(state string) error {
	return s.sendJSON(protocol.ServerStatus{Type: "status", State: state})
}

// deviceActionRunner forwards a resolved app choice to the device as an
// app_action frame. It returns no answer text so the dispatcher phrases
// the spoken confirmation.
type deviceActionRunner struct{ s *LiveSession }

func (r deviceActionRunner) Run(ctx context.Context, action types.Action, choice types.Candidate) (string, error) {
	err := r.s.sendJSON(protocol.ServerAppAction{
		Type:        "app_action",
		Action:      string(action),
		CandidateID: choice.ID,
		Name:        choice.Name,
	})
	if err != nil {
		return "", fmt.Errorf("app action: %w", err)
	}
	return "", nil
}

// Capture asks the device for a photo and waits for the matching
// photo_response. It implements the coordinator's device-facing side.
func (s *LiveSession) Capture(ctx context.Context) (types.Photo, error) {
	if !s.hello.Features.Camera {
		s.metrics.RecordPhotoFailure("no_camera")
		return types.Photo{}, errors.New("device has no camera")
	}

	captureTimeout := s.cfg.CaptureTimeout
	if captureTimeout <= 0 {
		captureTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	id := uuid.NewString()
	ch := make(chan protocol.ClientPhotoResponse, 1)
	s.photoWaitersMu.Lock()
	s.photoWaiters[id] = ch
	s.photoWaitersMu.Unlock()
	defer func() {
		s.photoWaitersMu.Lock()
		delete(s.photoWaiters, id)
		s.photoWaitersMu.Unlock()
	}()

	s.metrics.RecordPhotoRequest()
	if err := s.sendJSON(protocol.ServerPhotoRequest{Type: "photo_request", RequestID: id}); err != nil {
		s.metrics.RecordPhotoFailure("send")
		return types.Photo{}, fmt.Errorf("photo request: %w", err)
	}

	select {
	case resp := <-ch:
		if strings.TrimSpace(resp.Error) != "" {
			s.metrics.RecordPhotoFailure("device")
			return types.Photo{}, fmt.Errorf("device capture failed: %s", resp.Error)
		}
		raw, err := base64.StdEncoding.DecodeString(resp.DataB64)
		if err != nil {
			s.metrics.RecordPhotoFailure("decode")
			return types.Photo{}, fmt.Errorf("photo payload: %w", err)
		}
		mime := resp.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		return types.Photo{Bytes: raw, MimeType: mime}, nil
	case <-ctx.Done():
		s.metrics.RecordPhotoFailure("timeout")
		return types.Photo{}, fmt.Errorf("photo capture: %w", ctx.Err())
	}
}

func (s *LiveSession) resolvePhoto(resp protocol.ClientPhotoResponse) {
	s.photoWaitersMu.Lock()
	ch, ok := s.photoWaiters[resp.RequestID]
	if ok {
		delete(s.photoWaiters, resp.RequestID)
	}
	s.photoWaitersMu.Unlock()
	if !ok {
		// Late response for an abandoned or superseded request.
		s.logger.Debug("photo response without waiter", "request_id", resp.RequestID)
		return
	}
	ch <- resp
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundNormal <- payload:
		return nil
	default:
		return errBackpressure
	}
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundPriority <- payload:
		return nil
	default:
		return errBackpressure
	}
}
