// Package interact owns the per-session turn-taking state machine: wake
// detection, listening debounce, speaker locking, follow-up and
// clarification sub-states, and interrupt recovery.
package interact

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/dispatch"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/history"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/photo"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/wake"
)

// State is the controller's current sub-state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateFollowUp
	StateClarification
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateFollowUp:
		return "follow_up"
	case StateClarification:
		return "clarification"
	default:
		return "unknown"
	}
}

const (
	clarifyQuestion = "Do you want me to take a look at what you're seeing?"
	timeoutAnswer   = "Sorry, that took too long."
	failureAnswer   = "Sorry, something went wrong."
	closingAnswer   = "Okay."
)

// Dispatcher runs one finalized query through the decision chain.
type Dispatcher interface {
	Run(ctx context.Context, q dispatch.Query) (dispatch.Result, error)
}

// FollowUpClassifier decides how a follow-up window utterance should be
// treated: a continuation query, a graceful close, or a cancellation.
type FollowUpClassifier interface {
	ClassifyFollowUp(ctx context.Context, text string) (types.FollowUpLabel, error)
}

// Sink delivers finished answers and short status strings to the device.
// Display carries text for the glasses screen only, without audio.
// Delivery failures are logged and never fail the turn.
type Sink interface {
	Speak(text string) error
	Display(text string) error
	Status(state string) error
}

// Recorder receives one completed turn. Optional; failures never fail the
// turn itself.
type Recorder interface {
	Record(ctx context.Context, query, response string, photoAt *time.Time) error
}

// Observer receives state-machine events for instrumentation. Optional;
// callbacks run under the controller lock and must not block.
type Observer interface {
	TurnCompleted(usedVision bool)
	Interrupted()
	ClarificationAsked()
}

type Config struct {
	// WakeDebounce applies when a final utterance still ends with a wake
	// phrase: the user is expected to keep talking.
	WakeDebounce    time.Duration
	FinalDebounce   time.Duration
	PartialDebounce time.Duration
	// MaxListening caps how long a turn may accumulate before it is
	// dispatched regardless of debounce activity.
	MaxListening   time.Duration
	FollowUpWindow time.Duration
	ClarifyTimeout time.Duration
	TurnTimeout    time.Duration

	FollowUpEnabled bool
	// HeadUpGate requires the wearer's head to be up before a wake phrase
	// is honored in the idle state.
	HeadUpGate bool
}

func DefaultConfig() Config {
	return Config{
		WakeDebounce:    10 * time.Second,
		FinalDebounce:   1200 * time.Millisecond,
		PartialDebounce: 1800 * time.Millisecond,
		MaxListening:    15 * time.Second,
		FollowUpWindow:  5 * time.Second,
		ClarifyTimeout:  10 * time.Second,
		TurnTimeout:     30 * time.Second,
		FollowUpEnabled: true,
	}
}

type Deps struct {
	Logger    *slog.Logger
	Pipeline  Dispatcher
	Photos    *photo.Coordinator
	Turns     *history.Log
	Wake      *wake.Matcher
	FollowUps FollowUpClassifier
	Sink      Sink
	Recorder  Recorder
	Observer  Observer
	Now       func() time.Time
}

// Controller is the per-session interaction state machine. One instance per
// connected device; all methods are safe for concurrent use, but session
// logic itself is serialized under a single mutex.
type Controller struct {
	cfg       Config
	logger    *slog.Logger
	pipeline  Dispatcher
	photos    *photo.Coordinator
	turns     *history.Log
	wake      *wake.Matcher
	followUps FollowUpClassifier
	sink      Sink
	recorder  Recorder
	observer  Observer
	now       func() time.Time

	mu     sync.Mutex
	closed bool
	state  State
	// gen invalidates stale turn completions after an interrupt. Bumped
	// only when a wake phrase barges in mid-processing.
	gen     int
	speaker string
	// utterance is the latest cumulative transcript for the current turn.
	utterance string
	// lastProcessed suppresses transcript re-accumulation: engines that
	// keep appending across turns repeat already-dispatched text.
	lastProcessed string
	headUp        bool
	// fromFollowUp marks the accumulating turn as a follow-up window
	// continuation, which routes through the follow-up classifier first.
	fromFollowUp bool
	clarifyQuery string

	debounce    *time.Timer
	debounceSeq int
	safety      *time.Timer
	safetySeq   int
	follow      *time.Timer
	followSeq   int
	clarify     *time.Timer
	clarifySeq  int

	turnCancel context.CancelFunc
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("interact: dispatcher is required")
	}
	if deps.Photos == nil {
		return nil, errors.New("interact: photo coordinator is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("interact: sink is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Wake == nil {
		deps.Wake = wake.New()
	}
	if deps.Turns == nil {
		deps.Turns = history.NewLog(0, 0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.WakeDebounce <= 0 || cfg.FinalDebounce <= 0 || cfg.PartialDebounce <= 0 ||
		cfg.MaxListening <= 0 || cfg.FollowUpWindow <= 0 || cfg.ClarifyTimeout <= 0 ||
		cfg.TurnTimeout <= 0 {
		return nil, errors.New("interact: all timer durations must be positive")
	}
	return &Controller{
		cfg:       cfg,
		logger:    deps.Logger,
		pipeline:  deps.Pipeline,
		photos:    deps.Photos,
		turns:     deps.Turns,
		wake:      deps.Wake,
		followUps: deps.FollowUps,
		sink:      deps.Sink,
		recorder:  deps.Recorder,
		observer:  deps.Observer,
		now:       deps.Now,
		state:     StateIdle,
	}, nil
}

// State reports the current sub-state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation reports the current generation counter.
func (c *Controller) Generation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// HeadUp records the wearer's head position for wake gating.
func (c *Controller) HeadUp(up bool) {
	c.mu.Lock()
	c.headUp = up
	c.mu.Unlock()
}

// Close tears the controller down: all timers stop, any in-flight turn is
// canceled and its completion discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	c.stopAllTimersLocked()
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.state = StateIdle
}

// HandleTranscription feeds one speech-to-text event into the state
// machine. Text is cumulative within the current utterance, not a delta.
func (c *Controller) HandleTranscription(ev types.TranscriptionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || strings.TrimSpace(ev.Text) == "" {
		return
	}

	switch c.state {
	case StateIdle:
		c.handleIdleLocked(ev)
	case StateListening:
		c.handleListeningLocked(ev)
	case StateProcessing:
		c.handleProcessingLocked(ev)
	case StateFollowUp:
		c.handleFollowUpLocked(ev)
	case StateClarification:
		c.handleClarificationLocked(ev)
	}
}

func (c *Controller) handleIdleLocked(ev types.TranscriptionEvent) {
	if !c.wake.Contains(ev.Text) {
		return
	}
	if c.cfg.HeadUpGate && !c.headUp {
		c.logger.Debug("wake ignored, head down", "speaker", ev.SpeakerID)
		return
	}
	c.beginTurnLocked(ev, false)
}

// beginTurnLocked locks the speaker, requests a fresh photo, and starts
// accumulating. followUp marks the turn as a follow-up continuation.
func (c *Controller) beginTurnLocked(ev types.TranscriptionEvent, followUp bool) {
	c.photos.Clear()
	c.photos.Request()
	c.speaker = ev.SpeakerID
	c.fromFollowUp = followUp
	c.state = StateListening
	if followUp {
		c.utterance = c.trimProcessed(ev.Text)
	} else {
		c.utterance = c.wake.Strip(c.trimProcessed(ev.Text))
	}
	c.status("listening")
	c.resetSafetyLocked()
	c.scheduleDebounceLocked(ev)
}

func (c *Controller) handleListeningLocked(ev types.TranscriptionEvent) {
	if ev.SpeakerID != c.speaker {
		return
	}
	text := c.trimProcessed(ev.Text)
	if !c.fromFollowUp {
		text = c.wake.Strip(text)
	}
	if ev.IsFinal && c.wake.IsCancellation(text) {
		c.resetToIdleLocked()
		return
	}
	c.utterance = text
	c.scheduleDebounceLocked(ev)
}

func (c *Controller) handleProcessingLocked(ev types.TranscriptionEvent) {
	if !c.wake.Contains(ev.Text) {
		return
	}
	c.interruptLocked()
	c.handleIdleLocked(ev)
}

// interruptLocked aborts the in-flight turn: the superseded pipeline run
// still finishes, but its completion fails the generation check and its
// answer is never delivered.
func (c *Controller) interruptLocked() {
	c.gen++
	c.stopAllTimersLocked()
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.photos.Clear()
	c.speaker = ""
	c.utterance = ""
	c.fromFollowUp = false
	c.state = StateIdle
	if c.observer != nil {
		c.observer.Interrupted()
	}
	c.logger.Info("turn interrupted", "gen", c.gen)
}

func (c *Controller) handleFollowUpLocked(ev types.TranscriptionEvent) {
	c.stopFollowLocked()
	c.beginTurnLocked(ev, true)
}

func (c *Controller) handleClarificationLocked(ev types.TranscriptionEvent) {
	if ev.SpeakerID != c.speaker || !ev.IsFinal {
		return
	}
	text := c.trimProcessed(ev.Text)
	switch {
	case c.wake.IsCancellation(text):
		c.stopClarifyLocked()
		c.resetToIdleLocked()
	case wake.IsAffirmative(text):
		c.stopClarifyLocked()
		c.resumeClarifiedLocked(true)
	case wake.IsNegative(text):
		c.stopClarifyLocked()
		c.resumeClarifiedLocked(false)
	}
	// Anything else waits for the clarification timeout.
}

// resumeClarifiedLocked re-dispatches the suspended query with the visual
// question settled.
func (c *Controller) resumeClarifiedLocked(visual bool) {
	query := c.clarifyQuery
	c.clarifyQuery = ""
	c.state = StateProcessing
	c.status("processing")
	c.startTurnRunLocked(query, &visual, false)
}

func (c *Controller) scheduleDebounceLocked(ev types.TranscriptionEvent) {
	var d time.Duration
	switch {
	case ev.IsFinal && c.wake.EndsWith(ev.Text):
		d = c.cfg.WakeDebounce
	case ev.IsFinal:
		d = c.cfg.FinalDebounce
	default:
		d = c.cfg.PartialDebounce
	}
	c.debounceSeq++
	seq := c.debounceSeq
	gen := c.gen
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(d, func() { c.onDebounce(gen, seq) })
}

func (c *Controller) onDebounce(gen, seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen || seq != c.debounceSeq || c.state != StateListening {
		return
	}
	c.fireLocked()
}

func (c *Controller) resetSafetyLocked() {
	c.safetySeq++
	seq := c.safetySeq
	gen := c.gen
	if c.safety != nil {
		c.safety.Stop()
	}
	c.safety = time.AfterFunc(c.cfg.MaxListening, func() { c.onSafety(gen, seq) })
}

func (c *Controller) onSafety(gen, seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen || seq != c.safetySeq || c.state != StateListening {
		return
	}
	c.logger.Info("max listening window reached", "speaker", c.speaker)
	c.fireLocked()
}

// fireLocked finalizes the accumulated utterance and hands it to the
// pipeline. Exactly one fire happens per completed utterance: every event
// replaces the previous debounce timer, and the sequence check above
// discards timers that lost the race.
func (c *Controller) fireLocked() {
	c.stopListenTimersLocked()
	query := strings.TrimSpace(c.utterance)
	raw := c.utterance
	c.utterance = ""
	if query == "" || c.wake.IsCancellation(query) {
		c.resetToIdleLocked()
		return
	}
	c.lastProcessed = raw
	c.state = StateProcessing
	c.status("processing")
	c.startTurnRunLocked(query, nil, c.fromFollowUp)
}

// startTurnRunLocked launches the asynchronous pipeline run for one turn.
// The captured generation gates every state mutation in the completion.
func (c *Controller) startTurnRunLocked(query string, forcedVision *bool, followUp bool) {
	gen := c.gen
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TurnTimeout)
	c.turnCancel = cancel
	go c.runTurn(ctx, cancel, gen, query, forcedVision, followUp)
}

func (c *Controller) runTurn(ctx context.Context, cancel context.CancelFunc, gen int, query string, forcedVision *bool, followUp bool) {
	defer cancel()

	if followUp && c.followUps != nil {
		label, err := c.followUps.ClassifyFollowUp(ctx, query)
		if err != nil {
			c.logger.Warn("follow-up classification failed", "err", err)
			label = types.FollowUpContinue
		}
		switch label {
		case types.FollowUpClosing:
			c.completeTurn(gen, turnOutcome{answer: closingAnswer, endTurn: true})
			return
		case types.FollowUpCancel:
			c.completeTurn(gen, turnOutcome{endTurn: true})
			return
		}
	}

	res, err := c.pipeline.Run(ctx, dispatch.Query{Text: query, ForcedVision: forcedVision})
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		c.completeTurn(gen, turnOutcome{answer: timeoutAnswer, endTurn: true})
	case err != nil && errors.Is(err, context.Canceled):
		// Interrupted; the generation check below discards this anyway.
		c.completeTurn(gen, turnOutcome{})
	case err != nil:
		c.logger.Error("turn failed", "err", err, "query", query)
		c.completeTurn(gen, turnOutcome{answer: failureAnswer, endTurn: true})
	case res.NeedsClarification:
		c.completeTurn(gen, turnOutcome{clarify: true, query: query})
	default:
		c.completeTurn(gen, turnOutcome{answer: res.Answer, query: query, record: true, usedVision: res.UsedVision})
	}
}

type turnOutcome struct {
	answer     string
	query      string
	record     bool
	usedVision bool
	clarify    bool
	// endTurn skips the follow-up window even when it is enabled.
	endTurn bool
}

// completeTurn applies one finished pipeline run to session state. A stale
// generation means a newer turn owns the session: the superseded completion
// must do nothing beyond returning.
func (c *Controller) completeTurn(gen int, out turnOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	c.turnCancel = nil

	if out.clarify {
		c.clarifyQuery = out.query
		c.state = StateClarification
		c.speak(clarifyQuestion)
		if c.observer != nil {
			c.observer.ClarificationAsked()
		}
		c.resetClarifyLocked()
		return
	}

	if out.answer != "" {
		c.speak(out.answer)
	}
	if out.record {
		c.turns.Append(out.query, out.answer)
		c.recordTurn(out)
		if c.observer != nil {
			c.observer.TurnCompleted(out.usedVision)
		}
	}

	if out.endTurn || !c.cfg.FollowUpEnabled {
		c.resetToIdleLocked()
		return
	}
	c.state = StateFollowUp
	c.resetFollowLocked()
}

// recordTurn hands the turn to the persistence sink. Failures are logged
// and never fail the turn.
func (c *Controller) recordTurn(out turnOutcome) {
	if c.recorder == nil {
		return
	}
	var photoAt *time.Time
	if out.usedVision {
		if p := c.photos.Peek(); p != nil {
			at := p.RequestedAt
			photoAt = &at
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.recorder.Record(ctx, out.query, out.answer, photoAt); err != nil {
			c.logger.Warn("turn persistence failed", "err", err)
		}
	}()
}

func (c *Controller) resetFollowLocked() {
	c.followSeq++
	seq := c.followSeq
	gen := c.gen
	if c.follow != nil {
		c.follow.Stop()
	}
	c.follow = time.AfterFunc(c.cfg.FollowUpWindow, func() { c.onFollowExpired(gen, seq) })
}

func (c *Controller) onFollowExpired(gen, seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen || seq != c.followSeq || c.state != StateFollowUp {
		return
	}
	// Lapsing the window closes the exchange the same way a spoken
	// cancellation would, minus the audio.
	c.display(closingAnswer)
	c.resetToIdleLocked()
}

func (c *Controller) resetClarifyLocked() {
	c.clarifySeq++
	seq := c.clarifySeq
	gen := c.gen
	if c.clarify != nil {
		c.clarify.Stop()
	}
	c.clarify = time.AfterFunc(c.cfg.ClarifyTimeout, func() { c.onClarifyExpired(gen, seq) })
}

// onClarifyExpired defaults an unanswered clarification question to "no".
func (c *Controller) onClarifyExpired(gen, seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen || seq != c.clarifySeq || c.state != StateClarification {
		return
	}
	c.resumeClarifiedLocked(false)
}

func (c *Controller) resetToIdleLocked() {
	c.stopAllTimersLocked()
	c.speaker = ""
	c.utterance = ""
	c.fromFollowUp = false
	c.clarifyQuery = ""
	c.state = StateIdle
	c.status("idle")
}

func (c *Controller) stopListenTimersLocked() {
	c.debounceSeq++
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.safetySeq++
	if c.safety != nil {
		c.safety.Stop()
		c.safety = nil
	}
}

func (c *Controller) stopFollowLocked() {
	c.followSeq++
	if c.follow != nil {
		c.follow.Stop()
		c.follow = nil
	}
}

func (c *Controller) stopClarifyLocked() {
	c.clarifySeq++
	if c.clarify != nil {
		c.clarify.Stop()
		c.clarify = nil
	}
}

func (c *Controller) stopAllTimersLocked() {
	c.stopListenTimersLocked()
	c.stopFollowLocked()
	c.stopClarifyLocked()
}

// trimProcessed strips already-dispatched text from a cumulative
// transcript so a previous turn's words are not re-accumulated.
func (c *Controller) trimProcessed(text string) string {
	if c.lastProcessed == "" {
		return text
	}
	if rest, ok := strings.CutPrefix(text, c.lastProcessed); ok {
		return strings.TrimSpace(rest)
	}
	return text
}

func (c *Controller) speak(text string) {
	if err := c.sink.Speak(text); err != nil {
		c.logger.Warn("speak delivery failed", "err", err)
	}
}

func (c *Controller) display(text string) {
	if err := c.sink.Display(text); err != nil {
		c.logger.Debug("display delivery failed", "err", err)
	}
}

func (c *Controller) status(state string) {
	if err := c.sink.Status(state); err != nil {
		c.logger.Debug("status delivery failed", "err", err)
	}
}
