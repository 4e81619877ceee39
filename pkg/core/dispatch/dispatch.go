// Package dispatch routes a finalized query to the correct response path.
// The decision chain is a strict precedence: pending disambiguation, then
// memory/vision-retry classification, then tool intent, then visual need,
// then the selected responder. A query consumed by an earlier step is never
// reconsidered by a later one, so a single utterance cannot be double-routed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/disambig"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/history"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/photo"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
)

// MemoryClassifier decides whether a query references prior conversation or
// retries an earlier visual query.
type MemoryClassifier interface {
	ClassifyMemory(ctx context.Context, text string, turns []types.Turn) (types.MemoryLabel, error)
}

// ToolClassifier decides whether a query targets an external capability.
type ToolClassifier interface {
	ClassifyTool(ctx context.Context, text string) (bool, error)
}

// VisionClassifier decides whether answering needs current visual input.
type VisionClassifier interface {
	ClassifyVision(ctx context.Context, text string) (types.VisionLabel, error)
}

// Responder produces the final structured answer for a query.
type Responder interface {
	Respond(ctx context.Context, req Request) (types.Assistant, error)
}

// Request carries everything a responder needs for one answer.
type Request struct {
	Query string
	Turns []types.Turn
	// Photo is non-nil only on the vision path.
	Photo *types.Photo
	// FullTools releases the responder from minimal-tool mode when the
	// query was classified as tool intent.
	FullTools bool
}

// ActionRunner executes a resolved disambiguation choice.
type ActionRunner interface {
	Run(ctx context.Context, action types.Action, choice types.Candidate) (string, error)
}

// Result is the outcome of one pipeline invocation.
type Result struct {
	Answer string
	// UsedVision reports whether the answer was grounded on a capture.
	UsedVision bool
	// NeedsClarification asks the controller to run its yes/no sub-flow
	// and re-dispatch with Query.ForcedVision set.
	NeedsClarification bool
}

// Query is one normalized, wake-phrase-stripped utterance to dispatch.
type Query struct {
	Text string
	// ForcedVision, when non-nil, overrides the visual-need classification;
	// set by the controller after its clarification sub-flow.
	ForcedVision *bool
}

// Pipeline wires the classifiers, responders and shared session state
// together. One instance per session; not safe for concurrent Run calls,
// which the controller's generation discipline already rules out.
type Pipeline struct {
	logger  *slog.Logger
	photos  *photo.Coordinator
	pending *disambig.State
	turns   *history.Log

	memory  MemoryClassifier
	tools   ToolClassifier
	vision  VisionClassifier
	text    Responder
	visual  Responder
	actions ActionRunner

	// lastVisualQuery backs the "try again" retry path.
	lastVisualQuery string
}

type Deps struct {
	Logger  *slog.Logger
	Photos  *photo.Coordinator
	Pending *disambig.State
	Turns   *history.Log
	Memory  MemoryClassifier
	Tools   ToolClassifier
	Vision  VisionClassifier
	Text    Responder
	Visual  Responder
	Actions ActionRunner
}

func New(deps Deps) (*Pipeline, error) {
	if deps.Photos == nil {
		return nil, errors.New("dispatch: photo coordinator is required")
	}
	if deps.Memory == nil || deps.Tools == nil || deps.Vision == nil {
		return nil, errors.New("dispatch: classifiers are required")
	}
	if deps.Text == nil || deps.Visual == nil {
		return nil, errors.New("dispatch: responders are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Pending == nil {
		deps.Pending = disambig.NewState()
	}
	if deps.Turns == nil {
		deps.Turns = history.NewLog(0, 0)
	}
	return &Pipeline{
		logger:  deps.Logger,
		photos:  deps.Photos,
		pending: deps.Pending,
		turns:   deps.Turns,
		memory:  deps.Memory,
		tools:   deps.Tools,
		vision:  deps.Vision,
		text:    deps.Text,
		visual:  deps.Visual,
		actions: deps.Actions,
	}, nil
}

// Run executes the decision chain for one query.
func (p *Pipeline) Run(ctx context.Context, q Query) (Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Result{}, errors.New("dispatch: empty query")
	}

	// Step 1: a live pending disambiguation wins over every classifier.
	if choice, pend, ok := p.pending.Resolve(text); ok {
		answer, err := p.runAction(ctx, pend, choice)
		if err != nil {
			return Result{}, err
		}
		return Result{Answer: answer}, nil
	}

	turns := p.turns.Recent()

	// Step 2: memory recall and vision retry.
	if q.ForcedVision == nil {
		label, err := p.memory.ClassifyMemory(ctx, text, turns)
		if err != nil {
			p.logger.Warn("memory classification failed", "err", err)
			label = types.MemoryNone
		}
		switch label {
		case types.MemoryRecall:
			return p.respondText(ctx, Request{Query: text, Turns: turns})
		case types.MemoryRetry:
			retry := text
			if p.lastVisualQuery != "" {
				retry = p.lastVisualQuery
			}
			p.photos.Clear()
			p.photos.Request()
			return p.respondVisual(ctx, Request{Query: retry, Turns: turns})
		}
	}

	// Step 3: tool intent. A tool query skips the vision check entirely.
	fullTools := false
	if q.ForcedVision == nil {
		isTool, err := p.tools.ClassifyTool(ctx, text)
		if err != nil {
			p.logger.Warn("tool classification failed", "err", err)
		}
		fullTools = isTool && err == nil
	}

	// Step 4: visual need, unless a tool matched or the controller already
	// settled the question through its clarification sub-flow.
	needVision := types.VisionNo
	switch {
	case q.ForcedVision != nil:
		if *q.ForcedVision {
			needVision = types.VisionYes
		}
	case fullTools:
		needVision = types.VisionNo
	default:
		label, err := p.vision.ClassifyVision(ctx, text)
		if err != nil {
			p.logger.Warn("vision classification failed", "err", err)
			label = types.VisionNo
		}
		needVision = label
	}

	if needVision == types.VisionUnsure {
		return Result{NeedsClarification: true}, nil
	}

	// Step 5: invoke the selected responder.
	if needVision == types.VisionYes {
		return p.respondVisual(ctx, Request{Query: text, Turns: turns})
	}
	p.photos.Clear()
	return p.respondText(ctx, Request{Query: text, Turns: turns, FullTools: fullTools})
}

func (p *Pipeline) respondText(ctx context.Context, req Request) (Result, error) {
	resp, err := p.text.Respond(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("text responder: %w", err)
	}
	p.registerOffer(req.Query, resp)
	return Result{Answer: strings.TrimSpace(resp.Text)}, nil
}

func (p *Pipeline) respondVisual(ctx context.Context, req Request) (Result, error) {
	req.Photo = p.awaitPhoto(ctx)
	resp, err := p.visual.Respond(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("visual responder: %w", err)
	}
	p.lastVisualQuery = req.Query
	p.registerOffer(req.Query, resp)
	return Result{Answer: strings.TrimSpace(resp.Text), UsedVision: req.Photo != nil}, nil
}

// awaitPhoto peeks first and only blocks when nothing is cached yet. A
// timeout or capture failure degrades to answering without the photo.
func (p *Pipeline) awaitPhoto(ctx context.Context) *types.Photo {
	if cached := p.photos.Peek(); cached != nil {
		return cached
	}
	got, err := p.photos.Wait(ctx)
	if err != nil {
		p.logger.Warn("photo unavailable for visual query", "err", err)
		return nil
	}
	return got
}

// registerOffer records a choice-posing answer so the next utterance can be
// resolved against it.
func (p *Pipeline) registerOffer(query string, resp types.Assistant) {
	if pend, ok := disambig.DetectOffer(query, resp); ok {
		p.pending.Offer(pend)
	}
}

func (p *Pipeline) runAction(ctx context.Context, pend *disambig.Pending, choice types.Candidate) (string, error) {
	if p.actions == nil {
		return "", errors.New("dispatch: no action runner configured")
	}
	answer, err := p.actions.Run(ctx, pend.Action, choice)
	if err != nil {
		return "", fmt.Errorf("run %s on %s: %w", pend.Action, choice.Name, err)
	}
	if strings.TrimSpace(answer) == "" {
		verb := "Starting"
		if pend.Action == types.ActionStop {
			verb = "Stopping"
		}
		answer = fmt.Sprintf("%s %s.", verb, choice.Name)
	}
	return answer, nil
}
