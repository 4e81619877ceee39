// Package photo manages at most one in-flight device capture per session.
// Capture latency is unpredictable, so callers peek first and only block,
// bounded by a timeout, when visual context is actually required.
package photo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
)

// ErrTimeout is returned by Wait when no capture resolved in time.
var ErrTimeout = errors.New("photo: capture wait timed out")

// DefaultWaitTimeout bounds Wait; a turn must never hang on the camera.
const DefaultWaitTimeout = 4 * time.Second

// Capturer is the device-facing side of a capture request.
type Capturer interface {
	Capture(ctx context.Context) (types.Photo, error)
}

type slot struct {
	done        chan struct{}
	photo       *types.Photo
	err         error
	requestedAt time.Time
}

// Coordinator holds the single mutable capture slot for one session.
type Coordinator struct {
	capturer    Capturer
	waitTimeout time.Duration
	now         func() time.Time

	mu   sync.Mutex
	cur  *slot
	stop context.CancelFunc
	ctx  context.Context
}

func NewCoordinator(capturer Capturer, waitTimeout time.Duration) *Coordinator {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		capturer:    capturer,
		waitTimeout: waitTimeout,
		now:         time.Now,
		ctx:         ctx,
		stop:        cancel,
	}
}

// Request starts a fresh capture. While one is already in flight the call is
// a no-op; otherwise any stale resolved entry is dropped first so a new turn
// always sees a fresh frame.
func (c *Coordinator) Request() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && !c.cur.resolved() {
		return
	}
	s := &slot{done: make(chan struct{}), requestedAt: c.now()}
	c.cur = s
	go c.run(s)
}

func (c *Coordinator) run(s *slot) {
	p, err := c.capturer.Capture(c.ctx)
	c.mu.Lock()
	if err != nil {
		s.err = err
	} else {
		p.RequestedAt = s.requestedAt
		s.photo = &p
	}
	c.mu.Unlock()
	close(s.done)
}

// Peek returns the resolved photo, or nil without blocking.
func (c *Coordinator) Peek() *types.Photo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.photo
}

// Wait returns the resolved photo, blocking until the in-flight capture
// resolves or the wait timeout elapses, whichever comes first. With no
// capture outstanding it returns nil immediately.
func (c *Coordinator) Wait(ctx context.Context) (*types.Photo, error) {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil {
		return nil, nil
	}

	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.photo, nil
}

// Clear drops the slot regardless of in-flight state. A capture that later
// resolves fills an abandoned slot and is never seen again.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
}

// Close releases the coordinator; outstanding captures are canceled.
func (c *Coordinator) Close() {
	c.stop()
	c.Clear()
}

func (s *slot) resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
