// Package sessions tracks live device sessions for shutdown draining and
// per-user session-cap enforcement.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the tracker needs from a live session: a way to cancel it
// and a way to push a short notice (e.g. before a drain).
type Handle struct {
	SessionID string
	Cancel    func()
	Notify    func(code, message string) error
}

type tracked struct {
	handle Handle
	once   sync.Once
}

// Tracker indexes active sessions by user and enforces a per-user cap. A
// user connecting past the cap displaces their oldest session: it is
// canceled so two devices never share turn state.
type Tracker struct {
	maxPerUser int

	mu    sync.Mutex
	users map[string][]*tracked
	wg    sync.WaitGroup
}

// NewTracker builds a tracker allowing up to maxPerUser concurrent
// sessions per user. Values below one mean a single session.
func NewTracker(maxPerUser int) *Tracker {
	if maxPerUser < 1 {
		maxPerUser = 1
	}
	return &Tracker{maxPerUser: maxPerUser, users: make(map[string][]*tracked)}
}

// Register records a user's live session and returns its unregister func.
// When the user is at the cap, their oldest session is canceled and
// unregistered to make room.
func (t *Tracker) Register(userID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &tracked{handle: h}

	t.mu.Lock()
	if t.users == nil {
		t.users = make(map[string][]*tracked)
	}
	max := t.maxPerUser
	if max < 1 {
		max = 1
	}
	var displaced []*tracked
	active := t.users[userID]
	if over := len(active) + 1 - max; over > 0 {
		displaced = active[:over]
		active = active[over:]
	}
	t.users[userID] = append(active, entry)
	t.wg.Add(1)
	t.mu.Unlock()

	for _, old := range displaced {
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
		t.unregister(userID, old)
	}

	return func() { t.unregister(userID, entry) }
}

func (t *Tracker) unregister(userID string, entry *tracked) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.users != nil {
			active := t.users[userID]
			for i, e := range active {
				if e == entry {
					t.users[userID] = append(active[:i], active[i+1:]...)
					break
				}
			}
			if len(t.users[userID]) == 0 {
				delete(t.users, userID)
			}
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, active := range t.users {
		n += len(active)
	}
	return n
}

// NotifyAll pushes a notice to every active session, e.g. ahead of a drain.
func (t *Tracker) NotifyAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var notifies []func(code, message string) error
	t.mu.Lock()
	for _, active := range t.users {
		for _, entry := range active {
			if entry == nil || entry.handle.Notify == nil {
				continue
			}
			notifies = append(notifies, entry.handle.Notify)
		}
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		_ = notify(code, message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, active := range t.users {
		for _, entry := range active {
			if entry == nil || entry.handle.Cancel == nil {
				continue
			}
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session unregisters, or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
