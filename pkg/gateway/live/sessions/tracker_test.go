package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker(1)
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("user-1", Handle{SessionID: "s1"})
	u2 := tr.Register("user-2", Handle{SessionID: "s2"})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_ReconnectDisplacesPreviousSession(t *testing.T) {
	tr := NewTracker(1)
	var oldCanceled atomic.Int64
	u1 := tr.Register("user-1", Handle{SessionID: "s1", Cancel: func() { oldCanceled.Add(1) }})
	u2 := tr.Register("user-1", Handle{SessionID: "s2"})

	if oldCanceled.Load() != 1 {
		t.Fatalf("old session cancel calls=%d, want 1", oldCanceled.Load())
	}
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1 session per user", tr.Count())
	}

	// The displaced session's own unregister must not remove the new one.
	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d after stale unregister, want 1", tr.Count())
	}
	u2()
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_CapAboveOneDisplacesOldestOnly(t *testing.T) {
	tr := NewTracker(2)
	var c1, c2, c3 atomic.Int64
	tr.Register("user-1", Handle{SessionID: "s1", Cancel: func() { c1.Add(1) }})
	tr.Register("user-1", Handle{SessionID: "s2", Cancel: func() { c2.Add(1) }})

	// Two sessions fit under the cap; nothing is displaced yet.
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}
	if c1.Load() != 0 || c2.Load() != 0 {
		t.Fatalf("cancel calls=%d/%d, want 0/0", c1.Load(), c2.Load())
	}

	// A third session displaces only the oldest.
	u3 := tr.Register("user-1", Handle{SessionID: "s3", Cancel: func() { c3.Add(1) }})
	if c1.Load() != 1 {
		t.Fatalf("oldest cancel calls=%d, want 1", c1.Load())
	}
	if c2.Load() != 0 || c3.Load() != 0 {
		t.Fatalf("cancel calls=%d/%d, want 0/0", c2.Load(), c3.Load())
	}
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}
	u3()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
}

func TestTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := NewTracker(1)
	var c1, c2 atomic.Int64
	tr.Register("user-1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("user-2", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_NotifyAll_BestEffort(t *testing.T) {
	tr := NewTracker(1)
	var n1, n2 atomic.Int64
	tr.Register("user-1", Handle{Notify: func(code, message string) error {
		_ = code
		_ = message
		n1.Add(1)
		return nil
	}})
	tr.Register("user-2", Handle{Notify: func(code, message string) error {
		_ = code
		_ = message
		n2.Add(1)
		return errors.New("nope")
	}})

	if sent := tr.NotifyAll("draining", "test"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if n1.Load() != 1 || n2.Load() != 1 {
		t.Fatalf("notify calls=%d/%d, want 1/1", n1.Load(), n2.Load())
	}
}
