package lifecycle

import "sync/atomic"

// Lifecycle holds process-wide shutdown state shared across handlers. While
// draining, readiness reports not-ready and new live sessions are refused;
// established sessions keep running until the grace period ends.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
