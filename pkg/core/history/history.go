// Package history keeps the bounded, time-windowed record of completed
// conversation turns a session may draw on for follow-up context.
package history

import (
	"sync"
	"time"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/types"
)

const (
	DefaultMaxTurns = 10
	DefaultMaxAge   = 10 * time.Minute
)

// Log is an append-only turn log with a count ceiling and an age ceiling;
// whichever trips first evicts the oldest turns.
type Log struct {
	maxTurns int
	maxAge   time.Duration
	now      func() time.Time

	mu    sync.Mutex
	turns []types.Turn
}

func NewLog(maxTurns int, maxAge time.Duration) *Log {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Log{maxTurns: maxTurns, maxAge: maxAge, now: time.Now}
}

// Append records a completed turn.
func (l *Log) Append(query, response string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, types.Turn{Query: query, Response: response, At: l.now()})
	l.prune()
}

// Recent returns a copy of the live window, oldest first.
func (l *Log) Recent() []types.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune()
	out := make([]types.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len reports the current number of live turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune()
	return len(l.turns)
}

// Clear drops every turn.
func (l *Log) Clear() {
	l.mu.Lock()
	l.turns = nil
	l.mu.Unlock()
}

func (l *Log) prune() {
	if len(l.turns) > l.maxTurns {
		l.turns = l.turns[len(l.turns)-l.maxTurns:]
	}
	cutoff := l.now().Add(-l.maxAge)
	i := 0
	for i < len(l.turns) && l.turns[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.turns = l.turns[i:]
	}
}
