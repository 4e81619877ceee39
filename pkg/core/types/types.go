// Package types holds the shared data model of the voice-interaction core:
// transcription events arriving from a device, captured photos, conversation
// turns, and the structured results returned by classifier and responder
// collaborators.
package types

import (
	"strings"
	"time"
)

// TranscriptionEvent is one speech-to-text update for the current utterance.
// Text is cumulative within the utterance, not a delta.
type TranscriptionEvent struct {
	SpeakerID string
	Text      string
	IsFinal   bool
	At        time.Time
}

// Photo is a resolved device capture.
type Photo struct {
	Bytes       []byte
	MimeType    string
	RequestedAt time.Time
}

// Turn is one completed query/response exchange.
type Turn struct {
	Query    string
	Response string
	At       time.Time
}

// Action is the verb recorded with a disambiguation offer.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// ParseAction normalizes a free-form verb into an Action.
func ParseAction(raw string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "start", "open", "launch":
		return ActionStart, true
	case "stop", "close", "kill":
		return ActionStop, true
	}
	return "", false
}

// Candidate is one option offered to the user when a request was ambiguous.
// Name may carry a bracketed qualifier, e.g. "Notes [Dev]".
type Candidate struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// Assistant is the typed result of a responder collaborator. When the
// responder needs the user to choose among candidates it fills Options and
// Action instead of embedding markers in the prose answer.
type Assistant struct {
	Text    string      `json:"text"`
	Options []Candidate `json:"options,omitempty"`
	Action  string      `json:"action,omitempty"`
}

// MemoryLabel classifies whether a query leans on prior conversation.
type MemoryLabel string

const (
	MemoryNone   MemoryLabel = "none"
	MemoryRecall MemoryLabel = "recall"
	MemoryRetry  MemoryLabel = "vision_retry"
)

// VisionLabel classifies whether a query needs current visual input.
type VisionLabel string

const (
	VisionYes    VisionLabel = "yes"
	VisionNo     VisionLabel = "no"
	VisionUnsure VisionLabel = "unsure"
)

// FollowUpLabel classifies an utterance arriving inside the follow-up window.
type FollowUpLabel string

const (
	FollowUpContinue FollowUpLabel = "continue"
	FollowUpClosing  FollowUpLabel = "closing"
	FollowUpCancel   FollowUpLabel = "cancel"
)
