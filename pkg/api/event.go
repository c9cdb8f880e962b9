package api

import (
	"time"
)

// EventKind tags a notification emitted by a participant.
type EventKind string

const (
	// EventKindStateChanged carries a full state snapshot. Exactly-once and
	// strictly ordered per participant.
	EventKindStateChanged EventKind = "state-changed"
	// EventKindLog carries a log line. At-least-once delivery.
	EventKindLog EventKind = "log"
	// EventKindError carries the reason of a non-fatal error.
	EventKindError EventKind = "error"
)

// Event is a notification emitted by one participant.
type Event struct {
	Kind          EventKind `json:"kind"`
	ParticipantId string    `json:"participantId"`
	Created       time.Time `json:"created"`

	// State is set for state-changed events.
	State *ParticipantState `json:"state,omitempty"`
	// Level and Message are set for log and error events.
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

func NewStateChangedEvent(participantId string, state *ParticipantState) Event {
	return Event{
		Kind:          EventKindStateChanged,
		ParticipantId: participantId,
		Created:       time.Now(),
		State:         state,
	}
}

func NewLogEvent(participantId, level, message string) Event {
	return Event{
		Kind:          EventKindLog,
		ParticipantId: participantId,
		Created:       time.Now(),
		Level:         level,
		Message:       message,
	}
}

func NewErrorEvent(participantId, message string) Event {
	return Event{
		Kind:          EventKindError,
		ParticipantId: participantId,
		Created:       time.Now(),
		Message:       message,
	}
}
