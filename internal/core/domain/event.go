package domain

import "time"

// Event is a lifecycle notification carrying a record snapshot.
type Event struct {
	Type      EventType       `json:"type"`
	Record    OperationRecord `json:"record"`
	EmittedAt time.Time       `json:"emitted_at"`
}

type EventType string

const (
	EventCreated   EventType = "created"
	EventSubmitted EventType = "submitted"
	EventUpdated   EventType = "updated"
	EventConfirmed EventType = "confirmed"
	EventFailed    EventType = "failed"
)
