package domain

import (
	"encoding/json"
	"time"
)

// OperationStatus tracks where a managed operation is in its lifecycle.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusSubmitted  OperationStatus = "submitted"
	StatusConfirming OperationStatus = "confirming"
	StatusConfirmed  OperationStatus = "confirmed"
	StatusFailed     OperationStatus = "failed"
	StatusRejected   OperationStatus = "rejected"
	StatusReplaced   OperationStatus = "replaced"
	StatusTimedOut   OperationStatus = "timed_out"
)

// Terminal reports whether the status is a settlement state.
// A record in a terminal status never transitions again.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusRejected, StatusReplaced, StatusTimedOut:
		return true
	}
	return false
}

// Receipt is the success payload of a confirmed operation.
type Receipt struct {
	Ref         string          `json:"ref"`
	BlockNumber uint64          `json:"block_number,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// OperationRecord is the lifecycle record of a single submitted operation.
// The registry owns the canonical record; everything handed to callers or
// subscribers is a copy.
type OperationRecord struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Status      OperationStatus  `json:"status"`
	ExternalRef string           `json:"external_ref,omitempty"`
	Attempts    int              `json:"attempts"`
	CreatedAt   time.Time        `json:"created_at"`
	SubmittedAt time.Time        `json:"submitted_at,omitzero"`
	SettledAt   time.Time        `json:"settled_at,omitzero"`
	LastError   *ClassifiedError `json:"last_error,omitempty"`
	Result      *Receipt         `json:"result,omitempty"`
}

// Clone returns a deep copy safe to hand outside the registry.
func (r *OperationRecord) Clone() OperationRecord {
	out := *r
	if r.LastError != nil {
		e := *r.LastError
		out.LastError = &e
	}
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	return out
}

// RefState is what a status lookup reports about an external reference.
type RefState string

const (
	RefPending   RefState = "pending"
	RefConfirmed RefState = "confirmed"
	RefReverted  RefState = "reverted"
	RefReplaced  RefState = "replaced"
)

// RefStatus is a single status-lookup observation.
type RefStatus struct {
	State          RefState `json:"state"`
	Receipt        *Receipt `json:"receipt,omitempty"`
	ReplacementRef string   `json:"replacement_ref,omitempty"`
}
