package wallet

import (
	"context"
	"encoding/json"

	"github.com/vietddude/txpilot/internal/core/domain"
)

// Client is the boundary to the wallet/RPC collaborator that actually
// performs and settles operations. txpilot only ever calls these two
// methods; everything else about the collaborator is out of scope.
type Client interface {
	// Name identifies the collaborator in logs.
	Name() string

	// SubmitOperation performs the fallible submit step and returns the
	// external reference under which the operation can be tracked.
	SubmitOperation(ctx context.Context, params []any) (string, error)

	// LookupStatus reports the current settlement state of a reference.
	LookupStatus(ctx context.Context, ref string) (domain.RefStatus, error)

	// Close releases the underlying connection.
	Close() error
}

// statusPayload is the wire shape of a status lookup result.
type statusPayload struct {
	State          string          `json:"state"`
	BlockNumber    uint64          `json:"block_number,omitempty"`
	ReplacementRef string          `json:"replacement_ref,omitempty"`
	Receipt        json.RawMessage `json:"receipt,omitempty"`
}

func (p statusPayload) toDomain(ref string) domain.RefStatus {
	status := domain.RefStatus{
		State:          domain.RefState(p.State),
		ReplacementRef: p.ReplacementRef,
	}
	if status.State == domain.RefConfirmed {
		status.Receipt = &domain.Receipt{
			Ref:         ref,
			BlockNumber: p.BlockNumber,
			Raw:         p.Receipt,
		}
	}
	return status
}
