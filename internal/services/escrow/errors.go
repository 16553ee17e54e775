package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the job, contract, or milestone does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNotAuthorized means the caller does not own the resource the
	// operation acts on.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidState means the operation is not legal for the current
	// escrow or contract state (e.g. releasing unfunded escrow).
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrAlreadyFunded means the job escrow was already funded; funding is
	// a one-shot operation per job.
	ErrAlreadyFunded = errors.New("escrow already funded")

	// ErrAlreadyCompleted means the milestone was already released.
	ErrAlreadyCompleted = errors.New("milestone already completed")

	// ErrPaymentDeclined means the gateway cleanly declined the charge.
	// Nothing was persisted and the operation can be retried.
	ErrPaymentDeclined = errors.New("payment declined by gateway")
)

// ReconciliationError reports that the gateway confirmed a charge but the
// local commit failed afterwards. The money moved and our records did not,
// so the transaction ID must be reconciled by an operator, never retried
// automatically.
type ReconciliationError struct {
	GatewayTransactionID string
	Err                  error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("payment %s succeeded but local commit failed, manual reconciliation required: %v", e.GatewayTransactionID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
