package escrow

import "errors"

// Error taxonomy surfaced by every engine entry point. Each sentinel names the
// failure kind; call sites wrap them with a human-readable reason so callers
// can match with errors.Is while still receiving context.
var (
	// ErrUnauthorized indicates the caller lacks the required role for the
	// attempted action (not owner, not partyA, not agent, ...).
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrPaused indicates the ledger is paused and the action mutates state.
	ErrPaused = errors.New("escrow: paused")
	// ErrInvalidState indicates the record's status does not permit the action.
	ErrInvalidState = errors.New("escrow: incorrect state")
	// ErrInvalidCounterparty indicates the counterparty equals the caller at
	// creation, or a resolution beneficiary is not one of the recorded parties.
	ErrInvalidCounterparty = errors.New("escrow: invalid counterparty")
	// ErrInsufficientValue indicates lockFunds was invoked with a non-positive
	// value, or the payer's balance cannot cover the deposit.
	ErrInsufficientValue = errors.New("escrow: insufficient value")
	// ErrNotFound indicates the referenced escrow identifier is unknown.
	ErrNotFound = errors.New("escrow: not found")
)

var (
	errNilState       = errors.New("escrow engine: state not configured")
	errNilRecord      = errors.New("escrow: nil record")
	errNegativeAmount = errors.New("escrow: amount must be non-negative")
	errInvalidStatus  = errors.New("escrow: invalid status")
)
