package escrow

import "math/big"

// Status represents the lifecycle states supported by the escrow ledger.
type Status uint8

const (
	StatusDrafting Status = iota
	StatusFunded
	StatusConditionsMonitoring
	StatusCompleted
	StatusDisputed
	StatusResolved
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusDrafting, StatusFunded, StatusConditionsMonitoring, StatusCompleted, StatusDisputed, StatusResolved, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusResolved, StatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name used in events and RPC payloads.
func (s Status) String() string {
	switch s {
	case StatusDrafting:
		return "drafting"
	case StatusFunded:
		return "funded"
	case StatusConditionsMonitoring:
		return "conditionsMonitoring"
	case StatusCompleted:
		return "completed"
	case StatusDisputed:
		return "disputed"
	case StatusResolved:
		return "resolved"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Record captures the terms and runtime status of a single escrow agreement.
// Identifiers are allocated sequentially by the record store and never reused.
// PartyA is the depositor, PartyB the payee, Agent the arbitration identity
// empowered to record verifiables, release funds and resolve disputes.
type Record struct {
	ID            uint64
	PartyA        [20]byte
	PartyB        [20]byte
	Agent         [20]byte
	Summary       string
	Amount        *big.Int
	Verifiables   []string
	DisputeReason string
	Status        Status
	CreatedAt     int64
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if r.Verifiables != nil {
		clone.Verifiables = append([]string(nil), r.Verifiables...)
	}
	return &clone
}

// SanitizeRecord validates and normalises the supplied record, returning a
// cloned instance with a non-nil amount. The original value is not mutated.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, errNilRecord
	}
	clone := r.Clone()
	if clone.Amount.Sign() < 0 {
		return nil, errNegativeAmount
	}
	if !clone.Status.Valid() {
		return nil, errInvalidStatus
	}
	if clone.PartyA == clone.PartyB {
		return nil, ErrInvalidCounterparty
	}
	return clone, nil
}
