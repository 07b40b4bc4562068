package escrow

import (
	"encoding/hex"
	"encoding/json"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeCreated         = "escrow.created"
	EventTypeFundsLocked     = "escrow.fundsLocked"
	EventTypeVerifiablesSet  = "escrow.verifiablesSet"
	EventTypeFundsReleased   = "escrow.fundsReleased"
	EventTypeDisputeRaised   = "escrow.disputeRaised"
	EventTypeDisputeResolved = "escrow.disputeResolved"
	EventTypeCancelled       = "escrow.cancelled"
	EventTypePaused          = "escrow.paused"
	EventTypeUnpaused        = "escrow.unpaused"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow record.
func NewCreatedEvent(r *Record) *types.Event { return newRecordEvent(EventTypeCreated, r) }

// NewFundsLockedEvent returns the canonical payload emitted when partyA locks
// the deposit into custody.
func NewFundsLockedEvent(r *Record) *types.Event { return newRecordEvent(EventTypeFundsLocked, r) }

// NewVerifiablesSetEvent returns the payload emitted when the agent records
// the verifiable condition list.
func NewVerifiablesSetEvent(r *Record) *types.Event {
	evt := newRecordEvent(EventTypeVerifiablesSet, r)
	if r != nil {
		if encoded, err := json.Marshal(r.Verifiables); err == nil {
			evt.Attributes["verifiables"] = string(encoded)
		}
	}
	return evt
}

// NewFundsReleasedEvent returns the payload for a release of custody funds to
// partyB.
func NewFundsReleasedEvent(r *Record) *types.Event {
	evt := newRecordEvent(EventTypeFundsReleased, r)
	if r != nil {
		evt.Attributes["beneficiary"] = hex.EncodeToString(r.PartyB[:])
	}
	return evt
}

// NewDisputeRaisedEvent returns the payload emitted when either counterparty
// raises a dispute.
func NewDisputeRaisedEvent(r *Record) *types.Event {
	evt := newRecordEvent(EventTypeDisputeRaised, r)
	if r != nil {
		evt.Attributes["reason"] = r.DisputeReason
	}
	return evt
}

// NewDisputeResolvedEvent returns the payload emitted when the agent settles
// a dispute in favour of the named beneficiary.
func NewDisputeResolvedEvent(r *Record, beneficiary [20]byte) *types.Event {
	evt := newRecordEvent(EventTypeDisputeResolved, r)
	evt.Attributes["beneficiary"] = hex.EncodeToString(beneficiary[:])
	return evt
}

// NewCancelledEvent returns the payload emitted when partyA cancels a
// Drafting escrow.
func NewCancelledEvent(r *Record) *types.Event { return newRecordEvent(EventTypeCancelled, r) }

// NewPausedEvent returns the payload emitted when the owner pauses the ledger.
func NewPausedEvent(owner [20]byte) *types.Event {
	return &types.Event{Type: EventTypePaused, Attributes: map[string]string{
		"owner": hex.EncodeToString(owner[:]),
	}}
}

// NewUnpausedEvent returns the payload emitted when the owner lifts the pause.
func NewUnpausedEvent(owner [20]byte) *types.Event {
	return &types.Event{Type: EventTypeUnpaused, Attributes: map[string]string{
		"owner": hex.EncodeToString(owner[:]),
	}}
}

func newRecordEvent(eventType string, r *Record) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["partyA"] = hex.EncodeToString(sanitized.PartyA[:])
	attrs["partyB"] = hex.EncodeToString(sanitized.PartyB[:])
	attrs["amount"] = sanitized.Amount.String()
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.Agent != ([20]byte{}) {
		attrs["agent"] = hex.EncodeToString(sanitized.Agent[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
