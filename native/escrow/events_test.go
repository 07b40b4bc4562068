package escrow

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func testEventRecord() *Record {
	return &Record{
		ID:          3,
		PartyA:      newTestAddress(0x02),
		PartyB:      newTestAddress(0x03),
		Agent:       newTestAddress(0x04),
		Summary:     "Test Summary",
		Amount:      big.NewInt(42),
		Verifiables: []string{"C1", "C2"},
		Status:      StatusConditionsMonitoring,
		CreatedAt:   1_700_000_000,
	}
}

func TestNewCreatedEventAttributes(t *testing.T) {
	rec := testEventRecord()
	evt := NewCreatedEvent(rec)
	require.Equal(t, EventTypeCreated, evt.Type)
	require.Equal(t, "3", evt.Attributes["id"])
	require.Equal(t, hex.EncodeToString(rec.PartyA[:]), evt.Attributes["partyA"])
	require.Equal(t, hex.EncodeToString(rec.PartyB[:]), evt.Attributes["partyB"])
	require.Equal(t, hex.EncodeToString(rec.Agent[:]), evt.Attributes["agent"])
	require.Equal(t, "42", evt.Attributes["amount"])
	require.Equal(t, "conditionsMonitoring", evt.Attributes["status"])
}

func TestVerifiablesSetEventCarriesList(t *testing.T) {
	evt := NewVerifiablesSetEvent(testEventRecord())
	require.Equal(t, EventTypeVerifiablesSet, evt.Type)

	var list []string
	require.NoError(t, json.Unmarshal([]byte(evt.Attributes["verifiables"]), &list))
	require.Equal(t, []string{"C1", "C2"}, list)
}

func TestDisputeEventsCarryReasonAndBeneficiary(t *testing.T) {
	rec := testEventRecord()
	rec.DisputeReason = "Dispute reason"
	rec.Status = StatusDisputed

	raised := NewDisputeRaisedEvent(rec)
	require.Equal(t, "Dispute reason", raised.Attributes["reason"])

	resolved := NewDisputeResolvedEvent(rec, rec.PartyA)
	require.Equal(t, hex.EncodeToString(rec.PartyA[:]), resolved.Attributes["beneficiary"])
}

func TestReleasedEventNamesPartyB(t *testing.T) {
	rec := testEventRecord()
	rec.Status = StatusCompleted
	evt := NewFundsReleasedEvent(rec)
	require.Equal(t, hex.EncodeToString(rec.PartyB[:]), evt.Attributes["beneficiary"])
}

func TestNilRecordEventsAreEmpty(t *testing.T) {
	evt := NewCreatedEvent(nil)
	require.Equal(t, EventTypeCreated, evt.Type)
	require.Empty(t, evt.Attributes)
}

func TestPauseEvents(t *testing.T) {
	ownerAddr := newTestAddress(0x01)
	paused := NewPausedEvent(ownerAddr)
	require.Equal(t, EventTypePaused, paused.Type)
	require.Equal(t, hex.EncodeToString(ownerAddr[:]), paused.Attributes["owner"])

	unpaused := NewUnpausedEvent(ownerAddr)
	require.Equal(t, EventTypeUnpaused, unpaused.Type)
}
