package escrow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusDrafting, StatusFunded, StatusConditionsMonitoring, StatusCompleted, StatusDisputed, StatusResolved, StatusCancelled} {
		require.True(t, s.Valid(), s.String())
	}
	require.False(t, Status(250).Valid())
	require.Equal(t, "unknown", Status(250).String())
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusDrafting:             false,
		StatusFunded:               false,
		StatusConditionsMonitoring: false,
		StatusCompleted:            true,
		StatusDisputed:             false,
		StatusResolved:             true,
		StatusCancelled:            true,
	}
	for status, want := range terminal {
		require.Equal(t, want, status.Terminal(), status.String())
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	rec := &Record{
		ID:          7,
		PartyA:      newTestAddress(0x02),
		PartyB:      newTestAddress(0x03),
		Amount:      big.NewInt(100),
		Verifiables: []string{"C1"},
	}
	clone := rec.Clone()
	clone.Amount.SetInt64(999)
	clone.Verifiables[0] = "mutated"

	require.Equal(t, int64(100), rec.Amount.Int64())
	require.Equal(t, "C1", rec.Verifiables[0])
}

func TestRecordCloneNilAmount(t *testing.T) {
	rec := &Record{ID: 1}
	clone := rec.Clone()
	require.NotNil(t, clone.Amount)
	require.Zero(t, clone.Amount.Sign())
}

func TestSanitizeRecord(t *testing.T) {
	valid := &Record{
		ID:     1,
		PartyA: newTestAddress(0x02),
		PartyB: newTestAddress(0x03),
		Status: StatusDrafting,
	}
	sanitized, err := SanitizeRecord(valid)
	require.NoError(t, err)
	require.NotNil(t, sanitized.Amount)

	_, err = SanitizeRecord(nil)
	require.Error(t, err)

	negative := valid.Clone()
	negative.Amount = big.NewInt(-1)
	_, err = SanitizeRecord(negative)
	require.Error(t, err)

	badStatus := valid.Clone()
	badStatus.Status = Status(200)
	_, err = SanitizeRecord(badStatus)
	require.Error(t, err)

	samePartys := valid.Clone()
	samePartys.PartyB = samePartys.PartyA
	_, err = SanitizeRecord(samePartys)
	require.ErrorIs(t, err, ErrInvalidCounterparty)
}

func TestParseAgentScope(t *testing.T) {
	scope, err := ParseAgentScope("global")
	require.NoError(t, err)
	require.Equal(t, AgentScopeGlobal, scope)

	scope, err = ParseAgentScope("per-escrow")
	require.NoError(t, err)
	require.Equal(t, AgentScopePerEscrow, scope)

	scope, err = ParseAgentScope("")
	require.NoError(t, err)
	require.Equal(t, AgentScopeGlobal, scope)

	_, err = ParseAgentScope("committee")
	require.Error(t, err)
}
