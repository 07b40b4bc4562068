package escrow

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowd/core/events"
	"escrowd/core/types"
)

type mockState struct {
	records  map[uint64]*Record
	accounts map[[20]byte]*types.Account
	custody  map[uint64]*big.Int
	vault    [20]byte
	nextID   uint64
	paused   bool
}

func newMockState() *mockState {
	return &mockState{
		records:  make(map[uint64]*Record),
		accounts: make(map[[20]byte]*types.Account),
		custody:  make(map[uint64]*big.Int),
		vault:    newTestAddress(0xAA),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) EscrowPut(r *Record) error {
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return err
	}
	m.records[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) EscrowGet(id uint64) (*Record, bool) {
	rec, ok := m.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (m *mockState) EscrowNextID() (uint64, error) {
	id := m.nextID
	m.nextID++
	return id, nil
}

func (m *mockState) EscrowCredit(id uint64, amt *big.Int) error {
	current := big.NewInt(0)
	if existing, ok := m.custody[id]; ok && existing != nil {
		current = new(big.Int).Set(existing)
	}
	m.custody[id] = current.Add(current, amt)
	return nil
}

func (m *mockState) EscrowDebit(id uint64, amt *big.Int) error {
	current := big.NewInt(0)
	if existing, ok := m.custody[id]; ok && existing != nil {
		current = new(big.Int).Set(existing)
	}
	if current.Cmp(amt) < 0 {
		return errInsufficientBalance
	}
	current.Sub(current, amt)
	if current.Sign() == 0 {
		delete(m.custody, id)
	} else {
		m.custody[id] = current
	}
	return nil
}

func (m *mockState) EscrowVaultAddress() [20]byte { return m.vault }

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return &types.Account{Nonce: acc.Nonce, Balance: new(big.Int).Set(acc.Balance)}, nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = &types.Account{Nonce: account.Nonce, Balance: new(big.Int).Set(account.Balance)}
	return nil
}

func (m *mockState) PausedGet() (bool, error) { return m.paused, nil }

func (m *mockState) PausedPut(v bool) error {
	m.paused = v
	return nil
}

func (m *mockState) setBalance(addr [20]byte, amount *big.Int) {
	m.accounts[addr] = &types.Account{Balance: new(big.Int).Set(amount)}
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Balance)
}

type recordingEmitter struct {
	types []string
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.types = append(r.types, evt.EventType())
}

var (
	owner    = newTestAddress(0x01)
	partyA   = newTestAddress(0x02)
	partyB   = newTestAddress(0x03)
	agent    = newTestAddress(0x04)
	outsider = newTestAddress(0x05)
)

var oneCoin = big.NewInt(1_000_000_000_000_000_000)

func newTestEngine(t *testing.T, state *mockState) *Engine {
	t.Helper()
	engine := NewEngine()
	engine.SetState(state)
	engine.SetOwner(owner)
	require.NoError(t, engine.SetAgentPolicy(AgentPolicy{Scope: AgentScopeGlobal, Agent: agent}))
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine
}

func fundedFixture(t *testing.T) (*Engine, *mockState, *Record) {
	t.Helper()
	state := newMockState()
	state.setBalance(partyA, new(big.Int).Mul(oneCoin, big.NewInt(10)))
	engine := newTestEngine(t, state)
	rec, err := engine.Create(partyA, partyB, "Test Summary", nil)
	require.NoError(t, err)
	require.NoError(t, engine.LockFunds(rec.ID, partyA, oneCoin))
	return engine, state, rec
}

func monitoringFixture(t *testing.T) (*Engine, *mockState, *Record) {
	t.Helper()
	engine, state, rec := fundedFixture(t)
	require.NoError(t, engine.SetVerifiables(rec.ID, agent, []string{"Condition 1"}))
	return engine, state, rec
}

func TestCreateAllocatesSequentialIDs(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)

	for i := uint64(0); i < 3; i++ {
		rec, err := engine.Create(partyA, partyB, "Test Summary", nil)
		require.NoError(t, err)
		require.Equal(t, i, rec.ID)
		require.Equal(t, StatusDrafting, rec.Status)
		require.Equal(t, partyA, rec.PartyA)
		require.Equal(t, partyB, rec.PartyB)
		require.Equal(t, agent, rec.Agent)
		require.Equal(t, "Test Summary", rec.Summary)
		require.Zero(t, rec.Amount.Sign())
	}
}

func TestCreateGuards(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)

	_, err := engine.Create(partyA, partyA, "self", nil)
	require.ErrorIs(t, err, ErrInvalidCounterparty)

	_, err = engine.Create(partyA, [20]byte{}, "zero", nil)
	require.ErrorIs(t, err, ErrInvalidCounterparty)

	perEscrowAgent := agent
	_, err = engine.Create(partyA, partyB, "agent under global policy", &perEscrowAgent)
	require.Error(t, err)
}

func TestLockFundsMovesValueIntoCustody(t *testing.T) {
	state := newMockState()
	state.setBalance(partyA, new(big.Int).Mul(oneCoin, big.NewInt(2)))
	engine := newTestEngine(t, state)

	rec, err := engine.Create(partyA, partyB, "Test Summary", nil)
	require.NoError(t, err)
	require.NoError(t, engine.LockFunds(rec.ID, partyA, oneCoin))

	stored, err := engine.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFunded, stored.Status)
	require.Zero(t, stored.Amount.Cmp(oneCoin))
	require.Zero(t, state.balance(state.vault).Cmp(oneCoin))
	require.Zero(t, state.balance(partyA).Cmp(oneCoin))
}

func TestLockFundsGuards(t *testing.T) {
	state := newMockState()
	state.setBalance(partyA, oneCoin)
	engine := newTestEngine(t, state)
	rec, err := engine.Create(partyA, partyB, "Test Summary", nil)
	require.NoError(t, err)

	require.ErrorIs(t, engine.LockFunds(rec.ID, partyB, oneCoin), ErrUnauthorized)
	require.ErrorIs(t, engine.LockFunds(rec.ID, partyA, big.NewInt(0)), ErrInsufficientValue)
	require.ErrorIs(t, engine.LockFunds(rec.ID, partyA, new(big.Int).Mul(oneCoin, big.NewInt(5))), ErrInsufficientValue)
	require.ErrorIs(t, engine.LockFunds(99, partyA, oneCoin), ErrNotFound)

	// Failed attempts must not touch custody.
	require.Zero(t, state.balance(state.vault).Sign())

	require.NoError(t, engine.LockFunds(rec.ID, partyA, oneCoin))
	require.ErrorIs(t, engine.LockFunds(rec.ID, partyA, oneCoin), ErrInvalidState)
}

func TestSetVerifiablesIdempotentOverwrite(t *testing.T) {
	engine, _, rec := fundedFixture(t)

	require.NoError(t, engine.SetVerifiables(rec.ID, agent, []string{"Condition 1", "Condition 2"}))
	stored, err := engine.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConditionsMonitoring, stored.Status)
	require.Equal(t, []string{"Condition 1", "Condition 2"}, stored.Verifiables)

	// Re-entry from ConditionsMonitoring overwrites with the last list.
	require.NoError(t, engine.SetVerifiables(rec.ID, agent, []string{"Condition 3"}))
	stored, err = engine.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConditionsMonitoring, stored.Status)
	require.Equal(t, []string{"Condition 3"}, stored.Verifiables)
}

func TestSetVerifiablesGuards(t *testing.T) {
	engine, _, rec := fundedFixture(t)

	require.ErrorIs(t, engine.SetVerifiables(rec.ID, partyA, []string{"C"}), ErrUnauthorized)

	state := newMockState()
	fresh := newTestEngine(t, state)
	drafting, err := fresh.Create(partyA, partyB, "Test Summary", nil)
	require.NoError(t, err)
	require.ErrorIs(t, fresh.SetVerifiables(drafting.ID, agent, []string{"C"}), ErrInvalidState)
}

func TestReleaseFundsPaysPartyB(t *testing.T) {
	engine, state, rec := monitoringFixture(t)

	require.NoError(t, engine.ReleaseFunds(rec.ID, agent))

	stored, err := engine.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Zero(t, state.balance(partyB).Cmp(oneCoin))
	require.Zero(t, state.balance(state.vault).Sign())
	_, held := state.custody[rec.ID]
	require.False(t, held)
}

func TestReleaseFundsGuards(t *testing.T) {
	engine, _, rec := monitoringFixture(t)

	require.ErrorIs(t, engine.ReleaseFunds(rec.ID, partyA), ErrUnauthorized)
	require.ErrorIs(t, engine.ReleaseFunds(99, agent), ErrNotFound)

	require.NoError(t, engine.ReleaseFunds(rec.ID, agent))
	require.ErrorIs(t, engine.ReleaseFunds(rec.ID, agent), ErrInvalidState)
}

func TestTerminalRecordsAreImmutable(t *testing.T) {
	engine, _, rec := monitoringFixture(t)
	require.NoError(t, engine.ReleaseFunds(rec.ID, agent))

	require.ErrorIs(t, engine.LockFunds(rec.ID, partyA, oneCoin), ErrInvalidState)
	require.ErrorIs(t, engine.SetVerifiables(rec.ID, agent, []string{"C"}), ErrInvalidState)
	require.ErrorIs(t, engine.ReleaseFunds(rec.ID, agent), ErrInvalidState)
	require.ErrorIs(t, engine.RaiseDispute(rec.ID, partyB, "late"), ErrInvalidState)
	require.ErrorIs(t, engine.ResolveDispute(rec.ID, agent, partyA), ErrInvalidState)
	require.ErrorIs(t, engine.Cancel(rec.ID, partyA), ErrInvalidState)

	stored, err := engine.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
}

func TestRaiseDisputeByEitherParty(t *testing.T) {
	for _, caller := range [][20]byte{partyA, partyB} {
		engine, _, rec := monitoringFixture(t)
		require.NoError(t, engine.RaiseDispute(rec.ID, caller, "Dispute reason"))

		stored, err := engine.Get(rec.ID)
		require.NoError(t, err)
		require.Equal(t, StatusDisputed, stored.Status)
		require.Equal(t, "Dispute reason", stored.DisputeReason)

		// A second raise is rejected by the state guard.
		require.ErrorIs(t, engine.RaiseDispute(rec.ID, caller, "again"), ErrInvalidState)
	}
}

func TestRaiseDisputeGuards(t *testing.T) {
	engine, _, rec := monitoringFixture(t)
	require.ErrorIs(t, engine.RaiseDispute(rec.ID, outsider, "reason"), ErrUnauthorized)

	state := newMockState()
	fresh := newTestEngine(t, state)
	drafting, err := fresh.Create(partyA, partyB, "Test Summary", nil)
	require.NoError(t, err)
	require.ErrorIs(t, fresh.RaiseDispute(drafting.ID, partyB, "Early dispute"), ErrInvalidState)
}

func TestResolveDisputePaysBeneficiaryOnly(t *testing.T) {
	cases := []struct {
		name        string
		beneficiary [20]byte
		other       [20]byte
	}{
		{"in favour of partyA", partyA, partyB},
		{"in favour of partyB", partyB, partyA},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, state, rec := monitoringFixture(t)
			require.NoError(t, engine.RaiseDispute(rec.ID, partyB, "reason"))

			otherBefore := state.balance(tc.other)
			beneficiaryBefore := state.balance(tc.beneficiary)
			require.NoError(t, engine.ResolveDispute(rec.ID, agent, tc.beneficiary))

			stored, err := engine.Get(rec.ID)
			require.NoError(t, err)
			require.Equal(t, StatusResolved, stored.Status)
			want := new(big.Int).Add(beneficiaryBefore, oneCoin)
			require.Zero(t, state.balance(tc.beneficiary).Cmp(want))
			require.Zero(t, state.balance(tc.other).Cmp(otherBefore))
			require.Zero(t, state.balance(state.vault).Sign())
		})
	}
}

func TestResolveDisputeGuards(t *testing.T) {
	engine, _, rec := monitoringFixture(t)
	require.NoError(t, engine.RaiseDispute(rec.ID, partyA, "Dispute reason"))

	require.ErrorIs(t, engine.ResolveDispute(rec.ID, partyA, partyA), ErrUnauthorized)
	require.ErrorIs(t, engine.ResolveDispute(rec.ID, agent, outsider), ErrInvalidCounterparty)

	// Invalid beneficiary is rejected regardless of dispute state.
	fresh, _, freshRec := monitoringFixture(t)
	require.ErrorIs(t, fresh.ResolveDispute(freshRec.ID, agent, outsider), ErrInvalidCounterparty)
	require.ErrorIs(t, fresh.ResolveDispute(freshRec.ID, agent, partyA), ErrInvalidState)
	require.ErrorIs(t, fresh.ResolveDispute(freshRec.ID, agent, partyB), ErrInvalidState)
}

func TestCancelOnlyFromDrafting(t *testing.T) {
	state := newMockState()
	state.setBalance(partyA, oneCoin)
	engine := newTestEngine(t, state)
	rec, err := engine.Create(partyA, partyB, "Test Summary", nil)
	require.NoError(t, err)

	require.ErrorIs(t, engine.Cancel(rec.ID, partyB), ErrUnauthorized)
	require.NoError(t, engine.Cancel(rec.ID, partyA))

	stored, err := engine.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, stored.Status)
	require.Zero(t, state.balance(partyA).Cmp(oneCoin))

	// Cancellation is permanent.
	require.ErrorIs(t, engine.Cancel(rec.ID, partyA), ErrInvalidState)
	require.ErrorIs(t, engine.LockFunds(rec.ID, partyA, oneCoin), ErrInvalidState)

	funded, _, fundedRec := fundedFixture(t)
	require.ErrorIs(t, funded.Cancel(fundedRec.ID, partyA), ErrInvalidState)
}

func TestPauseBlocksMutations(t *testing.T) {
	state := newMockState()
	state.setBalance(partyA, oneCoin)
	engine := newTestEngine(t, state)

	require.ErrorIs(t, engine.Pause(partyA), ErrUnauthorized)
	require.NoError(t, engine.Pause(owner))
	require.ErrorIs(t, engine.Pause(owner), ErrInvalidState)

	_, err := engine.Create(partyA, partyB, "Test", nil)
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, engine.LockFunds(0, partyA, oneCoin), ErrPaused)

	paused, err := engine.Paused()
	require.NoError(t, err)
	require.True(t, paused)

	require.NoError(t, engine.Unpause(owner))
	require.ErrorIs(t, engine.Unpause(owner), ErrInvalidState)

	rec, err := engine.Create(partyA, partyB, "Test", nil)
	require.NoError(t, err)
	require.Equal(t, StatusDrafting, rec.Status)
}

func TestReadsRemainAvailableWhilePaused(t *testing.T) {
	engine, _, rec := fundedFixture(t)
	require.NoError(t, engine.Pause(owner))

	stored, err := engine.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFunded, stored.Status)
}

func TestPerEscrowAgentPolicy(t *testing.T) {
	state := newMockState()
	state.setBalance(partyA, oneCoin)
	engine := NewEngine()
	engine.SetState(state)
	engine.SetOwner(owner)
	require.NoError(t, engine.SetAgentPolicy(AgentPolicy{Scope: AgentScopePerEscrow}))

	_, err := engine.Create(partyA, partyB, "missing agent", nil)
	require.Error(t, err)

	perAgent := newTestAddress(0x44)
	rec, err := engine.Create(partyA, partyB, "Test Summary", &perAgent)
	require.NoError(t, err)
	require.Equal(t, perAgent, rec.Agent)

	require.NoError(t, engine.LockFunds(rec.ID, partyA, oneCoin))
	require.ErrorIs(t, engine.SetVerifiables(rec.ID, agent, []string{"C"}), ErrUnauthorized)
	require.NoError(t, engine.SetVerifiables(rec.ID, perAgent, []string{"C"}))
	require.NoError(t, engine.ReleaseFunds(rec.ID, perAgent))
}

func TestGlobalAgentPolicyRequiresAgent(t *testing.T) {
	engine := NewEngine()
	require.Error(t, engine.SetAgentPolicy(AgentPolicy{Scope: AgentScopeGlobal}))
}

func TestCustodyMatchesOpenRecords(t *testing.T) {
	state := newMockState()
	state.setBalance(partyA, new(big.Int).Mul(oneCoin, big.NewInt(10)))
	engine := newTestEngine(t, state)

	first, err := engine.Create(partyA, partyB, "first", nil)
	require.NoError(t, err)
	second, err := engine.Create(partyA, partyB, "second", nil)
	require.NoError(t, err)

	require.NoError(t, engine.LockFunds(first.ID, partyA, oneCoin))
	require.NoError(t, engine.LockFunds(second.ID, partyA, new(big.Int).Mul(oneCoin, big.NewInt(2))))
	require.Zero(t, state.balance(state.vault).Cmp(new(big.Int).Mul(oneCoin, big.NewInt(3))))

	require.NoError(t, engine.SetVerifiables(first.ID, agent, []string{"C1"}))
	require.NoError(t, engine.ReleaseFunds(first.ID, agent))
	require.Zero(t, state.balance(state.vault).Cmp(new(big.Int).Mul(oneCoin, big.NewInt(2))))

	require.NoError(t, engine.SetVerifiables(second.ID, agent, []string{"C1"}))
	require.NoError(t, engine.RaiseDispute(second.ID, partyB, "reason"))
	require.NoError(t, engine.ResolveDispute(second.ID, agent, partyA))
	require.Zero(t, state.balance(state.vault).Sign())
}

func TestLifecycleEventSequence(t *testing.T) {
	state := newMockState()
	state.setBalance(partyA, oneCoin)
	engine := newTestEngine(t, state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	rec, err := engine.Create(partyA, partyB, "Test Summary", nil)
	require.NoError(t, err)
	require.NoError(t, engine.LockFunds(rec.ID, partyA, oneCoin))
	require.NoError(t, engine.SetVerifiables(rec.ID, agent, []string{"C1"}))
	require.NoError(t, engine.RaiseDispute(rec.ID, partyB, "reason"))
	require.NoError(t, engine.ResolveDispute(rec.ID, agent, partyA))

	require.Equal(t, []string{
		EventTypeCreated,
		EventTypeFundsLocked,
		EventTypeVerifiablesSet,
		EventTypeDisputeRaised,
		EventTypeDisputeResolved,
	}, emitter.types)
}

func TestConcreteHappyPathScenario(t *testing.T) {
	state := newMockState()
	state.setBalance(partyA, oneCoin)
	engine := newTestEngine(t, state)

	rec, err := engine.Create(partyA, partyB, "S", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), rec.ID)
	require.Equal(t, StatusDrafting, rec.Status)

	require.NoError(t, engine.LockFunds(0, partyA, oneCoin))
	require.Zero(t, state.balance(state.vault).Cmp(oneCoin))

	require.NoError(t, engine.SetVerifiables(0, agent, []string{"C1"}))
	require.NoError(t, engine.ReleaseFunds(0, agent))
	require.Zero(t, state.balance(partyB).Cmp(oneCoin))
	require.Zero(t, state.balance(state.vault).Sign())

	require.ErrorIs(t, engine.RaiseDispute(0, partyA, "too late"), ErrInvalidState)
}
