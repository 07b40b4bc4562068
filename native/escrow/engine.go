package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

var errInsufficientBalance = errors.New("escrow: insufficient balance")

type engineState interface {
	EscrowPut(*Record) error
	EscrowGet(id uint64) (*Record, bool)
	EscrowNextID() (uint64, error)
	EscrowCredit(id uint64, amt *big.Int) error
	EscrowDebit(id uint64, amt *big.Int) error
	EscrowVaultAddress() [20]byte
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	PausedGet() (bool, error)
	PausedPut(bool) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow state machine with external state, the custody
// ledger and event emitters. All authorization, transition and custody rules
// live here; callers are expected to serialise invocations.
type Engine struct {
	state   engineState
	emitter events.Emitter
	owner   [20]byte
	policy  AgentPolicy
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOwner configures the deployment owner permitted to pause and unpause.
func (e *Engine) SetOwner(addr [20]byte) { e.owner = addr }

// Owner returns the configured deployment owner.
func (e *Engine) Owner() [20]byte { return e.owner }

// SetAgentPolicy configures how the arbitration agent is resolved.
func (e *Engine) SetAgentPolicy(policy AgentPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	e.policy = policy
	return nil
}

// AgentPolicy returns the active agent resolution policy.
func (e *Engine) AgentPolicy() AgentPolicy { return e.policy }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) requireActive() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	paused, err := e.state.PausedGet()
	if err != nil {
		return err
	}
	if paused {
		return fmt.Errorf("%w: ledger is paused", ErrPaused)
	}
	return nil
}

func (e *Engine) loadRecord(id uint64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return rec, nil
}

func (e *Engine) storeRecord(rec *Record) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(rec)
}

// transfer moves native value between two ledger accounts. A zero amount is a
// no-op; a shortfall on the sender aborts without touching either account.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return errInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	return nil
}

// Create allocates a new escrow record in the Drafting state. The caller
// becomes partyA; the counterparty must be a distinct, non-zero address. Under
// the per-escrow agent policy agentOpt names the arbitration identity for this
// record; under the global policy it must be omitted.
func (e *Engine) Create(caller, counterparty [20]byte, summary string, agentOpt *[20]byte) (*Record, error) {
	if err := e.requireActive(); err != nil {
		return nil, err
	}
	if caller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: caller address required", ErrUnauthorized)
	}
	if counterparty == ([20]byte{}) {
		return nil, fmt.Errorf("%w: counterparty address required", ErrInvalidCounterparty)
	}
	if counterparty == caller {
		return nil, fmt.Errorf("%w: counterparty must differ from caller", ErrInvalidCounterparty)
	}
	agent := e.policy.Agent
	switch e.policy.Scope {
	case AgentScopeGlobal:
		if agentOpt != nil {
			return nil, fmt.Errorf("escrow: agent is fixed by the deployment policy")
		}
	case AgentScopePerEscrow:
		if agentOpt == nil || *agentOpt == ([20]byte{}) {
			return nil, fmt.Errorf("escrow: agent address required for this deployment")
		}
		agent = *agentOpt
	default:
		return nil, fmt.Errorf("escrow: invalid agent scope %d", e.policy.Scope)
	}
	id, err := e.state.EscrowNextID()
	if err != nil {
		return nil, err
	}
	rec := &Record{
		ID:        id,
		PartyA:    caller,
		PartyB:    counterparty,
		Agent:     agent,
		Summary:   summary,
		Amount:    big.NewInt(0),
		Status:    StatusDrafting,
		CreatedAt: e.now(),
	}
	if err := e.storeRecord(rec); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(rec))
	return rec.Clone(), nil
}

// LockFunds moves the attached value from partyA into custody and marks the
// record as Funded. Only partyA may lock, only from Drafting, only with a
// positive value covered by partyA's balance.
func (e *Engine) LockFunds(id uint64, caller [20]byte, value *big.Int) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.PartyA {
		return fmt.Errorf("%w: only party A may lock funds", ErrUnauthorized)
	}
	if rec.Status != StatusDrafting {
		return fmt.Errorf("%w: cannot lock funds in status %s", ErrInvalidState, rec.Status)
	}
	amt := cloneBigInt(value)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: locked value must be positive", ErrInsufficientValue)
	}
	if err := e.transfer(rec.PartyA, e.state.EscrowVaultAddress(), amt); err != nil {
		if errors.Is(err, errInsufficientBalance) {
			return fmt.Errorf("%w: balance cannot cover deposit", ErrInsufficientValue)
		}
		return err
	}
	if err := e.state.EscrowCredit(id, amt); err != nil {
		return err
	}
	rec.Amount = amt
	rec.Status = StatusFunded
	if err := e.storeRecord(rec); err != nil {
		return err
	}
	e.emit(NewFundsLockedEvent(rec))
	return nil
}

// SetVerifiables stores the verifiable condition list and moves the record
// into ConditionsMonitoring. Re-setting while already monitoring overwrites
// the list; the transition is otherwise idempotent.
func (e *Engine) SetVerifiables(id uint64, caller [20]byte, list []string) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.Agent {
		return fmt.Errorf("%w: only the agent may set verifiables", ErrUnauthorized)
	}
	if rec.Status != StatusFunded && rec.Status != StatusConditionsMonitoring {
		return fmt.Errorf("%w: cannot set verifiables in status %s", ErrInvalidState, rec.Status)
	}
	rec.Verifiables = append([]string(nil), list...)
	rec.Status = StatusConditionsMonitoring
	if err := e.storeRecord(rec); err != nil {
		return err
	}
	e.emit(NewVerifiablesSetEvent(rec))
	return nil
}

// ReleaseFunds settles the escrow in favour of partyB. Only the agent may
// release, and only while the record is in ConditionsMonitoring.
func (e *Engine) ReleaseFunds(id uint64, caller [20]byte) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.Agent {
		return fmt.Errorf("%w: only the agent may release funds", ErrUnauthorized)
	}
	if rec.Status != StatusConditionsMonitoring {
		return fmt.Errorf("%w: cannot release funds in status %s", ErrInvalidState, rec.Status)
	}
	return e.payout(rec, rec.PartyB, StatusCompleted, NewFundsReleasedEvent)
}

// RaiseDispute flags the escrow as Disputed. Either counterparty may raise,
// only from ConditionsMonitoring; the reason replaces any previous one.
func (e *Engine) RaiseDispute(id uint64, caller [20]byte, reason string) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.PartyA && caller != rec.PartyB {
		return fmt.Errorf("%w: only a counterparty may raise a dispute", ErrUnauthorized)
	}
	if rec.Status != StatusConditionsMonitoring {
		return fmt.Errorf("%w: cannot raise a dispute in status %s", ErrInvalidState, rec.Status)
	}
	rec.DisputeReason = reason
	rec.Status = StatusDisputed
	if err := e.storeRecord(rec); err != nil {
		return err
	}
	e.emit(NewDisputeRaisedEvent(rec))
	return nil
}

// ResolveDispute settles a disputed escrow by sending the full balance to the
// chosen beneficiary, who must be one of the two recorded parties. Only the
// agent may resolve; this is the sole exit from Disputed.
func (e *Engine) ResolveDispute(id uint64, caller, beneficiary [20]byte) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.Agent {
		return fmt.Errorf("%w: only the agent may resolve a dispute", ErrUnauthorized)
	}
	if beneficiary != rec.PartyA && beneficiary != rec.PartyB {
		return fmt.Errorf("%w: invalid beneficiary", ErrInvalidCounterparty)
	}
	if rec.Status != StatusDisputed {
		return fmt.Errorf("%w: cannot resolve a dispute in status %s", ErrInvalidState, rec.Status)
	}
	return e.payout(rec, beneficiary, StatusResolved, func(r *Record) *types.Event {
		return NewDisputeResolvedEvent(r, beneficiary)
	})
}

// Cancel terminates a Drafting escrow before any funds are locked. Only
// partyA may cancel; nothing is refunded because nothing was deposited.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.PartyA {
		return fmt.Errorf("%w: only party A may cancel", ErrUnauthorized)
	}
	if rec.Status != StatusDrafting {
		return fmt.Errorf("%w: cannot cancel in status %s", ErrInvalidState, rec.Status)
	}
	rec.Status = StatusCancelled
	if err := e.storeRecord(rec); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(rec))
	return nil
}

// Get returns the full record for the supplied identifier. Reads carry no
// authorization and remain available while the ledger is paused.
func (e *Engine) Get(id uint64) (*Record, error) {
	return e.loadRecord(id)
}

// Pause halts every mutating entry point. Owner only.
func (e *Engine) Pause(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.owner {
		return fmt.Errorf("%w: only the owner may pause", ErrUnauthorized)
	}
	paused, err := e.state.PausedGet()
	if err != nil {
		return err
	}
	if paused {
		return fmt.Errorf("%w: already paused", ErrInvalidState)
	}
	if err := e.state.PausedPut(true); err != nil {
		return err
	}
	e.emit(NewPausedEvent(caller))
	return nil
}

// Unpause restores normal operation. Owner only.
func (e *Engine) Unpause(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.owner {
		return fmt.Errorf("%w: only the owner may unpause", ErrUnauthorized)
	}
	paused, err := e.state.PausedGet()
	if err != nil {
		return err
	}
	if !paused {
		return fmt.Errorf("%w: not paused", ErrInvalidState)
	}
	if err := e.state.PausedPut(false); err != nil {
		return err
	}
	e.emit(NewUnpausedEvent(caller))
	return nil
}

// Paused reports whether the ledger is currently paused.
func (e *Engine) Paused() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.PausedGet()
}

// payout advances the record to its terminal state and then disburses the
// full locked amount from custody. The status is stored before the transfer
// so any observer during the transfer sees the post-transition state; a
// failed transfer restores the prior status, keeping the whole transition
// all-or-nothing. Paying transitions are only reachable from states exited
// here, so disbursal happens at most once per record.
func (e *Engine) payout(rec *Record, to [20]byte, next Status, eventFn func(*Record) *types.Event) error {
	if rec == nil {
		return errNilRecord
	}
	amount := cloneBigInt(rec.Amount)
	if amount.Sign() <= 0 {
		return fmt.Errorf("escrow: amount must be positive")
	}
	prev := rec.Status
	rec.Status = next
	if err := e.storeRecord(rec); err != nil {
		return err
	}
	if err := e.transfer(e.state.EscrowVaultAddress(), to, amount); err != nil {
		rec.Status = prev
		if restoreErr := e.storeRecord(rec); restoreErr != nil {
			return errors.Join(err, restoreErr)
		}
		return err
	}
	if err := e.state.EscrowDebit(rec.ID, amount); err != nil {
		return err
	}
	e.emit(eventFn(rec))
	return nil
}
