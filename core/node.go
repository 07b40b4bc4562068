package core

import (
	"log/slog"
	"math/big"
	"sync"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/observability"
	"escrowd/storage"
)

// GenesisAlloc seeds a ledger account with an opening balance. Allocations are
// applied exactly once per backend; restarting a node against an existing
// database leaves balances untouched.
type GenesisAlloc struct {
	Address [20]byte
	Balance *big.Int
}

// Node owns the ledger and serialises every operation against it. All mutating
// and reading entry points take stateMu, so callers observe each operation as
// atomic: guard checks, balance moves and the status write of one call never
// interleave with another.
type Node struct {
	db      storage.Database
	state   *state.Manager
	engine  *escrow.Engine
	stateMu sync.Mutex
}

// NewNode wires an escrow engine over the supplied database. The owner address
// controls the pause switch; the agent policy fixes how arbiters are assigned
// for the lifetime of the node.
func NewNode(db storage.Database, owner [20]byte, policy escrow.AgentPolicy) (*Node, error) {
	manager := state.NewManager(db)
	node := &Node{db: db, state: manager}

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetOwner(owner)
	if err := engine.SetAgentPolicy(policy); err != nil {
		return nil, err
	}
	engine.SetEmitter(escrowEventEmitter{node: node})
	node.engine = engine
	return node, nil
}

// ApplyGenesis credits the supplied allocations if this backend has never been
// seeded before.
func (n *Node) ApplyGenesis(allocs []GenesisAlloc) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	applied, err := n.state.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, alloc := range allocs {
		if err := n.state.Credit(alloc.Address, alloc.Balance); err != nil {
			return err
		}
	}
	return n.state.MarkGenesisApplied()
}

type eventWithPayload interface {
	Event() *types.Event
}

// escrowEventEmitter journals every engine event and bumps the lifecycle
// counters. It runs inside the node's mutex, so the journal sequence matches
// the order operations were applied.
type escrowEventEmitter struct {
	node *Node
}

func (e escrowEventEmitter) Emit(evt events.Event) {
	if e.node == nil || evt == nil {
		return
	}
	payload, ok := evt.(eventWithPayload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	if err := e.node.state.AppendEvent(event); err != nil {
		slog.Error("failed to journal escrow event", "type", event.Type, "error", err)
		return
	}
	observability.Lifecycle().RecordTransition(event.Type)
}

// EscrowCreate drafts a new agreement between the caller and counterparty.
func (n *Node) EscrowCreate(caller, counterparty [20]byte, summary string, agent *[20]byte) (*escrow.Record, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Create(caller, counterparty, summary, agent)
}

// EscrowLockFunds moves the payment amount from party A into custody.
func (n *Node) EscrowLockFunds(id uint64, caller [20]byte, value *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.LockFunds(id, caller, value)
}

// EscrowSetVerifiables records the condition set the agent will monitor.
func (n *Node) EscrowSetVerifiables(id uint64, caller [20]byte, list []string) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.SetVerifiables(id, caller, list)
}

// EscrowReleaseFunds pays party B once the agent confirms the conditions.
func (n *Node) EscrowReleaseFunds(id uint64, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.ReleaseFunds(id, caller)
}

// EscrowRaiseDispute freezes a monitored agreement pending agent judgement.
func (n *Node) EscrowRaiseDispute(id uint64, caller [20]byte, reason string) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.RaiseDispute(id, caller, reason)
}

// EscrowResolveDispute settles a dispute in favour of one of the two parties.
func (n *Node) EscrowResolveDispute(id uint64, caller, beneficiary [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.ResolveDispute(id, caller, beneficiary)
}

// EscrowCancel abandons an agreement that never received funds.
func (n *Node) EscrowCancel(id uint64, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Cancel(id, caller)
}

// EscrowGet returns a copy of the identified record.
func (n *Node) EscrowGet(id uint64) (*escrow.Record, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Get(id)
}

// Pause halts every mutating escrow operation. Owner only.
func (n *Node) Pause(caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Pause(caller)
}

// Unpause lifts the pause switch. Owner only.
func (n *Node) Unpause(caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Unpause(caller)
}

// Paused reports whether the pause switch is engaged.
func (n *Node) Paused() (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Paused()
}

// Events returns journalled lifecycle events whose type carries the supplied
// prefix, oldest first.
func (n *Node) Events(prefix string, limit int) ([]state.JournalEntry, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Events(prefix, limit)
}

// BalanceOf returns the ledger balance held by the supplied address.
func (n *Node) BalanceOf(addr [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.BalanceOf(addr)
}

// CustodyBalance returns the pooled value currently held by the module vault.
func (n *Node) CustodyBalance() (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.CustodyBalance()
}

// EscrowVaultAddress returns the module custody account address.
func (n *Node) EscrowVaultAddress() [20]byte {
	return n.state.EscrowVaultAddress()
}

// Owner returns the pause-switch owner configured at startup.
func (n *Node) Owner() [20]byte { return n.engine.Owner() }

// AgentPolicy returns the arbiter assignment policy configured at startup.
func (n *Node) AgentPolicy() escrow.AgentPolicy { return n.engine.AgentPolicy() }
