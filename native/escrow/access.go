package escrow

import (
	"fmt"
	"strings"
)

// AgentScope selects how the arbitration agent identity is resolved. Exactly
// one scope is active per deployment; the two shapes are never mixed.
type AgentScope uint8

const (
	// AgentScopeGlobal fixes a single agent for every escrow at startup.
	AgentScopeGlobal AgentScope = iota
	// AgentScopePerEscrow requires an agent to be supplied on each createEscrow.
	AgentScopePerEscrow
)

// Valid reports whether the scope value is within the supported range.
func (s AgentScope) Valid() bool {
	return s == AgentScopeGlobal || s == AgentScopePerEscrow
}

// String returns the canonical configuration spelling of the scope.
func (s AgentScope) String() string {
	switch s {
	case AgentScopeGlobal:
		return "global"
	case AgentScopePerEscrow:
		return "per-escrow"
	default:
		return "unknown"
	}
}

// ParseAgentScope converts a configuration string into an AgentScope.
func ParseAgentScope(value string) (AgentScope, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "global":
		return AgentScopeGlobal, nil
	case "per-escrow", "perescrow":
		return AgentScopePerEscrow, nil
	default:
		return AgentScopeGlobal, fmt.Errorf("escrow: unsupported agent scope %q", value)
	}
}

// AgentPolicy captures the deployment-time choice of agent resolution. Under
// the global scope Agent names the shared arbitration identity; under the
// per-escrow scope Agent is ignored and each record carries its own.
type AgentPolicy struct {
	Scope AgentScope
	Agent [20]byte
}

// Validate checks the policy is internally consistent.
func (p AgentPolicy) Validate() error {
	if !p.Scope.Valid() {
		return fmt.Errorf("escrow: invalid agent scope %d", p.Scope)
	}
	if p.Scope == AgentScopeGlobal && p.Agent == ([20]byte{}) {
		return fmt.Errorf("escrow: global agent scope requires an agent address")
	}
	return nil
}
