package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowd/crypto"
	"escrowd/native/escrow"
)

func TestLoadCreatesDefaultConfigAndKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "escrow-local", cfg.NetworkName)
	require.Equal(t, "local", cfg.Environment)
	require.Equal(t, "global", cfg.AgentScope)
	require.NotEmpty(t, cfg.AgentAddress)
	require.FileExists(t, path)
	require.FileExists(t, cfg.OwnerKeystorePath)

	// The generated keystore decrypts with the empty default passphrase.
	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, "")
	require.NoError(t, err)
	require.NotNil(t, key)

	// The default policy validates out of the box.
	policy, err := cfg.AgentPolicy()
	require.NoError(t, err)
	require.Equal(t, escrow.AgentScopeGlobal, policy.Scope)

	// A second load round-trips the persisted file unchanged.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.OwnerKeystorePath, reloaded.OwnerKeystorePath)
	require.Equal(t, cfg.AgentAddress, reloaded.AgentAddress)
}

func TestLoadExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	agent := key.PubKey().Address().String()

	body := `
RPCAddress = ":9090"
DataDir = "` + filepath.Join(dir, "data") + `"
NetworkName = "escrow-test"
Environment = "staging"
AgentScope = "per-escrow"
AgentAddress = "` + agent + `"

[[Genesis]]
Address = "` + agent + `"
Balance = "1000000000000000000"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.RPCAddress)
	require.Equal(t, "escrow-test", cfg.NetworkName)
	require.Equal(t, "staging", cfg.Environment)
	require.FileExists(t, cfg.OwnerKeystorePath)

	policy, err := cfg.AgentPolicy()
	require.NoError(t, err)
	require.Equal(t, escrow.AgentScopePerEscrow, policy.Scope)

	balances, err := cfg.GenesisBalances()
	require.NoError(t, err)
	require.Len(t, balances, 1)
	for _, balance := range balances {
		require.Equal(t, "1000000000000000000", balance.String())
	}
}

func TestAgentPolicyRejectsGlobalWithoutAgent(t *testing.T) {
	cfg := &Config{AgentScope: "global"}
	_, err := cfg.AgentPolicy()
	require.Error(t, err)
}

func TestGenesisBalancesRejectsGarbage(t *testing.T) {
	cfg := &Config{Genesis: []GenesisAccount{{Address: "nonsense", Balance: "10"}}}
	_, err := cfg.GenesisBalances()
	require.Error(t, err)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	cfg = &Config{Genesis: []GenesisAccount{{Address: key.PubKey().Address().String(), Balance: "-5"}}}
	_, err = cfg.GenesisBalances()
	require.Error(t, err)
}
