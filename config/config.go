package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"escrowd/crypto"
	"escrowd/native/escrow"
)

// GenesisAccount seeds a ledger balance on first boot. Balance is a decimal
// string so very large values survive the TOML round trip.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type Config struct {
	RPCAddress        string           `toml:"RPCAddress"`
	DataDir           string           `toml:"DataDir"`
	NetworkName       string           `toml:"NetworkName"`
	Environment       string           `toml:"Environment"`
	AgentScope        string           `toml:"AgentScope"`
	AgentAddress      string           `toml:"AgentAddress"`
	OwnerKeystorePath string           `toml:"OwnerKeystorePath"`
	Genesis           []GenesisAccount `toml:"Genesis"`
}

// Load reads the configuration at the supplied path, creating a default file
// and owner keystore when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "escrow-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrow-data"
	}
	if cfg.Genesis == nil {
		cfg.Genesis = []GenesisAccount{}
	}

	return cfg, nil
}

// AgentPolicy parses the configured arbiter assignment into an engine policy.
func (c *Config) AgentPolicy() (escrow.AgentPolicy, error) {
	scope, err := escrow.ParseAgentScope(c.AgentScope)
	if err != nil {
		return escrow.AgentPolicy{}, err
	}
	policy := escrow.AgentPolicy{Scope: scope}
	if trimmed := strings.TrimSpace(c.AgentAddress); trimmed != "" {
		addr, decodeErr := crypto.DecodeAddress(trimmed)
		if decodeErr != nil {
			return escrow.AgentPolicy{}, fmt.Errorf("config: invalid AgentAddress: %w", decodeErr)
		}
		copy(policy.Agent[:], addr.Bytes())
	}
	if err := policy.Validate(); err != nil {
		return escrow.AgentPolicy{}, err
	}
	return policy, nil
}

// GenesisBalances decodes the configured genesis accounts.
func (c *Config) GenesisBalances() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(c.Genesis))
	for _, account := range c.Genesis {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(account.Address))
		if err != nil {
			return nil, fmt.Errorf("config: invalid genesis address %q: %w", account.Address, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(account.Balance), 10)
		if !ok || balance.Sign() < 0 {
			return nil, fmt.Errorf("config: invalid genesis balance %q for %s", account.Balance, account.Address)
		}
		var key [20]byte
		copy(key[:], addr.Bytes())
		if existing, dup := out[key]; dup {
			balance = new(big.Int).Add(existing, balance)
		}
		out[key] = balance
	}
	return out, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystorePath != keystorePath {
		cfg.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	// The freshly generated owner doubles as the agent so a default install
	// starts without further editing. Production deployments override both.
	cfg := &Config{
		RPCAddress:   ":8080",
		DataDir:      "./escrow-data",
		NetworkName:  "escrow-local",
		Environment:  "local",
		AgentScope:   "global",
		AgentAddress: key.PubKey().Address().String(),
		Genesis:      []GenesisAccount{},
	}
	cfg.OwnerKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
