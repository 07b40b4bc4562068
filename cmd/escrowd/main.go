package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"escrowd/config"
	"escrowd/core"
	"escrowd/crypto"
	"escrowd/observability"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"
)

const ownerPassEnv = "ESCROWD_OWNER_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	logger := logging.Setup("escrowd", os.Getenv("ESCROWD_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env := resolveEnvironment(cfg); env != "" {
		logger = logging.Setup("escrowd", env)
	}

	ownerKey, err := loadOwnerKey(cfg)
	if err != nil {
		logger.Error("failed to load owner key", slog.Any("error", err))
		os.Exit(1)
	}
	ownerAddr := ownerKey.PubKey().Address()
	logger.Info("owner keystore unlocked",
		slog.String("owner", ownerAddr.String()),
		logging.MaskField("keystore", cfg.OwnerKeystorePath),
	)

	policy, err := cfg.AgentPolicy()
	if err != nil {
		logger.Error("invalid agent policy", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	var owner [20]byte
	copy(owner[:], ownerAddr.Bytes())
	node, err := core.NewNode(db, owner, policy)
	if err != nil {
		logger.Error("failed to create node", slog.Any("error", err))
		os.Exit(1)
	}

	balances, err := cfg.GenesisBalances()
	if err != nil {
		logger.Error("invalid genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}
	allocs := make([]core.GenesisAlloc, 0, len(balances))
	for addr, balance := range balances {
		allocs = append(allocs, core.GenesisAlloc{Address: addr, Balance: new(big.Int).Set(balance)})
	}
	if err := node.ApplyGenesis(allocs); err != nil {
		logger.Error("failed to apply genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}

	// Restore the pause gauge from persisted state so dashboards are correct
	// immediately after a restart.
	if paused, err := node.Paused(); err == nil {
		observability.Lifecycle().SetPause(paused)
	}

	if token := strings.TrimSpace(os.Getenv("ESCROWD_RPC_TOKEN")); token != "" {
		logger.Info("static bearer auth enabled", logging.MaskField("token", token))
	}

	rpcServer := rpc.NewServer(node)
	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- rpcServer.Start(cfg.RPCAddress)
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("escrow node initialised and running",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("owner", ownerAddr.String()),
		slog.String("agentScope", policy.Scope.String()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err, ok := <-rpcErrCh:
		if ok && err != nil {
			logger.Error("RPC server terminated", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// resolveEnvironment picks the deployment environment label for log lines.
// The ESCROWD_ENV process override wins over the config file so one-off runs
// can relabel themselves without editing the config.
func resolveEnvironment(cfg *config.Config) string {
	if env := strings.TrimSpace(os.Getenv("ESCROWD_ENV")); env != "" {
		return env
	}
	return strings.TrimSpace(cfg.Environment)
}

func loadOwnerKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if cfg.OwnerKeystorePath == "" {
		return nil, fmt.Errorf("owner keystore path not configured")
	}
	passphrase := os.Getenv(ownerPassEnv)
	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s: %w", cfg.OwnerKeystorePath, err)
	}
	return key, nil
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok || err == nil {
				return fmt.Errorf("RPC server exited before startup confirmation")
			}
			return err
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok || err == nil {
				return fmt.Errorf("RPC server exited before startup confirmation")
			}
			return err
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
