package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Config holds runtime settings for the wallet daemon.
// These can vary between deployments without affecting protocol behavior.
type Config struct {
	// Core
	Network NetworkID
	DataDir string

	// Node endpoints
	NodeRPC string // JSON-RPC HTTP endpoint
	NodeWS  string // websocket notification endpoint

	// Addresses to track, in bech32 form.
	Addresses []string

	// Logging
	Log LogConfig
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quasar-wallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "QuasarWallet")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "QuasarWallet")
	default:
		return filepath.Join(home, ".quasar-wallet")
	}
}

// Load parses command-line flags into a Config. Remaining positional
// arguments are interpreted as addresses to track.
func Load() (*Config, error) {
	cfg := &Config{}

	var network string
	flag.StringVar(&network, "network", string(Mainnet), "network: mainnet, testnet, simnet, devnet")
	flag.StringVar(&cfg.DataDir, "datadir", DefaultDataDir(), "data directory for the transaction record store")
	flag.StringVar(&cfg.NodeRPC, "rpc", "http://127.0.0.1:16110", "node JSON-RPC endpoint")
	flag.StringVar(&cfg.NodeWS, "ws", "ws://127.0.0.1:17110", "node websocket notification endpoint")
	flag.StringVar(&cfg.Log.Level, "log.level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&cfg.Log.File, "log.file", "", "log file path (empty = console only)")
	flag.BoolVar(&cfg.Log.JSON, "log.json", false, "emit JSON logs to the console")
	flag.Parse()

	cfg.Network = NetworkID(network)
	if _, err := ForNetwork(cfg.Network); err != nil {
		return nil, err
	}

	cfg.Addresses = flag.Args()
	if cfg.NodeRPC == "" {
		return nil, fmt.Errorf("node RPC endpoint is required")
	}
	return cfg, nil
}
