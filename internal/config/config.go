// Package config handles network configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds the static per-deployment network configuration. All values
// are externally supplied, never derived.
type Config struct {
	NativeSymbol     string // native token ticker, e.g. "P3D"
	RPCURL           string // HTTP JSON-RPC endpoint
	WSURL            string // WebSocket endpoint for header subscriptions (derived from RPCURL when empty)
	ChainID          uint64 // expected EVM chain id
	SS58Prefix       uint16 // Substrate address format identifier
	PrecompileAddr   string // swap precompile contract address
	ExplorerBaseURL  string // block explorer base URL for "check your tx" links
	DatabasePath     string // path to the SQLite history database
	GuardTimeout     time.Duration
	ExpectedBlockMS  int64 // chain-declared block time; 0 = read from metadata / default
	DisableHistory   bool
}

// Defaults for the 3Dpass mainnet deployment.
const (
	DefaultNativeSymbol    = "P3D"
	DefaultRPCURL          = "http://localhost:9933"
	DefaultChainID         = 1333
	DefaultSS58Prefix      = 71
	DefaultPrecompileAddr  = "0x0000000000000000000000000000000000000902"
	DefaultExplorerBaseURL = "https://3dpscan.xyz"
	DefaultDatabasePath    = "./data/p3dex.db"
	DefaultGuardTimeout    = 3 * time.Minute
)

// Load reads configuration from environment variables and command-line
// flags. Flags take precedence over the environment.
func Load() (*Config, error) {
	cfg := defaults()
	cfg.applyEnv()

	var (
		rpcURL       = flag.String("rpc", cfg.RPCURL, "HTTP JSON-RPC endpoint")
		wsURL        = flag.String("ws", cfg.WSURL, "WebSocket endpoint (default: derived from -rpc)")
		chainID      = flag.Uint64("chainid", cfg.ChainID, "Expected EVM chain id")
		symbol       = flag.String("symbol", cfg.NativeSymbol, "Native token symbol")
		precompile   = flag.String("precompile", cfg.PrecompileAddr, "Swap precompile address")
		explorer     = flag.String("explorer", cfg.ExplorerBaseURL, "Block explorer base URL")
		dbPath       = flag.String("db", cfg.DatabasePath, "SQLite history database path")
		guardTimeout = flag.Duration("guard-timeout", cfg.GuardTimeout, "Operation guard timeout")
		noHistory    = flag.Bool("no-history", cfg.DisableHistory, "Disable the SQLite operation history")
	)
	flag.Parse()

	cfg.RPCURL = *rpcURL
	cfg.WSURL = *wsURL
	cfg.ChainID = *chainID
	cfg.NativeSymbol = *symbol
	cfg.PrecompileAddr = *precompile
	cfg.ExplorerBaseURL = *explorer
	cfg.DatabasePath = *dbPath
	cfg.GuardTimeout = *guardTimeout
	cfg.DisableHistory = *noHistory

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		NativeSymbol:    DefaultNativeSymbol,
		RPCURL:          DefaultRPCURL,
		ChainID:         DefaultChainID,
		SS58Prefix:      DefaultSS58Prefix,
		PrecompileAddr:  DefaultPrecompileAddr,
		ExplorerBaseURL: DefaultExplorerBaseURL,
		DatabasePath:    DefaultDatabasePath,
		GuardTimeout:    DefaultGuardTimeout,
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("P3DEX_RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("P3DEX_WS_URL"); v != "" {
		c.WSURL = v
	}
	if v := os.Getenv("P3DEX_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil && id > 0 {
			c.ChainID = id
		}
	}
	if v := os.Getenv("P3DEX_SS58_PREFIX"); v != "" {
		if p, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.SS58Prefix = uint16(p)
		}
	}
	if v := os.Getenv("P3DEX_PRECOMPILE"); v != "" {
		c.PrecompileAddr = v
	}
	if v := os.Getenv("P3DEX_EXPLORER_URL"); v != "" {
		c.ExplorerBaseURL = v
	}
	if v := os.Getenv("P3DEX_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("P3DEX_EXPECTED_BLOCK_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			c.ExpectedBlockMS = ms
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if !common.IsHexAddress(c.PrecompileAddr) {
		return fmt.Errorf("precompile address %q is not a valid EVM address", c.PrecompileAddr)
	}
	if c.GuardTimeout <= 0 {
		return fmt.Errorf("guard timeout must be positive")
	}
	return nil
}

// ExplorerTxURL builds an explorer link for a transaction hash.
func (c *Config) ExplorerTxURL(txHash string) string {
	if c.ExplorerBaseURL == "" {
		return ""
	}
	return c.ExplorerBaseURL + "/#/extrinsics/" + txHash
}
