package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Mode selects the provider variant set. It is fixed for the lifetime of an
// engine instance.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// TokenConfig describes one tradable ERC-20 asset.
type TokenConfig struct {
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
	Name     string `yaml:"name"`    // EIP-712 domain name, e.g. "USD Coin"
	Version  string `yaml:"version"` // EIP-712 domain version, usually "1" or "2"
}

// ChainConfig is the chain read/write surface configuration.
type ChainConfig struct {
	RPCURL          string                 `yaml:"rpc_url"`
	ChainID         int64                  `yaml:"chain_id"`
	CustodyContract string                 `yaml:"custody_contract"`
	RouterContract  string                 `yaml:"router_contract"`
	Tokens          map[string]TokenConfig `yaml:"tokens"`
}

// SignerConfig supplies the signing capability. Exactly one source is used,
// checked in order: private key, keystore, mnemonic, secret store.
type SignerConfig struct {
	PrivateKey         string `yaml:"private_key"`
	KeystoreFile       string `yaml:"keystore_file"`
	KeystorePassphrase string `yaml:"keystore_passphrase"`
	Mnemonic           string `yaml:"mnemonic"`
	SecretStorePath    string `yaml:"secretstore_path"`
	SecretStoreKey     string `yaml:"secretstore_key"` // 32-byte hex/base64 encryption key
}

// Configured reports whether any signer source is present.
func (s SignerConfig) Configured() bool {
	return s.PrivateKey != "" || s.KeystoreFile != "" || s.Mnemonic != "" || s.SecretStorePath != ""
}

// PriceSourceConfig configures the HTTP quote sources.
type PriceSourceConfig struct {
	PrimaryURL     string `yaml:"primary_url"`
	FallbackURL    string `yaml:"fallback_url"`
	StreamURL      string `yaml:"stream_url"` // websocket quote stream (live mode)
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RelayConfig configures the private bundle relay and the delegated-execution
// forwarder service.
type RelayConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	ForwarderURL string `yaml:"forwarder_url"` // gasless execution service, optional
}

// RiskConfig holds circuit-breaker thresholds.
type RiskConfig struct {
	MoveThresholdPct  float64 `yaml:"move_threshold_pct"`   // default 2.0
	CooldownMinutes   int     `yaml:"cooldown_minutes"`     // default 5
	MinFundingRatePct float64 `yaml:"min_funding_rate_pct"` // default -0.05
}

// ReserveConfig configures the proof-of-reserve monitor.
type ReserveConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"` // default 60
}

// EngineConfig holds order-processing knobs.
type EngineConfig struct {
	QuoteTimeoutSeconds int               `yaml:"quote_timeout_seconds"` // default 5
	SimFeePct           float64           `yaml:"sim_fee_pct"`           // default 0.1
	SimBalances         map[string]string `yaml:"sim_balances"`          // asset -> decimal amount
	SimPrices           map[string]string `yaml:"sim_prices"`            // "A/B" -> price (optional fixtures)
}

// LogConfig mirrors pkg/logger.Config.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config is the full application configuration.
type Config struct {
	Mode        Mode              `yaml:"mode"`
	Chain       ChainConfig       `yaml:"chain"`
	Signer      SignerConfig      `yaml:"signer"`
	PriceSource PriceSourceConfig `yaml:"price_source"`
	Relay       RelayConfig       `yaml:"relay"`
	Risk        RiskConfig        `yaml:"risk"`
	Reserve     ReserveConfig     `yaml:"reserve"`
	Engine      EngineConfig      `yaml:"engine"`
	Log         LogConfig         `yaml:"log"`
	JournalPath string            `yaml:"journal_path"`
	MetricsAddr string            `yaml:"metrics_addr"`
	OpsAddr     string            `yaml:"ops_addr"`
}

// Load reads a YAML config file, applies env overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("ARBITER_PRIVATE_KEY"); v != "" {
		c.Signer.PrivateKey = v
	}
	if v := os.Getenv("ARBITER_MNEMONIC"); v != "" {
		c.Signer.Mnemonic = v
	}
	if v := os.Getenv("ARBITER_KEYSTORE_PASSPHRASE"); v != "" {
		c.Signer.KeystorePassphrase = v
	}
	if v := os.Getenv("ARBITER_SECRETSTORE_KEY"); v != "" {
		c.Signer.SecretStoreKey = v
	}
	if v := os.Getenv("ARBITER_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("ARBITER_MODE"); v != "" {
		c.Mode = Mode(strings.ToLower(v))
	}
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeSimulated
	}
	if c.Risk.MoveThresholdPct == 0 {
		c.Risk.MoveThresholdPct = 2.0
	}
	if c.Risk.CooldownMinutes == 0 {
		c.Risk.CooldownMinutes = 5
	}
	if c.Risk.MinFundingRatePct == 0 {
		c.Risk.MinFundingRatePct = -0.05
	}
	if c.Reserve.IntervalMinutes == 0 {
		c.Reserve.IntervalMinutes = 60
	}
	if c.Engine.QuoteTimeoutSeconds == 0 {
		c.Engine.QuoteTimeoutSeconds = 5
	}
	if c.Engine.SimFeePct == 0 {
		c.Engine.SimFeePct = 0.1
	}
	if c.PriceSource.TimeoutSeconds == 0 {
		c.PriceSource.TimeoutSeconds = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate enforces cross-field invariants. Live mode without a usable
// signer or RPC endpoint fails here, before any component is constructed.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSimulated, ModeLive:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.Mode == ModeLive {
		if !c.Signer.Configured() {
			return fmt.Errorf("config: live mode requires a signer (private_key, keystore, mnemonic or secret store)")
		}
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("config: live mode requires chain.rpc_url")
		}
		if c.Chain.ChainID == 0 {
			return fmt.Errorf("config: live mode requires chain.chain_id")
		}
	}
	if c.Relay.Enabled && c.Relay.URL == "" {
		return fmt.Errorf("config: relay.enabled requires relay.url")
	}
	for asset, raw := range c.Engine.SimBalances {
		if _, err := decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("config: sim balance for %s: %w", asset, err)
		}
	}
	return nil
}

// QuoteTimeout returns the quote timeout as a duration.
func (c *Config) QuoteTimeout() time.Duration {
	return time.Duration(c.Engine.QuoteTimeoutSeconds) * time.Second
}

// ReserveInterval returns the reserve check interval as a duration.
func (c *Config) ReserveInterval() time.Duration {
	return time.Duration(c.Reserve.IntervalMinutes) * time.Minute
}

// Cooldown returns the circuit-breaker cool-down as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Risk.CooldownMinutes) * time.Minute
}
