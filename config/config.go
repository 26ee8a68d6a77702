package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/babylon-finance/forkharness/internal/network"
)

const (
	// DefaultForkBlock is the mainnet height the fork tests were written against.
	DefaultForkBlock = 14357000

	DefaultGas           = 15_000_000
	DefaultBlockGasLimit = 0x1fffffffffffff

	// HardhatNetwork names the local simulated network.
	HardhatNetwork = "hardhat"

	alchemyKeyPlaceholder = "{ALCHEMY_KEY}"
	zeroPrivateKey        = "0000000000000000000000000000000000000000000000000000000000000000"
)

// ChainIDs maps network names to chain ids.
var ChainIDs = map[string]uint64{
	HardhatNetwork: 31337,
	"mainnet":      1,
	"goerli":       5,
	"kovan":        42,
	"rinkeby":      4,
	"ropsten":      3,
}

// Named account indexes within a profile's account list.
const (
	DeployerIndex = 0
	OwnerIndex    = 1
)

// APIKeys holds third-party service credentials.
type APIKeys struct {
	Alchemy       string `json:"alchemy"`
	Etherscan     string `json:"etherscan"`
	CoinMarketCap string `json:"coinmarketcap"`
}

// NetworkProfile describes one target network. Immutable per run.
type NetworkProfile struct {
	Name      string   `json:"-"`
	ChainID   uint64   `json:"chain_id"`
	URL       string   `json:"url"`
	ForkBlock uint64   `json:"fork_block,omitempty"`
	Accounts  []string `json:"accounts,omitempty"` // hex private keys, deployer first
}

// Config holds all configurable parameters for the harness and dev node
type Config struct {
	Network       string `json:"network"`
	RPCURL        string `json:"rpc_url"`
	ForkURL       string `json:"fork_url"`
	ForkBlock     uint64 `json:"fork_block"`
	Gas           uint64 `json:"gas"`
	BlockGasLimit uint64 `json:"block_gas_limit"`
	BlockTimeMs   int    `json:"block_time_ms"` // 0 disables interval mining
	BytecodeStore string `json:"bytecode_store"`
	LogLevel      string `json:"log_level"`

	// IntegrationArtifact is the hardhat artifact of the custom Balancer
	// integration deployed by the Balancer scenarios.
	IntegrationArtifact string `json:"integration_artifact"`

	Optimizer bool `json:"optimizer"`
	ReportGas bool `json:"report_gas"`
	Fast      bool `json:"fast"`

	Keys        APIKeys `json:"keys"`
	DeployerKey string  `json:"deployer_private_key"`
	OwnerKey    string  `json:"owner_private_key"`

	Upstream network.NetworkConfig     `json:"upstream"`
	Networks map[string]NetworkProfile `json:"networks"`
}

// Default returns the built-in configuration before file and env overrides.
func Default() *Config {
	cfg := &Config{
		Network:       HardhatNetwork,
		ForkBlock:     DefaultForkBlock,
		Gas:           DefaultGas,
		BlockGasLimit: DefaultBlockGasLimit,
		LogLevel:      "info",
		Optimizer:     true,
		Upstream: network.NetworkConfig{
			MinIntervalMs: 0,
			MaxRetries:    3,
			TimeoutSec:    30,
		},
		Networks: map[string]NetworkProfile{
			HardhatNetwork: {ChainID: ChainIDs[HardhatNetwork], URL: "http://127.0.0.1:8545"},
		},
	}
	for _, name := range []string{"mainnet", "goerli", "kovan", "rinkeby", "ropsten"} {
		cfg.Networks[name] = NetworkProfile{
			ChainID: ChainIDs[name],
			URL:     fmt.Sprintf("https://eth-%s.alchemyapi.io/v2/%s", name, alchemyKeyPlaceholder),
		}
	}
	return cfg
}

// Load reads the JSON config at configPath over the defaults, then applies
// .env and process environment overrides.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads config/config.json, falling back to the built-in
// defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config/config.json")
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) finish() error {
	// A missing .env is normal; real variables always win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	c.applyEnvOverrides()
	return c.Validate()
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ALCHEMY_KEY"); v != "" {
		c.Keys.Alchemy = v
	}
	if v := os.Getenv("ETHERSCAN_KEY"); v != "" {
		c.Keys.Etherscan = v
	}
	if v := os.Getenv("COINMARKETCAP_KEY"); v != "" {
		c.Keys.CoinMarketCap = v
	}
	if v := os.Getenv("DEPLOYER_PRIVATE_KEY"); v != "" {
		c.DeployerKey = v
	}
	if v := os.Getenv("OWNER_PRIVATE_KEY"); v != "" {
		c.OwnerKey = v
	}
	if v := os.Getenv("BLOCK_NUMBER"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.ForkBlock = n
		}
	}
	if v := os.Getenv("BLOCK_TIME_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BlockTimeMs = n
		}
	}
	if v := os.Getenv("NETWORK"); v != "" {
		c.Network = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("FORK_URL"); v != "" {
		c.ForkURL = v
	}
	if v := os.Getenv("BYTECODE_STORE"); v != "" {
		c.BytecodeStore = v
	}
	if v := os.Getenv("INTEGRATION_ARTIFACT"); v != "" {
		c.IntegrationArtifact = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	// The original toggles treat any non-empty value as "on".
	if v, ok := os.LookupEnv("OPTIMIZER"); ok {
		c.Optimizer = v != "" && v != "false" && v != "0"
	}
	if v := os.Getenv("REPORT_GAS"); v != "" {
		c.ReportGas = true
	}
	if v := os.Getenv("FAST"); v != "" {
		c.Fast = true
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Gas == 0 {
		return errors.New("gas must be positive")
	}
	if c.BlockGasLimit < c.Gas {
		return fmt.Errorf("block gas limit %d below tx gas %d", c.BlockGasLimit, c.Gas)
	}
	if c.BlockTimeMs < 0 {
		return fmt.Errorf("block_time_ms must not be negative, got %d", c.BlockTimeMs)
	}
	if _, ok := c.Networks[c.Network]; !ok {
		return fmt.Errorf("unknown network %q (known: %s)", c.Network, strings.Join(c.NetworkNames(), ", "))
	}
	return nil
}

// NetworkNames returns the configured network names in sorted order.
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile resolves the named network into an immutable profile with the
// Alchemy key substituted and the named accounts attached.
func (c *Config) Profile(name string) (NetworkProfile, error) {
	p, ok := c.Networks[name]
	if !ok {
		return NetworkProfile{}, fmt.Errorf("unknown network %q", name)
	}
	p.Name = name
	if p.ChainID == 0 {
		p.ChainID = ChainIDs[name]
	}
	p.URL = strings.ReplaceAll(p.URL, alchemyKeyPlaceholder, c.Keys.Alchemy)
	if name == HardhatNetwork {
		p.ForkBlock = c.ForkBlock
		if c.RPCURL != "" {
			p.URL = c.RPCURL
		}
	}
	if len(p.Accounts) == 0 {
		p.Accounts = c.NamedAccountKeys()
	} else {
		p.Accounts = append([]string(nil), p.Accounts...)
	}
	return p, nil
}

// ActiveProfile resolves the profile selected by Network.
func (c *Config) ActiveProfile() (NetworkProfile, error) {
	return c.Profile(c.Network)
}

// NamedAccountKeys returns the deployer and owner keys that are set, in
// named account order.
func (c *Config) NamedAccountKeys() []string {
	var keys []string
	for _, k := range []string{c.DeployerKey, c.OwnerKey} {
		if IsUnsetKey(k) {
			break
		}
		keys = append(keys, strings.TrimPrefix(k, "0x"))
	}
	return keys
}

// ResolvedForkURL returns the upstream used for forking: FORK_URL when set,
// otherwise the mainnet Alchemy endpoint when a key is present.
func (c *Config) ResolvedForkURL() string {
	if c.ForkURL != "" {
		return c.ForkURL
	}
	if c.Keys.Alchemy == "" {
		return ""
	}
	p, err := c.Profile("mainnet")
	if err != nil {
		return ""
	}
	return p.URL
}

// IsUnsetKey reports whether a private key is empty or the all-zero default.
func IsUnsetKey(key string) bool {
	key = strings.TrimPrefix(strings.TrimSpace(key), "0x")
	return key == "" || key == zeroPrivateKey
}
