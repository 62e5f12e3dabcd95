package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Role selects which side of the vault this process operates.
const (
	RoleCustody = "custody"
	RoleRetail  = "retail"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	Role          string `toml:"Role"`
	ChainID       int64  `toml:"ChainID"`

	AccountantAddress   string `toml:"AccountantAddress"`
	PoolTokenAddress    string `toml:"PoolTokenAddress"`
	CustodyFundsAddress string `toml:"CustodyFundsAddress"`

	Supply SupplyConfig `toml:"supply"`
	Token  TokenConfig  `toml:"token"`
	Bridge BridgeConfig `toml:"bridge"`
}

type SupplyConfig struct {
	InitialSupply string `toml:"InitialSupply"`
	ApyFormatter  uint64 `toml:"ApyFormatter"`
}

type TokenConfig struct {
	MinDeposit string `toml:"MinDeposit"`
	MinRedeem  string `toml:"MinRedeem"`
}

type BridgeConfig struct {
	PeerURL        string `toml:"PeerURL"`
	UseRelay       bool   `toml:"UseRelay"`
	RelayURL       string `toml:"RelayURL"`
	OracleAutoPush bool   `toml:"OracleAutoPush"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vault-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.Role) == "" {
		cfg.Role = RoleCustody
	}
	if strings.TrimSpace(cfg.Bridge.PeerURL) == "" {
		cfg.Bridge.PeerURL = "http://127.0.0.1:8081/bridge/inbound"
	}
	if strings.TrimSpace(cfg.Supply.InitialSupply) == "" {
		cfg.Supply.InitialSupply = "1000000000000000000"
	}
	if strings.TrimSpace(cfg.Token.MinDeposit) == "" {
		cfg.Token.MinDeposit = "0"
	}
	if strings.TrimSpace(cfg.Token.MinRedeem) == "" {
		cfg.Token.MinRedeem = "0"
	}
}

// Validate checks cross-field constraints before any engine is constructed.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleCustody, RoleRetail:
	default:
		return fmt.Errorf("config: unknown Role %q", c.Role)
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("config: ChainID must be positive")
	}
	if c.Bridge.UseRelay && c.Bridge.OracleAutoPush {
		return fmt.Errorf("config: bridge.UseRelay and bridge.OracleAutoPush are mutually exclusive")
	}
	if c.Bridge.UseRelay && strings.TrimSpace(c.Bridge.RelayURL) == "" {
		return fmt.Errorf("config: bridge.RelayURL required when bridge.UseRelay is set")
	}
	if _, err := c.InitialSupply(); err != nil {
		return err
	}
	if _, err := c.MinDeposit(); err != nil {
		return err
	}
	if _, err := c.MinRedeem(); err != nil {
		return err
	}
	if _, err := c.Accountant(); err != nil {
		return err
	}
	return nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid %s %q", field, raw)
	}
	return v, nil
}

func parseAddress(field, raw string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return out, fmt.Errorf("config: %s not set", field)
	}
	if !common.IsHexAddress(trimmed) {
		return out, fmt.Errorf("config: invalid %s %q", field, raw)
	}
	copy(out[:], common.HexToAddress(trimmed).Bytes())
	return out, nil
}

// InitialSupply parses the configured supply-manager bootstrap amount.
func (c *Config) InitialSupply() (*big.Int, error) {
	return parseAmount("supply.InitialSupply", c.Supply.InitialSupply)
}

// MinDeposit parses the rebase-token deposit floor.
func (c *Config) MinDeposit() (*big.Int, error) {
	return parseAmount("token.MinDeposit", c.Token.MinDeposit)
}

// MinRedeem parses the rebase-token redemption floor.
func (c *Config) MinRedeem() (*big.Int, error) {
	return parseAmount("token.MinRedeem", c.Token.MinRedeem)
}

// Accountant parses the accountant identity address.
func (c *Config) Accountant() ([20]byte, error) {
	return parseAddress("AccountantAddress", c.AccountantAddress)
}

// PoolToken parses the custody pool token address.
func (c *Config) PoolToken() ([20]byte, error) {
	return parseAddress("PoolTokenAddress", c.PoolTokenAddress)
}

// CustodyFunds parses the custody funds source address.
func (c *Config) CustodyFunds() ([20]byte, error) {
	return parseAddress("CustodyFundsAddress", c.CustodyFundsAddress)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:       ":8080",
		DataDir:             "./vault-data",
		Environment:         "dev",
		Role:                RoleCustody,
		ChainID:             1,
		AccountantAddress:   "0x0000000000000000000000000000000000000001",
		PoolTokenAddress:    "0x0000000000000000000000000000000000000002",
		CustodyFundsAddress: "0x0000000000000000000000000000000000000003",
		Bridge:              BridgeConfig{PeerURL: "http://127.0.0.1:8081/bridge/inbound"},
		Supply: SupplyConfig{
			InitialSupply: "1000000000000000000",
			ApyFormatter:  9_000,
		},
		Token: TokenConfig{MinDeposit: "0", MinRedeem: "0"},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
