package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Role != RoleCustody || cfg.ListenAddress != ":8080" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestLoadParsesAmountsAndAddresses(t *testing.T) {
	path := writeConfig(t, `
ChainID = 42
Role = "retail"
AccountantAddress = "0x00000000000000000000000000000000000000AC"
PoolTokenAddress = "0x00000000000000000000000000000000000000B0"
CustodyFundsAddress = "0x00000000000000000000000000000000000000F0"

[supply]
InitialSupply = "1000000"
ApyFormatter = 9000

[token]
MinDeposit = "500"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	supply, err := cfg.InitialSupply()
	if err != nil || supply.Int64() != 1_000_000 {
		t.Fatalf("initial supply: %v %v", supply, err)
	}
	minDeposit, err := cfg.MinDeposit()
	if err != nil || minDeposit.Int64() != 500 {
		t.Fatalf("min deposit: %v %v", minDeposit, err)
	}
	acct, err := cfg.Accountant()
	if err != nil || acct[19] != 0xAC {
		t.Fatalf("accountant: %x %v", acct, err)
	}
	token, err := cfg.PoolToken()
	if err != nil || token[19] != 0xB0 {
		t.Fatalf("pool token: %x %v", token, err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown role",
			body: "ChainID = 1\nRole = \"observer\"\nAccountantAddress = \"0x0000000000000000000000000000000000000001\"\n",
			want: "unknown Role",
		},
		{
			name: "zero chain id",
			body: "ChainID = 0\nAccountantAddress = \"0x0000000000000000000000000000000000000001\"\n",
			want: "ChainID",
		},
		{
			name: "relay with auto-push",
			body: "ChainID = 1\nAccountantAddress = \"0x0000000000000000000000000000000000000001\"\n[bridge]\nUseRelay = true\nRelayURL = \"https://relay.example\"\nOracleAutoPush = true\n",
			want: "mutually exclusive",
		},
		{
			name: "relay without url",
			body: "ChainID = 1\nAccountantAddress = \"0x0000000000000000000000000000000000000001\"\n[bridge]\nUseRelay = true\n",
			want: "RelayURL",
		},
		{
			name: "bad amount",
			body: "ChainID = 1\nAccountantAddress = \"0x0000000000000000000000000000000000000001\"\n[supply]\nInitialSupply = \"-5\"\n",
			want: "InitialSupply",
		},
		{
			name: "bad address",
			body: "ChainID = 1\nAccountantAddress = \"not-an-address\"\n",
			want: "AccountantAddress",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
