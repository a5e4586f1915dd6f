package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"crypton/crypto"
)

// RouterModeStatic serves quotes from rates configured in this file;
// RouterModeHTTP proxies an external AMM quote service.
const (
	RouterModeStatic = "static"
	RouterModeHTTP   = "http"
)

// TokenConfig registers a fungible token in the ledger at startup.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// RateConfig declares one directional router rate From→To as Num/Den.
type RateConfig struct {
	From string `toml:"From"`
	To   string `toml:"To"`
	Num  uint64 `toml:"Num"`
	Den  uint64 `toml:"Den"`
}

// RouterConfig selects and parameterises the price-oracle router.
type RouterConfig struct {
	Mode     string       `toml:"Mode"`
	Endpoint string       `toml:"Endpoint,omitempty"`
	Rates    []RateConfig `toml:"Rates,omitempty"`
}

type Config struct {
	RPCAddress        string        `toml:"RPCAddress"`
	DataDir           string        `toml:"DataDir"`
	NetworkName       string        `toml:"NetworkName"`
	AdminKeystorePath string        `toml:"AdminKeystorePath"`
	FeePercent        uint64        `toml:"FeePercent"`
	PricingToken      string        `toml:"PricingToken"`
	Signers           []string      `toml:"Signers"`
	Tokens            []TokenConfig `toml:"Tokens"`
	Router            RouterConfig  `toml:"Router"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg, path)

	if err := ensureKeystore(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8571"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "crypton-local"
	}
	if strings.TrimSpace(cfg.AdminKeystorePath) == "" {
		cfg.AdminKeystorePath = defaultKeystorePath(path)
	}
	if strings.TrimSpace(cfg.Router.Mode) == "" {
		cfg.Router.Mode = RouterModeStatic
	}
	if cfg.Signers == nil {
		cfg.Signers = []string{}
	}
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	return filepath.Join(dir, "admin.keystore")
}

func ensureKeystore(cfg *Config) error {
	if _, err := os.Stat(cfg.AdminKeystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		return crypto.SaveToKeystore(cfg.AdminKeystorePath, key, keystorePassphrase())
	} else if err != nil {
		return err
	}
	return nil
}

func keystorePassphrase() string {
	return os.Getenv("CRYPTOND_KEYSTORE_PASS")
}

// AdminKey decrypts the admin keystore using the passphrase from
// CRYPTOND_KEYSTORE_PASS.
func (c *Config) AdminKey() (*crypto.PrivateKey, error) {
	return crypto.LoadFromKeystore(c.AdminKeystorePath, keystorePassphrase())
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		FeePercent:   7,
		PricingToken: "BUSD",
		Tokens: []TokenConfig{
			{Symbol: "BUSD", Name: "Pricing Stable", Decimals: 18},
		},
		Router: RouterConfig{Mode: RouterModeStatic},
	}
	applyDefaults(cfg, path)
	if err := ensureKeystore(cfg); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
