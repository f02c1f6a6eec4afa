package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the lendingd runtime configuration.
type Config struct {
	ListenAddress string          `toml:"ListenAddress" yaml:"listen"`
	DataDir       string          `toml:"DataDir" yaml:"data_dir"`
	Environment   string          `toml:"Environment" yaml:"environment"`
	LogFile       string          `toml:"LogFile,omitempty" yaml:"log_file,omitempty"`
	Owner         string          `toml:"Owner" yaml:"owner"`
	ModuleAddress string          `toml:"ModuleAddress" yaml:"module_address"`
	DebtToken     TokenConfig     `toml:"debt_token" yaml:"debt_token"`
	Assets        []AssetConfig   `toml:"assets" yaml:"assets"`
	Auth          AuthConfig      `toml:"auth" yaml:"auth"`
	RateLimit     RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	Journal       JournalConfig   `toml:"journal" yaml:"journal"`
	Telemetry     TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists. Files ending in .yaml or .yml are read as YAML, anything
// else as TOML. Environment overrides are applied after decoding.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		cfg.ApplyEnv()
		return cfg, nil
	}

	cfg := &Config{}
	var err error
	if isYAML(path) {
		err = decodeYAML(path, cfg)
	} else {
		err = decodeTOML(path, cfg)
	}
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.ApplyEnv()
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeTOML(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaultListen
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.DebtToken.Symbol) == "" {
		cfg.DebtToken.Symbol = "DSC"
	}
	if cfg.DebtToken.Decimals == 0 {
		cfg.DebtToken.Decimals = 18
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = "lendingd"
	}
	if cfg.Assets == nil {
		cfg.Assets = []AssetConfig{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress: defaultListen,
		DataDir:       "./lendingd-data",
		Environment:   "dev",
		Owner:         "0x00000000000000000000000000000000000000a1",
		ModuleAddress: "0x00000000000000000000000000000000000000ee",
		DebtToken: TokenConfig{
			Address:  "0x00000000000000000000000000000000000000d5",
			Symbol:   "DSC",
			Decimals: 18,
		},
		Assets: []AssetConfig{
			{Address: "0x00000000000000000000000000000000000000c0", Symbol: "WETH", Decimals: 18, FeedDecimals: 8, InitialPrice: "2000"},
			{Address: "0x00000000000000000000000000000000000000c1", Symbol: "WBTC", Decimals: 8, FeedDecimals: 8, InitialPrice: "30000"},
		},
		Auth: AuthConfig{
			HMACSecret:          hex.EncodeToString(secret),
			Issuer:              "lendingd",
			AllowAnonymousReads: true,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Journal:   JournalConfig{DSN: "./lendingd-data/journal.db"},
	}

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
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		encoder := yaml.NewEncoder(f)
		defer encoder.Close()
		return encoder.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
