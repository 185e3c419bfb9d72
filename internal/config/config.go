package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/refengine"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/store"
)

const (
	configSubdir   = "config"
	configFileName = "mpcstep.json"

	minPaillierBits = 1024
	minBackupBits   = 2048
)

//go:embed default_config.json
var defaultConfigJSON []byte

// Config is the on-disk configuration of the mpcstep CLI. Relative paths are
// resolved against the home directory.
type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // zerolog level: 0 = debug ... 5 = panic
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (1 in 5)

	// Engine Config
	Engine       string `json:"engine"`        // "reference" or "native"
	PaillierBits int    `json:"paillier_bits"` // reference engine Paillier modulus size

	// Keyshare storage
	KeyshareDir        string `json:"keyshare_dir"`        // encrypted share files (default: keyshares)
	KeyshareIterations int    `json:"keyshare_iterations"` // PBKDF2 rounds for new files

	// Paused contexts
	StoreDSN string `json:"store_dsn"` // sqlite path or ":memory:" (default: data/contexts.db)

	// Networking
	TLSDir             string `json:"tls_dir"`              // certificates written by `mpcstep certs`
	DialTimeoutSeconds int    `json:"dial_timeout_seconds"` // how long P1 retries before giving up

	BackupKeyBits int `json:"backup_key_bits"` // RSA modulus size for backup-keygen
}

func validateConfig(cfg *Config) error {
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if cfg.Engine == "" {
		cfg.Engine = mpcstep.EngineReference
	}
	if cfg.Engine != mpcstep.EngineReference && cfg.Engine != mpcstep.EngineNative {
		return fmt.Errorf("engine must be '%s' or '%s'", mpcstep.EngineReference, mpcstep.EngineNative)
	}
	if cfg.PaillierBits == 0 {
		cfg.PaillierBits = refengine.DefaultPaillierBits
	}
	if cfg.PaillierBits < minPaillierBits {
		return fmt.Errorf("paillier bits must be at least %d", minPaillierBits)
	}

	if cfg.KeyshareDir == "" {
		cfg.KeyshareDir = "keyshares"
	}
	if cfg.KeyshareIterations == 0 {
		cfg.KeyshareIterations = 600_000
	}
	if cfg.KeyshareIterations < 1_000 {
		return fmt.Errorf("keyshare iterations must be at least 1000")
	}

	if cfg.StoreDSN == "" {
		cfg.StoreDSN = "data/contexts.db"
	}
	if cfg.TLSDir == "" {
		cfg.TLSDir = "tls"
	}
	if cfg.DialTimeoutSeconds == 0 {
		cfg.DialTimeoutSeconds = 30
	}
	if cfg.DialTimeoutSeconds < 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if cfg.BackupKeyBits == 0 {
		cfg.BackupKeyBits = 3072
	}
	if cfg.BackupKeyBits < minBackupBits {
		return fmt.Errorf("backup key bits must be at least %d", minBackupBits)
	}
	return nil
}

// Validate checks cfg and fills in defaults for unset fields.
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

// Save writes the given config to <home>/config/mpcstep.json.
func Save(cfg *Config, home string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(home, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, configFileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads <home>/config/mpcstep.json. A missing file yields the defaults.
func Load(home string) (Config, error) {
	configFile := filepath.Join(home, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if os.IsNotExist(err) {
		cfg, derr := LoadDefaultConfig()
		if derr != nil {
			return Config{}, derr
		}
		return *cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON.
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return &cfg, nil
}

// Resolve returns p, joined to home unless it is absolute. The in-memory
// store DSN and "file:" URIs are returned untouched.
func Resolve(home, p string) string {
	if p == store.InMemoryDSN || strings.HasPrefix(p, "file:") || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(home, p)
}
