package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name        string
		config      *Config
		expectError bool
		errorMsg    string
		validate    func(t *testing.T, cfg *Config)
	}{
		{
			name: "Valid config with all fields",
			config: &Config{
				LogLevel:           0,
				LogFormat:          "json",
				Engine:             "reference",
				PaillierBits:       1024,
				KeyshareDir:        "/var/lib/mpcstep/keys",
				KeyshareIterations: 1000,
				StoreDSN:           ":memory:",
				TLSDir:             "certs",
				DialTimeoutSeconds: 5,
				BackupKeyBits:      2048,
			},
		},
		{
			name:        "Invalid log level (negative)",
			config:      &Config{LogLevel: -1, LogFormat: "json"},
			expectError: true,
			errorMsg:    "log level must be between 0 and 5",
		},
		{
			name:        "Invalid log level (too high)",
			config:      &Config{LogLevel: 6, LogFormat: "json"},
			expectError: true,
			errorMsg:    "log level must be between 0 and 5",
		},
		{
			name:        "Invalid log format",
			config:      &Config{LogLevel: 1, LogFormat: "xml"},
			expectError: true,
			errorMsg:    "log format must be 'json' or 'console'",
		},
		{
			name:        "Unknown engine",
			config:      &Config{Engine: "wasm"},
			expectError: true,
			errorMsg:    "engine must be",
		},
		{
			name:        "Paillier modulus too small",
			config:      &Config{PaillierBits: 512},
			expectError: true,
			errorMsg:    "paillier bits must be at least 1024",
		},
		{
			name:        "Too few keyshare iterations",
			config:      &Config{KeyshareIterations: 10},
			expectError: true,
			errorMsg:    "keyshare iterations must be at least 1000",
		},
		{
			name:        "Negative dial timeout",
			config:      &Config{DialTimeoutSeconds: -1},
			expectError: true,
			errorMsg:    "dial timeout must be positive",
		},
		{
			name:        "Backup key too small",
			config:      &Config{BackupKeyBits: 1024},
			expectError: true,
			errorMsg:    "backup key bits must be at least 2048",
		},
		{
			name:   "Config with defaults applied",
			config: &Config{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "console", cfg.LogFormat)
				assert.Equal(t, "reference", cfg.Engine)
				assert.Equal(t, 2048, cfg.PaillierBits)
				assert.Equal(t, "keyshares", cfg.KeyshareDir)
				assert.Equal(t, 600_000, cfg.KeyshareIterations)
				assert.Equal(t, "data/contexts.db", cfg.StoreDSN)
				assert.Equal(t, "tls", cfg.TLSDir)
				assert.Equal(t, 30, cfg.DialTimeoutSeconds)
				assert.Equal(t, 3072, cfg.BackupKeyBits)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.config)
			if tc.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errorMsg)
				return
			}
			require.NoError(t, err)
			if tc.validate != nil {
				tc.validate(t, tc.config)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	home := t.TempDir()

	cfg := &Config{LogLevel: 2, LogFormat: "json", StoreDSN: ":memory:"}
	require.NoError(t, Save(cfg, home))

	info, err := os.Stat(filepath.Join(home, "config", "mpcstep.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, *cfg, loaded)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	def, err := LoadDefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, *def, cfg)
	assert.Equal(t, 1, cfg.LogLevel)
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, "config")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	file := filepath.Join(dir, "mpcstep.json")

	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o600))
	_, err := Load(home)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")

	data, err := json.Marshal(map[string]any{"log_format": "yaml"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, data, 0o600))
	_, err = Load(home)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestResolve(t *testing.T) {
	assert.Equal(t, filepath.Join("/home/p1", "keyshares"), Resolve("/home/p1", "keyshares"))
	assert.Equal(t, "/srv/keys", Resolve("/home/p1", "/srv/keys"))
	assert.Equal(t, ":memory:", Resolve("/home/p1", ":memory:"))
	assert.Equal(t, "file:x.db?mode=ro", Resolve("/home/p1", "file:x.db?mode=ro"))
}
