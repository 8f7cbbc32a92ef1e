package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	enabled := true

	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantErr     bool
		errContains string
	}{
		{
			name:   "defaults - ok",
			mutate: func(c *Config) {},
		},
		{
			name: "decode enabled with tiff - ok",
			mutate: func(c *Config) {
				c.Decode.Enabled = &enabled
				c.Decode.Format = "TIFF"
				c.Decode.MaxDimension = 2048
			},
		},
		{
			name:        "unknown log level",
			mutate:      func(c *Config) { c.Log.Level = "trace" },
			wantErr:     true,
			errContains: "log level",
		},
		{
			name:        "unknown log format",
			mutate:      func(c *Config) { c.Log.Format = "xml" },
			wantErr:     true,
			errContains: "log format",
		},
		{
			name:        "empty extension",
			mutate:      func(c *Config) { c.Repair.Extension = "." },
			wantErr:     true,
			errContains: "extension cannot be empty",
		},
		{
			name:        "extension with separator",
			mutate:      func(c *Config) { c.Repair.Extension = "CR2/x" },
			wantErr:     true,
			errContains: "path separators",
		},
		{
			name:        "unknown image format",
			mutate:      func(c *Config) { c.Decode.Format = "webp" },
			wantErr:     true,
			errContains: "decode format",
		},
		{
			name:        "quality out of range",
			mutate:      func(c *Config) { c.Decode.Quality = 0 },
			wantErr:     true,
			errContains: "quality",
		},
		{
			name:        "negative max dimension",
			mutate:      func(c *Config) { c.Decode.MaxDimension = -1 },
			wantErr:     true,
			errContains: "max dimension",
		},
		{
			name: "decode enabled without command",
			mutate: func(c *Config) {
				c.Decode.Enabled = &enabled
				c.Decode.Command = ""
			},
			wantErr:     true,
			errContains: "decode command",
		},
		{
			name: "decode disabled without command - ok",
			mutate: func(c *Config) {
				c.Decode.Command = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Getters(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.GetDecodeEnabled())
	assert.True(t, cfg.GetVerifyBody(), "verify defaults to on when unset")

	off := false
	cfg.Repair.VerifyBody = &off
	assert.False(t, cfg.GetVerifyBody())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
log:
  level: debug
repair:
  extension: cr2
  sort: true
decode:
  enabled: true
  format: tiff
  args: ["-c", "-T", "{input}"]
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "cr2", cfg.Repair.Extension)
	assert.True(t, cfg.Repair.Sort)
	assert.True(t, cfg.GetDecodeEnabled())
	assert.Equal(t, "tiff", cfg.Decode.Format)
	assert.Equal(t, []string{"-c", "-T", "{input}"}, cfg.Decode.Args)

	// Untouched keys keep their defaults.
	assert.Equal(t, "Repaired", cfg.Repair.OutputDir)
	assert.Equal(t, "dcraw", cfg.Decode.Command)
	assert.True(t, cfg.GetVerifyBody())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CR2REPAIR_REPAIR_OUTPUT_DIR", "/restored")
	t.Setenv("CR2REPAIR_DECODE_QUALITY", "75")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "/restored", cfg.Repair.OutputDir)
	assert.Equal(t, 75, cfg.Decode.Quality)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("decode:\n  format: webp\n"), 0o644))

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")

	_, err = Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSave_LoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Repair.Extension = "CR3"
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "CR3", loaded.Repair.Extension)
	assert.Equal(t, cfg.Decode.Args, loaded.Decode.Args)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary file is left behind")
	assert.Equal(t, "config.yaml", entries[0].Name())
}

func TestManager_GetConfig(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg, "/etc/cr2repair.yaml")

	assert.Same(t, cfg, m.GetConfig())
	assert.Equal(t, "/etc/cr2repair.yaml", m.ConfigFile())
}
