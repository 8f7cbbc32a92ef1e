package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/javi11/cr2repair/internal/pathutil"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. CR2REPAIR_DECODE_ENABLED=true.
const EnvPrefix = "CR2REPAIR"

// Supported log formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
	LogFormatAuto = "auto"
)

// Supported decoded image formats
const (
	ImageFormatPNG  = "png"
	ImageFormatJPEG = "jpeg"
	ImageFormatTIFF = "tiff"
	ImageFormatPDF  = "pdf"
)

var (
	logLevels    = []string{"debug", "info", "warn", "error"}
	logFormats   = []string{LogFormatText, LogFormatJSON, LogFormatAuto}
	imageFormats = []string{ImageFormatPNG, ImageFormatJPEG, "jpg", ImageFormatTIFF, "tif", ImageFormatPDF}
)

// Config is the full application configuration.
type Config struct {
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Repair RepairConfig `yaml:"repair" mapstructure:"repair"`
	Decode DecodeConfig `yaml:"decode" mapstructure:"decode"`
}

// LogConfig controls the application logger. When File is set, logs are also
// written to a rotating file.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"` // days
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// RepairConfig controls the batch repair.
type RepairConfig struct {
	// Extension is the format extension that precedes the ransomware suffix.
	Extension string `yaml:"extension" mapstructure:"extension"`
	// OutputDir is resolved against the input folder when relative.
	OutputDir  string `yaml:"output_dir" mapstructure:"output_dir"`
	Sort       bool   `yaml:"sort" mapstructure:"sort"`
	VerifyBody *bool  `yaml:"verify_body" mapstructure:"verify_body"`
	Strict     bool   `yaml:"strict" mapstructure:"strict"`
}

// DecodeConfig controls the optional raw-to-image step.
type DecodeConfig struct {
	Enabled        *bool    `yaml:"enabled" mapstructure:"enabled"`
	ImageDir       string   `yaml:"image_dir" mapstructure:"image_dir"`
	Format         string   `yaml:"format" mapstructure:"format"`
	Quality        int      `yaml:"quality" mapstructure:"quality"`
	MaxDimension   int      `yaml:"max_dimension" mapstructure:"max_dimension"`
	Command        string   `yaml:"command" mapstructure:"command"`
	Args           []string `yaml:"args" mapstructure:"args"`
	TimeoutSeconds int      `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// DefaultConfig returns the configuration used when no file or override is given.
func DefaultConfig() *Config {
	verifyBody := true
	decodeEnabled := false

	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     LogFormatAuto,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Repair: RepairConfig{
			Extension:  "CR2",
			OutputDir:  "Repaired",
			VerifyBody: &verifyBody,
		},
		Decode: DecodeConfig{
			Enabled:        &decodeEnabled,
			ImageDir:       "Decoded",
			Format:         ImageFormatPNG,
			Quality:        90,
			Command:        "dcraw",
			Args:           []string{"-c", "-w", "-T", "{input}"},
			TimeoutSeconds: 120,
		},
	}
}

// GetDecodeEnabled reports whether the decode step runs after each repair.
func (c *Config) GetDecodeEnabled() bool {
	return c.Decode.Enabled != nil && *c.Decode.Enabled
}

// GetVerifyBody reports whether repaired bodies are inspected. Defaults to true.
func (c *Config) GetVerifyBody() bool {
	return c.Repair.VerifyBody == nil || *c.Repair.VerifyBody
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("log level %q must be one of %v", c.Log.Level, logLevels)
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Log.Format)) {
		return fmt.Errorf("log format %q must be one of %v", c.Log.Format, logFormats)
	}
	if c.Log.File != "" && (c.Log.MaxSize < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAge < 0) {
		return fmt.Errorf("log rotation values cannot be negative")
	}

	ext := strings.TrimPrefix(c.Repair.Extension, ".")
	if ext == "" {
		return fmt.Errorf("repair extension cannot be empty")
	}
	if strings.ContainsAny(ext, `./\`) {
		return fmt.Errorf("repair extension %q cannot contain dots or path separators", c.Repair.Extension)
	}

	if !slices.Contains(imageFormats, strings.ToLower(c.Decode.Format)) {
		return fmt.Errorf("decode format %q must be one of %v", c.Decode.Format, imageFormats)
	}
	if c.Decode.Quality < 1 || c.Decode.Quality > 100 {
		return fmt.Errorf("decode quality must be between 1 and 100, got %d", c.Decode.Quality)
	}
	if c.Decode.MaxDimension < 0 {
		return fmt.Errorf("decode max dimension cannot be negative")
	}
	if c.GetDecodeEnabled() {
		if c.Decode.Command == "" {
			return fmt.Errorf("decode command is required when decode is enabled")
		}
		if c.Decode.TimeoutSeconds <= 0 {
			return fmt.Errorf("decode timeout must be positive")
		}
	}

	return nil
}

// SetDefaults registers every default value on v so that environment
// variables and bound flags can override them.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("repair.extension", d.Repair.Extension)
	v.SetDefault("repair.output_dir", d.Repair.OutputDir)
	v.SetDefault("repair.sort", d.Repair.Sort)
	v.SetDefault("repair.verify_body", *d.Repair.VerifyBody)
	v.SetDefault("repair.strict", d.Repair.Strict)

	v.SetDefault("decode.enabled", *d.Decode.Enabled)
	v.SetDefault("decode.image_dir", d.Decode.ImageDir)
	v.SetDefault("decode.format", d.Decode.Format)
	v.SetDefault("decode.quality", d.Decode.Quality)
	v.SetDefault("decode.max_dimension", d.Decode.MaxDimension)
	v.SetDefault("decode.command", d.Decode.Command)
	v.SetDefault("decode.args", d.Decode.Args)
	v.SetDefault("decode.timeout_seconds", d.Decode.TimeoutSeconds)
}

// Load reads the configuration through v, which may already have command line
// flags bound to it. An empty configFile searches the working directory and
// the user config directory for config.yaml and tolerates its absence.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "cr2repair"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes cfg as YAML to path.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	fs := afero.NewOsFs()
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := pathutil.WriteFileAtomic(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Manager holds the active configuration.
type Manager struct {
	config     *Config
	configFile string
}

// NewManager creates a manager for cfg, loaded from configFile ("" when none).
func NewManager(cfg *Config, configFile string) *Manager {
	return &Manager{config: cfg, configFile: configFile}
}

// GetConfig returns the active configuration.
func (m *Manager) GetConfig() *Config {
	return m.config
}

// ConfigFile returns the path the configuration was loaded from.
func (m *Manager) ConfigFile() string {
	return m.configFile
}
