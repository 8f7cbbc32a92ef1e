package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/javi11/cr2repair/internal/config"
	"github.com/javi11/cr2repair/internal/slogutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	configFile    string
	v             = viper.New()
	configManager *config.Manager
	logCloser     io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "cr2repair",
	Short: "Repair CR2 raw files whose header was destroyed by ransomware",
	Long: `cr2repair restores Canon CR2 files whose metadata header was overwritten
while the raw image data was left intact. The header of a known-good reference
file taken with the same camera and settings is spliced in front of the image
data of every damaged file.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default: ./config.yaml or <user config dir>/cr2repair/config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", config.LogFormatAuto, "log format (text, json, auto)")
	flags.String("log-file", "", "also write logs to this rotating file")

	mustBind("log.level", flags.Lookup("log-level"))
	mustBind("log.format", flags.Lookup("log-format"))
	mustBind("log.file", flags.Lookup("log-file"))
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	configManager = config.NewManager(cfg, configFile)

	logger, closer, err := slogutil.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logCloser = closer
	slog.SetDefault(logger)

	slog.DebugContext(cmd.Context(), "Configuration loaded", "config_file", configFile, "version", Version)
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if logCloser == nil {
		return nil
	}
	err := logCloser.Close()
	logCloser = nil
	return err
}

// mustBind lets a flag override the config key when it is set.
func mustBind(key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
