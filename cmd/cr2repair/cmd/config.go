package cmd

import (
	"fmt"

	"github.com/javi11/cr2repair/internal/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with the default values",
		Args:  cobra.MaximumNArgs(1),
		// The file written here may not exist yet, so skip loading it.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE:              runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	configCmd.AddCommand(initCmd, showCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "config.yaml"
	if len(args) > 0 {
		path = args[0]
	}

	force, _ := cmd.Flags().GetBool("force")
	if !force {
		if exists, _ := afero.Exists(afero.NewOsFs(), path); exists {
			return fmt.Errorf("%s already exists, use --force to overwrite it", path)
		}
	}

	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	data, err := yaml.Marshal(configManager.GetConfig())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if f := configManager.ConfigFile(); f != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", f)
	} else if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
