package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/planboard/chatcore/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect chatcore configuration",
	Long: `Inspect and create chatcore configuration files.

The configuration is read from --config, then $` + config.PathEnv + `, then
config.yaml in the data directory. Built-in defaults apply when none exists.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (token masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "# source: %s %s\n", configResult.Source, configResult.Path)
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, source := config.ResolvePath(configPath)
		fmt.Printf("%s (%s)\n", path, source)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short:       "Write the default configuration file",
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	RunE:        runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configPathCmd, configInitCmd)
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing configuration file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, _ := config.ResolvePath(configPath)
	if path == "" {
		return fmt.Errorf("cannot determine configuration path")
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		fmt.Printf("Configuration file already exists: %s\n", path)
		fmt.Println("Use --force to overwrite it.")
		return nil
	}
	data, err := config.Default().Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	fmt.Printf("Configuration file created: %s\n", path)
	return nil
}
