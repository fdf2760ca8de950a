package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fentz26/patchward/internal/config"
	"github.com/spf13/cobra"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the patchward config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Writes the default configuration to --config, or ~/.patchward/config.yaml
when none is given. An existing file is kept unless --force is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := initConfig(configPath, configInitForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
}

// initConfig writes the default config to path and returns where it went.
func initConfig(path string, force bool) (string, error) {
	if path == "" {
		path = filepath.Join(config.Dir(), "config.yaml")
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		return "", err
	}
	return path, nil
}
