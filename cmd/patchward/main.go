package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fentz26/patchward/internal/config"
	"github.com/spf13/cobra"
)

// Version is the patchward release, overridden at build time with -ldflags.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "patchward",
	Short: "patchward - idempotent, reversible patch actions",
	Long: `patchward applies unified diffs to files as idempotent actions: it checks
whether a patch is already applied, applies it atomically when it is not, and
records the reverse action needed to undo it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the patchward version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("patchward", Version)
	},
}

var (
	apiAddr    string
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "API server address (default from config listen address)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.patchward/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log decisions to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd, fixCmd, applyCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(txnCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the --config file, or the home config when none was given.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.LoadConfigFromHome()
}

// apiBase resolves the daemon URL from --api or the configured listen address.
func apiBase() string {
	if apiAddr != "" {
		return apiAddr
	}
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	return "http://" + cfg.Listen
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			os.Exit(se.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
