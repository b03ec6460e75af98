package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"socgraph/config"
	"socgraph/internal/logger"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "socgraph",
	Short: "Network topology and threat scoring from endpoint logs",
	Long: `socgraph infers a live network topology from heterogeneous endpoint logs:
- hosts, subnets, domains and security zones
- node roles, importance and high-value targets
- trust relationships and attack paths

Every event is also scored for threat likelihood, optionally with an LLM verdict.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./socgraph.yaml or next to the binary)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level override (debug, info, warn, error)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() error {
	path := findConfigFile(cfgFile)
	loaded, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	cfg = loaded

	if err := logger.Init(logger.Options{
		Enabled: cfg.Logging.Enabled,
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	if path != "" {
		logger.Infof("Config loaded from: %s", path)
	}
	return nil
}

// findConfigFile returns the explicit path, else socgraph.yaml in the working
// directory or next to the executable, else "" for defaults only.
func findConfigFile(configArg string) string {
	if configArg != "" {
		return configArg
	}
	if _, err := os.Stat("socgraph.yaml"); err == nil {
		return "socgraph.yaml"
	}
	if exePath, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(exePath), "socgraph.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "socgraph version %s\n", version)
	},
}
