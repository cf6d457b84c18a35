// Package main implements studio-boardctl, operational tooling for a
// studio-board deployment.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"studio-board/internal/common"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:           "studio-boardctl",
	Short:         "Operational tooling for studio-board",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
}

// loadConfig reads the same configuration the server uses and logs to the
// console only.
func loadConfig() (*common.Config, error) {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Output = "console"
	if err := common.InitLogger(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}
