// Package cmd provides the CLI commands for PageGate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pagegate/pagegate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pagegate",
	Short: "PageGate - static site serving plane",
	Long: `PageGate is the serving plane of a static site hosting platform.

It resolves incoming hostnames to deployed projects, streams their
assets out of object storage, applies per-project proxy and cache
rules, accepts form submissions, and ages out old deployments on a
retention schedule. Projects, rules, and API keys are managed through
the admin API mounted on the same listener.

Quick start:
  1. Create a config file: pagegate.yaml
  2. Generate an encryption key: pagegate keygen
  3. Run: pagegate serve

Configuration:
  Config is loaded from pagegate.yaml in the current directory,
  $HOME/.pagegate/, or /etc/pagegate/.

  Environment variables can override config values with the PAGEGATE_ prefix.
  Example: PAGEGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the serving plane
  retention   Preview or run a retention rule once
  keygen      Generate an encryption key for injected header secrets
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./pagegate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
