package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bulwark",
	Short: "Circuit breakers, rate limiting and audit trail in front of your services",
	Long: `Bulwark is a resilience and error-governance layer.

It guards upstream dependencies with circuit breakers, limits callers with
tiered fixed-window rate limits, answers every failure with one consistent
JSON error envelope and keeps an audit trail of sensitive operations.

Quick start:
  bulwark hash-token <token>   # Hash an admin token for admin.token_hash
  bulwark validate             # Validate configuration
  bulwark serve                # Start the server`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "bulwark.yaml", "config file path")
}
