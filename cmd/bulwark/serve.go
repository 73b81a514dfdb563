package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/bulwark/bootstrap"
	"github.com/artpar/bulwark/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the bulwark server.

The server will:
  - Load configuration from bulwark.yaml (or --config)
  - Or load configuration from BULWARK_* environment variables
  - Open the audit store and the rate limit stats sink
  - Register a circuit breaker for every configured upstream
  - Serve the configured routes, the admin API and health probes

With --hot-reload (the default) the config file is watched and SIGHUP
triggers a reload. Rate limit tiers, bypass paths and the log level
change without a restart.

Examples:
  bulwark serve
  bulwark serve --config /etc/bulwark/config.yaml
  bulwark serve --hot-reload=false

  # Env vars only:
  BULWARK_AUDIT_DRIVER=memory BULWARK_SERVER_PORT=9000 bulwark serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	var (
		cfg    *config.Config
		holder *config.Holder
		err    error
	)

	if hasConfigFile && hotReload {
		// Hot reload only works with config file
		holder, err = config.NewHolder(cfgFile, zerolog.New(os.Stdout).With().Timestamp().Str("component", "config").Logger())
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cfg = holder.Get()
	} else {
		// Load config (file with env overrides, or env-only)
		cfg, err = config.LoadWithFallback(cfgFile)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		if !hasConfigFile {
			fmt.Println("Running with environment variables (no config file)")
		}
	}

	app, err := bootstrap.New(cfg, bootstrap.Options{
		Version: version,
		Holder:  holder,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
