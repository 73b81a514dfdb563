package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/bulwark/adapters/redis"
	"github.com/artpar/bulwark/adapters/sqlstore"
	"github.com/artpar/bulwark/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the bulwark configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present and consistent
  - Upstreams are reachable (optional)
  - Audit store and stats sink accept connections (optional)

Examples:
  bulwark validate
  bulwark validate --config /etc/bulwark/config.yaml --check-upstreams --check-stores`,
	RunE: runValidate,
}

var (
	validateCheckUpstreams bool
	validateCheckStores    bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckUpstreams, "check-upstreams", false, "check that every upstream is reachable")
	validateCmd.Flags().BoolVar(&validateCheckStores, "check-stores", false, "check that the audit store and stats sink accept connections")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	// Show config summary
	fmt.Fprintf(out, "  %s Listen: %s\n", checkMark, cfg.Server.Addr())
	fmt.Fprintf(out, "  %s Rate limit tiers: %d\n", checkMark, len(cfg.RateLimit.Tiers))
	fmt.Fprintf(out, "  %s Upstreams: %d, routes: %d\n", checkMark, len(cfg.Upstreams), len(cfg.Routes))
	fmt.Fprintf(out, "  %s Audit store: %s\n", checkMark, cfg.Audit.Driver)
	fmt.Fprintf(out, "  %s Stats sink: %s\n", checkMark, cfg.Stats.Driver)
	if cfg.Admin.TokenHash == "" {
		fmt.Fprintf(out, "  %s Admin API disabled (admin.token_hash not set)\n", crossMark)
	}

	if validateCheckUpstreams {
		for _, u := range cfg.Upstreams {
			if err := checkUpstreamReachable(u.URL); err != nil {
				fmt.Fprintf(out, "  %s Upstream %s reachable\n", crossMark, u.Name)
				fmt.Fprintf(out, "      Error: %v\n", err)
			} else {
				fmt.Fprintf(out, "  %s Upstream %s reachable\n", checkMark, u.Name)
			}
		}
	}

	if validateCheckStores {
		if err := checkAuditStore(cfg.Audit); err != nil {
			fmt.Fprintf(out, "  %s Audit store reachable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Audit store reachable\n", checkMark)
		}
		if cfg.Stats.Driver == config.StatsRedis {
			if err := checkRedis(cfg.Stats.Redis); err != nil {
				fmt.Fprintf(out, "  %s Redis reachable\n", crossMark)
				fmt.Fprintf(out, "      Error: %v\n", err)
			} else {
				fmt.Fprintf(out, "  %s Redis reachable\n", checkMark)
			}
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkUpstreamReachable(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "HEAD", url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func checkAuditStore(ac config.AuditConfig) error {
	var driver string
	switch ac.Driver {
	case config.AuditSQLite:
		driver = sqlstore.DriverSQLite
	case config.AuditPostgres:
		driver = sqlstore.DriverPostgres
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := sqlstore.Open(ctx, driver, ac.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Ping(ctx)
}

func checkRedis(rc config.RedisConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := redis.Connect(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return err
	}
	return rdb.Close()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
