package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"schemascan/internal/db"
	"schemascan/pkg/config"
)

var (
	timeout        time.Duration
	connectTimeout time.Duration
	queryTimeout   time.Duration
	concurrency    int
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract the schema of the configured connection",
	Long:  `Connects with the connection block of the config file and writes the extracted schema as JSON to stdout.`,
	Args:  cobra.NoArgs,
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline (default 5m)")
	extractCmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 0, "connect deadline (default 15s)")
	extractCmd.Flags().DurationVar(&queryTimeout, "query-timeout", 0, "per-query deadline (default 30s)")
	extractCmd.Flags().IntVar(&concurrency, "concurrency", 0, "schemas extracted at once where supported (default 8)")
}

// extractOptions applies flag overrides on top of the extract section.
func extractOptions(c config.ExtractConfig) db.Options {
	if timeout > 0 {
		c.Timeout = timeout
	}
	if connectTimeout > 0 {
		c.ConnectTimeout = connectTimeout
	}
	if queryTimeout > 0 {
		c.QueryTimeout = queryTimeout
	}
	if concurrency > 0 {
		c.MaxConcurrency = concurrency
	}
	return db.OptionsFrom(c)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schema, err := db.ConnectAndExtract(ctx, cfg.Connection, extractOptions(cfg.Extract))
	if err != nil {
		return fmt.Errorf("extract %s: %w", cfg.Connection.Type, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(schema)
}
