package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	_ "schemascan/internal/db/extractors"
	"schemascan/internal/logger"
	"schemascan/pkg/config"
)

var (
	cfgPath string
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "schemascan",
	Short: "Extract table and column metadata from relational and warehouse backends",
	Long: `schemascan connects to a database or data warehouse, walks its catalog and
prints every table and view with its columns as one JSON document.

Supported backends: postgres, snowflake, bigquery, databricks, duckdb,
mysql, sqlserver, sqlite (and oracle when built with -tags oracle).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(verbose)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join(".", "configs", "example.yaml"), "path to config YAML")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before ${VAR} expansion")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backendsCmd)
}

func loadConfig() (config.AppConfig, error) {
	logger.Info("config file %s", cfgPath)
	cfg, err := config.LoadFile(cfgPath, envFile)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}
	return cfg, nil
}
