// Package commands implements the crudschemas command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/marshallshelly/crudschemas/internal/cache"
	"github.com/marshallshelly/crudschemas/internal/config"
	"github.com/marshallshelly/crudschemas/internal/events"
	"github.com/marshallshelly/crudschemas/internal/logging"
	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

var (
	// Global flags
	configFile    string
	envFile       string
	dbURL         string
	logLevel      string
	migrationsDir string
	jsonOutput    bool
	schemaNames   []string

	cfg config.Config
	log *logrus.Logger
)

// flagSettings maps cobra flags onto the config keys they override.
var flagSettings = map[string]string{
	"db":             "db-url",
	"log-level":      "log-level",
	"migrations-dir": "migrations-dir",
}

var rootCmd = &cobra.Command{
	Use:   "crudschemas",
	Short: "Schemas and data access for the qa, cinema and rental databases",
	Long: `crudschemas owns three PostgreSQL schemas: a Q&A forum (qa), a cinema
booking system (cinema) and a short-stay rental marketplace (rental).

It renders their DDL, generates and applies migrations, checks a live
database for drift and runs maintenance jobs such as seat reconciliation.

Settings come from defaults, --config (YAML), --env-file, CRUDSCHEMAS_*
environment variables and flags, in increasing order of precedence.`,
	Version:       "0.4.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errDrift) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded when present")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Database connection URL (overrides CRUDSCHEMAS_DB_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides CRUDSCHEMAS_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "Directory for migration files")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringSliceVarP(&schemaNames, "schema", "s", nil, "Schemas to act on (default: all)")
}

// loadConfig resolves settings, passing changed cobra flags to the config
// loader so they win over every other source.
func loadConfig(cmd *cobra.Command) error {
	var args []string
	for flag, key := range flagSettings {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			args = append(args, fmt.Sprintf("--%s=%s", key, f.Value.String()))
		}
	}

	var err error
	cfg, err = config.Load(config.Options{Args: args, YAMLFile: configFile, EnvFile: envFile})
	if err != nil {
		return err
	}
	log, err = logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return err
}

func connect(ctx context.Context) (*runtime.DB, error) {
	db, err := runtime.Connect(ctx, runtime.Config{
		URL:             cfg.DB.URL,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// ratingCache returns the Redis cache when configured, else a no-op cache.
func ratingCache(ctx context.Context) (cache.Cache, func(), error) {
	if cfg.Redis.Addr == "" {
		return cache.Nop{}, func() {}, nil
	}
	r, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}

// publisher returns the NATS publisher when configured, else a no-op one.
func publisher() (events.Publisher, func(), error) {
	if cfg.NATS.URL == "" {
		return events.Nop{}, func() {}, nil
	}
	n, err := events.NewNATS(cfg.NATS.URL, cfg.NATS.Prefix)
	if err != nil {
		return nil, nil, err
	}
	return n, func() { _ = n.Close() }, nil
}
