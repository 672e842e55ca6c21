// Package main is the entry point for the reviewly server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (config file + env vars)
// 2. Create the logger
// 3. Hand off to internal/server
//
// All actual logic lives in imported packages (internal/server,
// internal/service, ...), which keeps it testable.
//
// COMMANDS:
//
//	reviewly serve   [--config reviewly.yaml]   run the HTTP server
//	reviewly migrate [--config reviewly.yaml]   apply database migrations and exit
//	reviewly version                            print build information
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sakif/reviewly/internal/config"
	sqliteRepo "github.com/sakif/reviewly/internal/repository/sqlite"
	"github.com/sakif/reviewly/internal/server"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "reviewly",
		Short:         "Back-office server: contact form, Google sign-in, admin API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (env vars override it)")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads and validates the configuration, then builds the logger
// at the configured level and reports any load warnings through it.
func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	// slog.NewTextHandler outputs human-readable key=value logs.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}

			// Start blocks until SIGINT/SIGTERM and closes the server itself.
			return srv.Start()
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
				return fmt.Errorf("creating database directory: %w", err)
			}

			// Opening the store applies every pending migration.
			db, err := sqliteRepo.New(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			logger.Info("database is up to date", slog.String("database", cfg.Database.Path))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "reviewly %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
