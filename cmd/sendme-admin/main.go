// Package main is the entry point for the SendMe admin CLI.
// It manages users and quotas and runs maintenance jobs against the
// configured database and blob store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/sendme/internal/app"
	"github.com/prn-tf/sendme/internal/config"
	"github.com/prn-tf/sendme/internal/lock"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "sendme-admin",
		Short:         "SendMe administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(newUserCmd())
	rootCmd.AddCommand(newQuotaCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SendMe Admin CLI\n")
			fmt.Printf("Version: %s\n", Version)
			fmt.Printf("Build Time: %s\n", BuildTime)
			fmt.Printf("Git Commit: %s\n", GitCommit)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is the set of components an admin command works with.
type env struct {
	cfg      *config.Config
	db       *app.Database
	coord    *app.Coordination
	services *app.Services
	logger   zerolog.Logger
}

func (e *env) Close() {
	e.coord.Close()
	_ = e.db.Close()
}

// openEnv loads configuration and connects to the database, blob store and
// coordination backend.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if purgeDryRun {
		cfg.Purge.DryRun = true
	}

	logger := app.NewLogger(cfg.Logging)
	if verbose {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.WarnLevel)
	}

	db, err := app.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrator.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	blobs, err := app.OpenStorage(ctx, cfg.Storage, cfg.Upload.ChunkSize, nil, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	coord, err := app.OpenCoordination(ctx, cfg.Redis, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !cfg.Redis.Enabled {
		// In-process locks cannot see a running server's jobs.
		coord.Locker = lock.NewNoOpLocker()
	}

	return &env{
		cfg:      cfg,
		db:       db,
		coord:    coord,
		services: app.NewServices(cfg, db, blobs, coord, nil, nil, logger),
		logger:   logger,
	}, nil
}

// withEnv adapts a command body that needs an open env.
func withEnv(fn func(ctx context.Context, e *env, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(ctx, e, args)
	}
}
