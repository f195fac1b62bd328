// Package main is the entry point for the SendMe database migration tool.
// It applies the embedded schema migrations of the configured driver.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/app"
	"github.com/prn-tf/sendme/internal/config"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	switch command {
	case "version":
		fmt.Printf("SendMe Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up", "status":
		if err := migrate(*configPath, command == "up"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func migrate(configPath string, apply bool) error {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Logging).Level(zerolog.WarnLevel)

	ctx := context.Background()
	db, err := app.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if apply {
		if err := db.Migrator.Migrate(ctx); err != nil {
			return err
		}
	}

	version, err := db.Migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("driver=%s schema_version=%d\n", cfg.Database.Driver, version)
	return nil
}

func printUsage() {
	fmt.Println(`SendMe Migration Tool

Usage:
  sendme-migrate [-config path] <command>

Commands:
  up          Run all pending migrations
  status      Show current schema version
  version     Print version information
  help        Show this help message

Environment Variables:
  SENDME_DATABASE_DRIVER    postgres or sqlite
  SENDME_DATABASE_PATH      SQLite database file
  SENDME_DATABASE_HOST      PostgreSQL host (and _PORT, _USER, _PASSWORD, _DATABASE)
  SENDME_AUTH_JWT_SECRET    Required by configuration validation

Examples:
  sendme-migrate up
  sendme-migrate -config ./configs/config.yaml status`)
}
