package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/domeseeing/internal/db"
)

func handleMigrate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c Config
	fs.StringVar(&c.ConfigPath, "config", "", "Run configuration file (for db_path)")
	fs.StringVar(&c.DBPath, "db", "", "Run ledger path (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printMigrateHelp(stdout)
		return errors.New("migrate: missing action")
	}
	action := fs.Arg(0)
	if action == "help" {
		printMigrateHelp(stdout)
		return nil
	}

	cfg, err := c.loadRunConfig()
	if err != nil {
		return err
	}
	// Open without migrating; the actions below manage the schema.
	database, err := db.Open(c.ledgerPath(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		fmt.Fprintln(stdout, "Running migrations...")
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "✓ All migrations applied successfully")
		return printVersion(stdout, database)

	case "down":
		fmt.Fprintln(stdout, "Rolling back one migration...")
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "✓ Migration rolled back successfully")
		return printVersion(stdout, database)

	case "status":
		return printMigrateStatus(stdout, database)

	case "force":
		if fs.NArg() < 2 {
			return errors.New("usage: domeseeing migrate force <version_number>")
		}
		v, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version number: %s", fs.Arg(1))
		}
		fmt.Fprintf(stdout, "⚠️  WARNING: Forcing migration version to %d\n", v)
		if err := database.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "✓ Forced version to %d\n", v)
		return nil

	default:
		printMigrateHelp(stdout)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func printVersion(w io.Writer, database *db.DB) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func printMigrateStatus(w io.Writer, database *db.DB) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := db.LatestMigrationVersion()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Migration Status ===")
	fmt.Fprintf(w, "Current version: %d\n", version)
	fmt.Fprintf(w, "Latest version: %d\n", latest)
	fmt.Fprintf(w, "Dirty: %v\n", dirty)
	if version < latest {
		fmt.Fprintf(w, "\n%d migration(s) pending. Run: domeseeing migrate up\n", latest-version)
	}
	if dirty {
		fmt.Fprintln(w, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(w, "A migration failed mid-execution. You may need to:")
		fmt.Fprintln(w, "  1. Inspect the database manually")
		fmt.Fprintln(w, "  2. Fix any issues")
		fmt.Fprintln(w, "  3. Run: domeseeing migrate force <version>")
	}
	return nil
}

func printMigrateHelp(w io.Writer) {
	fmt.Fprintln(w, `Usage: domeseeing migrate [-db path] <action>

Actions:
  up          Apply all pending migrations
  down        Roll back the most recent migration
  status      Show the current and latest schema version
  force N     Set the recorded version without running migrations (recovery only)
  help        Show this help message`)
}
