// Package main provides the database migration CLI for sheetpipe.
//
// Migrations are embedded in the binary, so the tool needs only DATABASE_URL.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sheetpipe-io/sheetpipe/internal/config"
	"github.com/sheetpipe-io/sheetpipe/migrations"
)

// Version information.
const (
	version = "0.1.0"
	name    = "migrator"
)

// ErrUnknownCommand is returned for a command the migrator does not implement.
var ErrUnknownCommand = errors.New("unknown command")

// migrationRunner is the subset of migrations.Runner the commands use.
type migrationRunner interface {
	Up() error
	Down() error
	Status() (migrations.Status, error)
	Drop() error
}

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
		assumeYes   = flag.Bool("yes", false, "Skip the confirmation prompt for drop")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	command := flag.Arg(0)

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("Loaded migrator configuration", slog.String("config", cfg.String()))

	runner, err := migrations.NewRunner(context.Background(), cfg.DatabaseURL, cfg.MigrationTable, logger)
	if err != nil {
		logger.Error("Failed to create migration runner", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = executeCommand(command, runner, os.Stdin, os.Stdout, *assumeYes)

	if closeErr := runner.Close(); closeErr != nil {
		logger.Warn("Failed to close migration runner", slog.String("error", closeErr.Error()))
	}

	if err != nil {
		logger.Error("Migration failed", slog.String("command", command), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// executeCommand runs command against runner. Drop asks for confirmation on in
// unless assumeYes is set.
func executeCommand(command string, runner migrationRunner, in io.Reader, out io.Writer, assumeYes bool) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status", "version":
		status, err := runner.Status()
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(out, formatStatus(status))

		return nil
	case "drop":
		if !assumeYes && !confirm(in, out, "WARNING: This will drop all tables. Are you sure? (y/N): ") {
			_, _ = fmt.Fprintln(out, "Operation cancelled.")

			return nil
		}

		return runner.Drop()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	_, _ = fmt.Fprint(out, prompt)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	answer := strings.TrimSpace(line)

	return answer == "y" || answer == "Y"
}

func formatStatus(s migrations.Status) string {
	if !s.Applied {
		return fmt.Sprintf("No migrations applied (latest available: %d)", s.Latest)
	}

	state := "clean"
	if s.Dirty {
		state = "dirty"
	}

	pending := max(s.Latest-int(s.Version), 0) //nolint:gosec // versions are small

	return fmt.Sprintf("Current version: %d (%s), latest available: %d, pending: %d",
		s.Version, state, s.Latest, pending)
}

func printUsage() {
	fmt.Printf(`%s v%s - Database Migration Tool for sheetpipe

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Roll back the last migration
    status  Show migration status
    version Alias for status
    drop    Drop all tables (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information
    --yes      Do not prompt before drop

ENVIRONMENT VARIABLES:
    DATABASE_URL        PostgreSQL connection string (REQUIRED)
    MIGRATION_TABLE     Migration tracking table (default: schema_migrations)
    SHEETPIPE_LOG_LEVEL Log level (default: info)

EXAMPLES:
    %s up          # Apply all pending migrations
    %s status      # Show current migration status
    %s down        # Roll back the last migration
`, name, version, name, name, name, name)
}
