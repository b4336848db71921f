// Command migrate manages the schema of the Postgres response cache.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/config"
	"github.com/helixir/ask-llm/internal/database"
	"github.com/helixir/ask-llm/internal/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// action is one migration command selected on the command line.
type action struct {
	name  string
	steps int
	force int
}

type options struct {
	action action
	path   string
	dsn    string
}

var errNoAction = errors.New("no action specified")

func parseArgs(args []string) (*options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	up := fs.Bool("up", false, "apply all pending migrations")
	down := fs.Bool("down", false, "roll back all migrations")
	steps := fs.Int("steps", 0, "apply N migrations (negative rolls back)")
	version := fs.Bool("version", false, "print the current migration version")
	force := fs.Int("force", -1, "force the migration version after a failed migration")
	path := fs.String("path", "", "migrations directory (default: database.migration_path)")
	dsn := fs.String("dsn", "", "database URL (default: built from the database config)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var selected []action
	if *up {
		selected = append(selected, action{name: "up"})
	}
	if *down {
		selected = append(selected, action{name: "down"})
	}
	if *steps != 0 {
		selected = append(selected, action{name: "steps", steps: *steps})
	}
	if *version {
		selected = append(selected, action{name: "version"})
	}
	if *force >= 0 {
		selected = append(selected, action{name: "force", force: *force})
	}

	switch len(selected) {
	case 0:
		fs.Usage()
		return nil, fmt.Errorf("%w: use one of -up, -down, -steps N, -version, -force V", errNoAction)
	case 1:
		return &options{action: selected[0], path: *path, dsn: *dsn}, nil
	default:
		return nil, fmt.Errorf("specify only one action at a time")
	}
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	path := cfg.Database.MigrationPath
	if opts.path != "" {
		path = opts.path
	}
	dsn := cfg.Database.DSN()
	if opts.dsn != "" {
		dsn = opts.dsn
	}

	migrator, err := database.NewMigratorFromDSN(dsn, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close migrator")
		}
	}()

	if err := apply(migrator, opts.action, logger); err != nil {
		return err
	}
	printVersion(migrator, logger)
	return nil
}

func apply(m *database.Migrator, a action, logger zerolog.Logger) error {
	switch a.name {
	case "up":
		logger.Info().Msg("applying pending migrations")
		if err := m.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		logger.Warn().Msg("rolling back all migrations")
		if err := m.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "steps":
		logger.Info().Int("steps", a.steps).Msg("applying migration steps")
		if err := m.Steps(a.steps); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
	case "force":
		logger.Warn().Int("version", a.force).Msg("forcing migration version")
		if err := m.Force(a.force); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
	}
	return nil
}

func printVersion(m *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := m.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("current migration version")
}
