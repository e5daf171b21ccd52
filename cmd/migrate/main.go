// Package main provides a CLI tool for database migrations. Migrations are
// embedded in the binary; the create command writes new files into the
// source tree for the configured driver.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/kosumphisai/koshare/backend/internal/config"
	"github.com/kosumphisai/koshare/backend/internal/database"
)

// Version is set at build time
var Version = "dev"

const defaultMigrationTimeout = 5 * time.Minute

// Options holds migration tool settings
type Options struct {
	Database       config.DatabaseConfig
	MigrationsPath string
	Timeout        time.Duration
	DryRun         bool
}

func main() {
	_ = godotenv.Load()
	dbCfg := config.Load().Database

	var (
		driver   = flag.String("driver", dbCfg.Driver, "Database driver (pgx or sqlite)")
		sqlite   = flag.String("sqlite-path", dbCfg.SQLitePath, "SQLite database file")
		migrPath = flag.String("path", os.Getenv("MIGRATIONS_PATH"), "Directory for new migration files (default: internal/database/migrations/<driver>)")
		timeout  = flag.Duration("timeout", defaultMigrationTimeout, "Timeout per migration")
		dryRun   = flag.Bool("dry-run", false, "Show what would be done without executing")
		version  = flag.Bool("version", false, "Print version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Database migration tool for Ko Share\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Apply all or N down migrations\n")
		fmt.Fprintf(os.Stderr, "  goto V       Migrate to version V\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations (use with caution)\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  drop         Drop all tables (use with extreme caution)\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nThe database connection is read from DB_DRIVER, DB_HOST, DB_PORT, DB_USER,\n")
		fmt.Fprintf(os.Stderr, "DB_PASSWORD, DB_NAME, DB_SSLMODE and SQLITE_PATH.\n")
	}

	flag.Parse()

	if *version {
		fmt.Printf("migrate version %s\n", Version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	dbCfg.Driver = *driver
	dbCfg.SQLitePath = *sqlite

	opts := &Options{
		Database:       dbCfg,
		MigrationsPath: *migrPath,
		Timeout:        *timeout,
		DryRun:         *dryRun,
	}
	if opts.MigrationsPath == "" {
		opts.MigrationsPath = defaultMigrationsPath(dbCfg.Driver)
	}

	if err := runCommand(opts, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func defaultMigrationsPath(driver string) string {
	dir := "postgres"
	if driver == database.DriverSQLite {
		dir = "sqlite"
	}
	return filepath.Join("internal", "database", "migrations", dir)
}

// runCommand executes the specified migration command
func runCommand(opts *Options, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(opts, args[0])
	case "version":
		return showVersion(opts)
	case "up", "down":
		steps := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid number of steps: %s", args[0])
			}
			steps = n
		}
		if cmd == "down" {
			return migrateDown(opts, steps)
		}
		return migrateUp(opts, steps)
	case "goto":
		if len(args) < 1 {
			return errors.New("goto requires a version number")
		}
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return migrateGoto(opts, uint(v))
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return migrateForce(opts, v)
	case "drop":
		return migrateDrop(opts)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// createMigration creates a new migration file pair
func createMigration(opts *Options, name string) error {
	next, err := nextMigrationNumber(opts.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to determine next migration number: %w", err)
	}

	upFile := filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.up.sql", next, name))
	downFile := filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.down.sql", next, name))

	if opts.DryRun {
		log.Printf("[DRY RUN] Would create: %s", upFile)
		log.Printf("[DRY RUN] Would create: %s", downFile)
		return nil
	}

	if err := os.MkdirAll(opts.MigrationsPath, 0755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	created := time.Now().Format(time.RFC3339)
	upContent := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n", name, created)
	if err := os.WriteFile(upFile, []byte(upContent), 0644); err != nil {
		return fmt.Errorf("failed to create up migration: %w", err)
	}
	downContent := fmt.Sprintf("-- Migration: %s (rollback)\n-- Created: %s\n\n", name, created)
	if err := os.WriteFile(downFile, []byte(downContent), 0644); err != nil {
		return fmt.Errorf("failed to create down migration: %w", err)
	}

	log.Printf("Created migration files:")
	log.Printf("  %s", upFile)
	log.Printf("  %s", downFile)
	return nil
}

// nextMigrationNumber finds the next available migration number
func nextMigrationNumber(migrationsPath string) (int, error) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	maxNum := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return maxNum + 1, nil
}

// withMigrate opens a migrate instance, runs fn and closes it
func withMigrate(opts *Options, fn func(m *migrate.Migrate) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	m, err := database.NewMigrate(ctx, opts.Database)
	if err != nil {
		return err
	}
	defer m.Close()

	m.LockTimeout = opts.Timeout
	return fn(m)
}

func currentVersion(m *migrate.Migrate) uint {
	v, _, _ := m.Version()
	return v
}

// showVersion displays the current migration version
func showVersion(opts *Options) error {
	return withMigrate(opts, func(m *migrate.Migrate) error {
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Println("No migrations have been applied yet")
				return nil
			}
			return fmt.Errorf("failed to get version: %w", err)
		}

		status := ""
		if dirty {
			status = " (dirty)"
		}
		log.Printf("Current migration version: %d%s", version, status)
		return nil
	})
}

// migrateUp applies up migrations
func migrateUp(opts *Options, steps int) error {
	if opts.DryRun {
		log.Printf("[DRY RUN] Would apply %d up migrations (0 = all)", steps)
		return nil
	}

	return withMigrate(opts, func(m *migrate.Migrate) error {
		from := currentVersion(m)
		log.Printf("Starting migration up from version %d...", from)

		var err error
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No migrations to apply")
			return nil
		}
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		log.Printf("Migration completed: %d -> %d", from, currentVersion(m))
		return nil
	})
}

// migrateDown applies down migrations
func migrateDown(opts *Options, steps int) error {
	if opts.DryRun {
		log.Printf("[DRY RUN] Would apply %d down migrations (0 = all)", steps)
		return nil
	}

	return withMigrate(opts, func(m *migrate.Migrate) error {
		from := currentVersion(m)
		log.Printf("Starting migration down from version %d...", from)

		var err error
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No migrations to rollback")
			return nil
		}
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		log.Printf("Migration completed: %d -> %d", from, currentVersion(m))
		return nil
	})
}

// migrateGoto migrates to a specific version
func migrateGoto(opts *Options, version uint) error {
	if opts.DryRun {
		log.Printf("[DRY RUN] Would migrate to version %d", version)
		return nil
	}

	return withMigrate(opts, func(m *migrate.Migrate) error {
		from := currentVersion(m)
		log.Printf("Migrating from version %d to %d...", from, version)

		if err := m.Migrate(version); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Printf("Already at version %d", version)
				return nil
			}
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Printf("Migration completed: %d -> %d", from, version)
		return nil
	})
}

// migrateForce sets the version without running migrations
func migrateForce(opts *Options, version int) error {
	if opts.DryRun {
		log.Printf("[DRY RUN] Would force version to %d", version)
		return nil
	}

	return withMigrate(opts, func(m *migrate.Migrate) error {
		log.Printf("Forcing version to %d (no migrations will be run)...", version)
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		log.Printf("Version forced to %d", version)
		return nil
	})
}

// migrateDrop drops all tables after an interactive confirmation
func migrateDrop(opts *Options) error {
	if opts.DryRun {
		log.Println("[DRY RUN] Would drop all tables")
		return nil
	}

	log.Println("WARNING: This will drop ALL tables, including every check-in!")
	log.Println("Type 'yes' to confirm:")

	var confirm string
	if _, err := fmt.Scanln(&confirm); err != nil || confirm != "yes" {
		log.Println("Aborted")
		return nil
	}

	return withMigrate(opts, func(m *migrate.Migrate) error {
		log.Println("Dropping all tables...")
		if err := m.Drop(); err != nil {
			return fmt.Errorf("drop failed: %w", err)
		}
		log.Println("All tables dropped")
		return nil
	})
}
