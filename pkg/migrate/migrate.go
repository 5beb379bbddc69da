package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are authored. Binaries run the copy
// embedded at build time unless a directory is passed explicitly.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migrations filesystem for dir; an empty dir selects the
// embedded set.
func Source(dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(embedded, "migrations")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	return os.DirFS(dir), nil
}

func newProvider(db *sql.DB, dir string) (*goose.Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	// Postgres only; SQLite schemas come from models.AutoMigrate.
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

// Run executes up, down, redo or status against db.
func Run(ctx context.Context, db *sql.DB, dir, command string) error {
	return RunTo(ctx, os.Stdout, db, dir, command)
}

// RunTo is Run with the report written to out.
func RunTo(ctx context.Context, out io.Writer, db *sql.DB, dir, command string) error {
	provider, err := newProvider(db, dir)
	if err != nil {
		return err
	}
	defer provider.Close()

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		report(out, results...)
		if err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
	case "down":
		result, err := provider.Down(ctx)
		report(out, result)
		if err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
	case "redo":
		down, err := provider.Down(ctx)
		report(out, down)
		if err != nil {
			return fmt.Errorf("goose redo (down): %w", err)
		}
		up, err := provider.UpByOne(ctx)
		report(out, up)
		if err != nil {
			return fmt.Errorf("goose redo (up): %w", err)
		}
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		for _, st := range statuses {
			applied := "pending"
			if st.State == goose.StateApplied {
				applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%-24s %s\n", applied, st.Source.Path)
		}
	default:
		return fmt.Errorf("unsupported goose command %q", command)
	}
	return nil
}

// MigrateToVersion moves the schema up or down to targetVersion (YYYYMMDDHHMMSS).
func MigrateToVersion(ctx context.Context, db *sql.DB, dir, targetVersion string) error {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	provider, err := newProvider(db, dir)
	if err != nil {
		return err
	}
	defer provider.Close()

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		results, err := provider.UpTo(ctx, target)
		report(os.Stdout, results...)
		if err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		results, err := provider.DownTo(ctx, target)
		report(os.Stdout, results...)
		if err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}

func report(out io.Writer, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Fprintf(out, "%-4s %s (%s)\n", r.Direction, r.Source.Path, r.Duration.Round(1e6))
	}
}
