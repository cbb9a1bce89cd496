package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

var migrationName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

// Migration is one numbered schema change with its forward and reverse SQL
// file names.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// ListMigrations pairs the up and down files found at the root of fsys,
// ordered by version. A version missing either half is an error.
func ListMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		m := byVersion[match[1]]
		if m == nil {
			m = &Migration{Version: match[1]}
			byVersion[match[1]] = m
		}
		target := &m.Up
		if match[2] == "down" {
			target = &m.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %s", match[2], match[1])
		}
		*target = entry.Name()
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigrations runs every pending up migration in its own transaction and
// returns the file names it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, fsys fs.FS, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations, err := ListMigrations(fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range migrations {
		migrated, err := isMigrated(ctx, db, m.Up)
		if err != nil {
			return applied, err
		}
		if migrated {
			continue
		}
		if err := runMigration(ctx, db, fsys, m.Up, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Up)
			return err
		}); err != nil {
			return applied, err
		}
		logger.Info("migration applied", zap.String("version", m.Up))
		applied = append(applied, m.Up)
	}
	return applied, nil
}

// RollbackMigrations reverts the newest applied migrations, at most steps of
// them (all when steps <= 0), and returns the file names it reverted.
func RollbackMigrations(ctx context.Context, db *sql.DB, fsys fs.FS, steps int, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations, err := ListMigrations(fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	var reverted []string
	for i := len(migrations) - 1; i >= 0; i-- {
		if steps > 0 && len(reverted) == steps {
			break
		}
		m := migrations[i]
		migrated, err := isMigrated(ctx, db, m.Up)
		if err != nil {
			return reverted, err
		}
		if !migrated {
			continue
		}
		if err := runMigration(ctx, db, fsys, m.Down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, m.Up)
			return err
		}); err != nil {
			return reverted, err
		}
		logger.Info("migration reverted", zap.String("version", m.Up))
		reverted = append(reverted, m.Down)
	}
	return reverted, nil
}

func runMigration(ctx context.Context, db *sql.DB, fsys fs.FS, name string, record func(*sql.Tx) error) error {
	contents, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", name, err)
	}
	if text := strings.TrimSpace(string(contents)); text != "" {
		if _, err := tx.ExecContext(ctx, text); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
