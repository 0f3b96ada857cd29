package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsTable = "schema_migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the schema files shipped with the adapter.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration is one numbered schema change.
type Migration struct {
	Version  int
	Name     string
	UpPath   string
	DownPath string
}

// MigrationStatus is a migration and whether it has been applied.
type MigrationStatus struct {
	Migration
	Applied   bool
	Dirty     bool
	AppliedAt time.Time
}

// Migrator applies the numbered up/down SQL files in a file system to the
// database, tracking versions in schema_migrations.
type Migrator struct {
	pool   *pgxpool.Pool
	fsys   fs.FS
	logger *slog.Logger
}

// NewMigrator creates a migrator. A nil fsys means Migrations().
func NewMigrator(pool *pgxpool.Pool, fsys fs.FS, logger *slog.Logger) *Migrator {
	if fsys == nil {
		fsys = Migrations()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{pool: pool, fsys: fsys, logger: logger}
}

// LoadMigrations reads NNN_name.up.sql / NNN_name.down.sql pairs from fsys,
// sorted by version. Versions without an up file are skipped.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		var up bool
		switch {
		case strings.HasSuffix(rest, ".up.sql"):
			up = true
			rest = strings.TrimSuffix(rest, ".up.sql")
		case strings.HasSuffix(rest, ".down.sql"):
			rest = strings.TrimSuffix(rest, ".down.sql")
		default:
			continue
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: rest}
			byVersion[version] = m
		}
		if up {
			m.UpPath = path.Clean(name)
		} else {
			m.DownPath = path.Clean(name)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpPath != "" {
			migrations = append(migrations, *m)
		}
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			dirty BOOLEAN NOT NULL DEFAULT FALSE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure migrations table: %w", err)
	}
	return nil
}

type appliedInfo struct {
	dirty     bool
	appliedAt time.Time
}

func (m *Migrator) applied(ctx context.Context) (map[int]appliedInfo, error) {
	rows, err := m.pool.Query(ctx, `SELECT version, dirty, applied_at FROM `+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]appliedInfo)
	for rows.Next() {
		var version int
		var info appliedInfo
		if err := rows.Scan(&version, &info.dirty, &info.appliedAt); err != nil {
			return nil, err
		}
		out[version] = info
	}
	return out, rows.Err()
}

// Up applies every pending migration, each in its own transaction, and
// returns how many were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	migrations, err := LoadMigrations(m.fsys)
	if err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if err := m.run(ctx, mig.Version, mig.UpPath, true); err != nil {
			return count, err
		}
		m.logger.Info("migration applied", slog.Int("version", mig.Version), slog.String("name", mig.Name))
		count++
	}
	return count, nil
}

// Down rolls back the latest steps applied migrations.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	migrations, err := LoadMigrations(m.fsys)
	if err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := len(migrations) - 1; i >= 0 && count < steps; i-- {
		mig := migrations[i]
		if _, ok := applied[mig.Version]; !ok {
			continue
		}
		if mig.DownPath == "" {
			return count, fmt.Errorf("migration %d has no down file", mig.Version)
		}
		if err := m.run(ctx, mig.Version, mig.DownPath, false); err != nil {
			return count, err
		}
		m.logger.Info("migration rolled back", slog.Int("version", mig.Version), slog.String("name", mig.Name))
		count++
	}
	return count, nil
}

func (m *Migrator) run(ctx context.Context, version int, file string, up bool) error {
	content, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return fmt.Errorf("failed to read migration %d: %w", version, err)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if up {
		if _, err := tx.Exec(ctx, `INSERT INTO `+migrationsTable+` (version, dirty) VALUES ($1, TRUE)`, version); err != nil {
			return fmt.Errorf("failed to mark migration %d as dirty: %w", version, err)
		}
	}
	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", version, err)
	}
	if up {
		_, err = tx.Exec(ctx, `UPDATE `+migrationsTable+` SET dirty = FALSE, applied_at = NOW() WHERE version = $1`, version)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM `+migrationsTable+` WHERE version = $1`, version)
	}
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", version, err)
	}
	return nil
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := LoadMigrations(m.fsys)
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Migration: mig}
		if info, ok := applied[mig.Version]; ok {
			st.Applied = true
			st.Dirty = info.dirty
			st.AppliedAt = info.appliedAt
		}
		out = append(out, st)
	}
	return out, nil
}
