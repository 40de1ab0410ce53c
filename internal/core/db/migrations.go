package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/donorhub/segmentd/migrations"
)

// MigrationStatus is one embedded migration and whether it has run.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

type appliedMigration struct {
	ID          string   `db:"migration_id"`
	Checksum    string   `db:"checksum"`
	AppliedAt   NullTime `db:"applied_at"`
	ExecutionMs int64    `db:"execution_ms"`
}

// The bookkeeping table is owned by the runner, not by a migration file.
const (
	createMigrationsSQLite = `CREATE TABLE IF NOT EXISTS migrations (
    migration_id TEXT PRIMARY KEY,
    checksum TEXT NOT NULL,
    applied_at TEXT NOT NULL,
    execution_ms INTEGER NOT NULL
)`
	createMigrationsPostgres = `CREATE TABLE IF NOT EXISTS migrations (
    migration_id TEXT PRIMARY KEY,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL,
    execution_ms INTEGER NOT NULL
)`
)

// Migrator applies the embedded schema for one database handle.
type Migrator struct {
	db         *sqlx.DB
	migrations []migration
	logger     *slog.Logger
}

// NewMigrator loads the migrations for db's driver. A nil logger uses
// slog.Default.
func NewMigrator(db *sqlx.DB, logger *slog.Logger) (*Migrator, error) {
	dir, ok := migrations.ForDriver(db.DriverName())
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", db.DriverName())
	}
	list, err := loadMigrations(migrations.FS(), dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, migrations: list, logger: logger}, nil
}

// MigrateUp applies pending migrations with a background context.
func MigrateUp(db *sqlx.DB) error {
	m, err := NewMigrator(db, nil)
	if err != nil {
		return err
	}
	_, err = m.Up(context.Background())
	return err
}

// MigrateStatus reports every migration with a background context.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	m, err := NewMigrator(db, nil)
	if err != nil {
		return nil, err
	}
	return m.Status(context.Background())
}

// Up validates the checksums of applied migrations and applies the rest in
// order, each in its own transaction together with its bookkeeping row.
// It returns the ids it applied.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.verify(applied); err != nil {
		return nil, fmt.Errorf("migration checksum validation failed: %w", err)
	}

	var ran []string
	for _, mg := range m.migrations {
		if _, ok := applied[mg.ID]; ok {
			continue
		}
		elapsed, err := m.apply(ctx, mg)
		if err != nil {
			return ran, err
		}
		m.logger.InfoContext(ctx, "migration applied", "migration_id", mg.ID, "duration", elapsed)
		ran = append(ran, mg.ID)
	}
	return ran, nil
}

// Status lists every embedded migration, applied or pending, in order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(m.migrations))
	for _, mg := range m.migrations {
		st := MigrationStatus{ID: mg.ID, Checksum: mg.Checksum}
		if row, ok := applied[mg.ID]; ok {
			st.Applied = true
			st.Checksum = row.Checksum
			st.AppliedAt = row.AppliedAt.Ptr()
			st.ExecutionMs = row.ExecutionMs
		}
		out = append(out, st)
	}
	return out, nil
}

// applied creates the bookkeeping table if needed and reads it.
func (m *Migrator) applied(ctx context.Context) (map[string]appliedMigration, error) {
	create := createMigrationsSQLite
	if DialectOf(m.db) == DialectPostgres {
		create = createMigrationsPostgres
	}
	if _, err := m.db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var rows []appliedMigration
	if err := m.db.SelectContext(ctx, &rows,
		"SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	out := make(map[string]appliedMigration, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// verify rejects applied migrations that are unknown or were edited.
func (m *Migrator) verify(applied map[string]appliedMigration) error {
	known := make(map[string]string, len(m.migrations))
	for _, mg := range m.migrations {
		known[mg.ID] = mg.Checksum
	}
	for id, row := range applied {
		want, ok := known[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if row.Checksum != want {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, want, row.Checksum)
		}
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mg migration) (time.Duration, error) {
	start := time.Now()
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for migration %s: %w", mg.ID, err)
	}
	defer tx.Rollback()

	// lib/pq runs one statement per Exec.
	for i, stmt := range splitStatements(mg.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("migration %s statement %d: %w", mg.ID, i+1, err)
		}
	}

	elapsed := time.Since(start)
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		"INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		mg.ID, mg.Checksum, FormatTime(time.Now()), elapsed.Milliseconds(),
	); err != nil {
		return 0, fmt.Errorf("failed to record migration %s: %w", mg.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit migration %s: %w", mg.ID, err)
	}
	return elapsed, nil
}

// loadMigrations reads dir/*.sql from fsys, ordered by file name.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{
			ID:       path.Base(name),
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(content),
		})
	}
	slices.SortFunc(out, func(a, b migration) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// splitStatements splits on ";" and removes full-line "--" comments, so a
// statement preceded by a comment block is still executed. Statements must
// not contain ";" inside literals.
func splitStatements(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
