// Package migrate applies the versioned schema embedded in this binary. It is
// only reachable from cmd/migrate; the HTTP server never runs migrations.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexpos/backend/internal/domain"
)

//go:embed sql/*.sql
var embedded embed.FS

// lockID keys the session advisory lock that serialises migration runs.
const lockID int64 = 7_301_934_220

type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

type Record struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

var ErrNoMigrations = errors.New("no migrations found")

// Embedded returns the migrations compiled into the binary, ordered by version.
func Embedded() ([]Migration, error) {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// Load reads {version}_{name}.{up|down}.sql pairs from the root of fsys.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		version, rest, ok := strings.Cut(fileName, "_")
		if !ok || version == "" {
			continue
		}

		var name string
		var up bool
		if before, found := strings.CutSuffix(rest, ".up.sql"); found {
			name, up = before, true
		} else if before, found := strings.CutSuffix(rest, ".down.sql"); found {
			name = before
		} else {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Clean(fileName))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fileName, err)
		}

		m, exists := byVersion[version]
		if !exists {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration %s has mismatched names %q and %q", version, m.Name, name)
		}
		if up {
			m.UpSQL = string(content)
		} else {
			m.DownSQL = string(content)
		}
	}

	if len(byVersion) == 0 {
		return nil, ErrNoMigrations
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.UpSQL) == "" {
			return nil, fmt.Errorf("migration %s_%s has no up script", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

type Runner struct {
	pool       *pgxpool.Pool
	migrations []Migration
}

func NewRunner(pool *pgxpool.Pool, migrations []Migration) *Runner {
	return &Runner{pool: pool, migrations: migrations}
}

// Up applies up to steps pending migrations, or all of them when steps < 1.
// It returns the versions applied.
func (r *Runner) Up(ctx context.Context, steps int) ([]string, error) {
	var applied []string
	err := r.withLock(ctx, func(conn *pgxpool.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range Pending(r.migrations, done, steps) {
			if err := apply(ctx, conn, m); err != nil {
				return err
			}
			log.Printf("[migrate] applied %s_%s", m.Version, m.Name)
			applied = append(applied, m.Version)
		}
		return nil
	})
	return applied, err
}

// Down rolls back the newest steps applied migrations (at least one).
func (r *Runner) Down(ctx context.Context, steps int) ([]string, error) {
	if steps < 1 {
		steps = 1
	}
	byVersion := make(map[string]Migration, len(r.migrations))
	for _, m := range r.migrations {
		byVersion[m.Version] = m
	}

	var rolledBack []string
	err := r.withLock(ctx, func(conn *pgxpool.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		versions := make([]string, 0, len(done))
		for v := range done {
			versions = append(versions, v)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(versions)))

		for i := 0; i < steps && i < len(versions); i++ {
			m, exists := byVersion[versions[i]]
			if !exists {
				return fmt.Errorf("migration file not found for version %s", versions[i])
			}
			if err := rollback(ctx, conn, m); err != nil {
				return err
			}
			log.Printf("[migrate] rolled back %s_%s", m.Version, m.Name)
			rolledBack = append(rolledBack, m.Version)
		}
		return nil
	})
	return rolledBack, err
}

func (r *Runner) Status(ctx context.Context) ([]Record, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := initialize(ctx, conn); err != nil {
		return nil, err
	}
	done, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(r.migrations))
	for _, m := range r.migrations {
		record := Record{Version: m.Version, Name: m.Name}
		if at, ok := done[m.Version]; ok {
			appliedAt := at
			record.Applied = true
			record.AppliedAt = &appliedAt
		}
		records = append(records, record)
	}
	return records, nil
}

// SeedAdmin inserts an administrator, or resets the password and role of an
// existing account with the same username.
func (r *Runner) SeedAdmin(ctx context.Context, username string, passwordHash string, fullName string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || passwordHash == "" {
		return errors.New("username and password hash are required")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (username, password_hash, full_name, role, active)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (username)
		DO UPDATE SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role, active = true
	`, username, passwordHash, fullName, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}

// Pending returns the migrations not in applied, oldest first, capped at steps
// when steps > 0.
func Pending(migrations []Migration, applied map[string]time.Time, steps int) []Migration {
	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if _, done := applied[m.Version]; done {
			continue
		}
		pending = append(pending, m)
		if steps > 0 && len(pending) == steps {
			break
		}
	}
	return pending
}

// withLock runs fn on one connection holding the advisory lock. Session
// locks belong to a connection, so lock, work and unlock must share it.
func (r *Runner) withLock(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID); err != nil {
			log.Printf("[migrate] WARN: release migration lock: %v", err)
		}
	}()

	if err := initialize(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func initialize(ctx context.Context, conn *pgxpool.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *pgxpool.Conn) (map[string]time.Time, error) {
	rows, err := conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan migration record: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, conn *pgxpool.Conn, m Migration) error {
	return inTx(ctx, conn, func(tx pgx.Tx) error {
		if err := execScript(ctx, tx, m.UpSQL); err != nil {
			return fmt.Errorf("apply %s_%s: %w", m.Version, m.Name, err)
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
		if err != nil {
			return fmt.Errorf("record %s: %w", m.Version, err)
		}
		return nil
	})
}

func rollback(ctx context.Context, conn *pgxpool.Conn, m Migration) error {
	if strings.TrimSpace(m.DownSQL) == "" {
		return fmt.Errorf("migration %s_%s has no down script", m.Version, m.Name)
	}
	return inTx(ctx, conn, func(tx pgx.Tx) error {
		if err := execScript(ctx, tx, m.DownSQL); err != nil {
			return fmt.Errorf("roll back %s_%s: %w", m.Version, m.Name, err)
		}
		_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
		return err
	})
}

func inTx(ctx context.Context, conn *pgxpool.Conn, fn func(tx pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func execScript(ctx context.Context, tx pgx.Tx, script string) error {
	for i, stmt := range SplitStatements(script) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				return fmt.Errorf("statement %d: %s (%s)", i+1, pgErr.Message, pgErr.Code)
			}
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}

// SplitStatements drops full-line comments and splits on semicolons. The
// embedded scripts keep semicolons out of literals and function bodies.
func SplitStatements(script string) []string {
	lines := strings.Split(script, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}

	var statements []string
	for _, stmt := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
