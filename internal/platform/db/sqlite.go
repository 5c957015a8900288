package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) a SQLite database with foreign keys enforced.
// path may be a file path or ":memory:".
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return sqlDB, nil
}

// MigrateSQLite applies the numbered migrations in fsys that are not yet
// recorded in _migrations.
func MigrateSQLite(ctx context.Context, sqlDB *sql.DB, fsys fs.FS) (int, error) {
	if _, err := sqlDB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`); err != nil {
		return 0, fmt.Errorf("create _migrations table: %w", err)
	}

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return 0, err
	}

	applied := make(map[int]bool)
	rows, err := sqlDB.QueryContext(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return 0, fmt.Errorf("query applied versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	count := 0
	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := applySQLiteMigration(ctx, sqlDB, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

func applySQLiteMigration(ctx context.Context, sqlDB *sql.DB, mig Migration) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _migrations (version, name, applied_at) VALUES (?1, ?2, ?3)`,
		mig.Version, mig.Name, FormatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// SQLite has no native timestamp type. Timestamps are stored as fixed-width
// UTC text so that lexical order equals chronological order.
const (
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"
	sqliteDateLayout = "2006-01-02"
)

func FormatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func FormatDate(t time.Time) string {
	return t.Format(sqliteDateLayout)
}

func ParseDate(s string) (time.Time, error) {
	// Column affinity may hand back a full timestamp for DATE values.
	if len(s) > len(sqliteDateLayout) {
		s = s[:len(sqliteDateLayout)]
	}
	t, err := time.ParseInLocation(sqliteDateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored date %q: %w", s, err)
	}
	return t, nil
}

// NullTime converts an optional timestamp for storage.
func NullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// StatusSQLite reports every migration in fsys and whether it is applied.
func StatusSQLite(ctx context.Context, sqlDB *sql.DB, fsys fs.FS) ([]MigrationStatus, error) {
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}

	applied := make(map[int]time.Time)
	rows, err := sqlDB.QueryContext(ctx, `SELECT version, applied_at FROM _migrations`)
	if err != nil {
		// A database that was never migrated has no tracking table yet.
		if strings.Contains(err.Error(), "no such table") {
			rows = nil
		} else {
			return nil, fmt.Errorf("query migration status: %w", err)
		}
	}
	if rows != nil {
		defer rows.Close()
		for rows.Next() {
			var v int
			var raw string
			if err := rows.Scan(&v, &raw); err != nil {
				return nil, fmt.Errorf("scan migration status: %w", err)
			}
			at, err := ParseTime(raw)
			if err != nil {
				return nil, err
			}
			applied[v] = at
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate migration status: %w", err)
		}
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
