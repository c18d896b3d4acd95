package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations lists schema versions in order. Version i+1 is migrations[i].
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			dataset TEXT NOT NULL,
			model TEXT NOT NULL,
			metric TEXT NOT NULL,
			k INTEGER NOT NULL,
			value REAL NOT NULL,
			evaluated INTEGER NOT NULL,
			seconds REAL NOT NULL,
			kilojoules REAL NOT NULL,
			jsc_min REAL NOT NULL,
			jsc_max REAL NOT NULL,
			asc_min REAL NOT NULL,
			asc_max REAL NOT NULL,
			scr_min REAL NOT NULL,
			scr_max REAL NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);`,
	},
	{
		`CREATE INDEX IF NOT EXISTS idx_runs_dataset_created ON runs(dataset, created_at);`,
	},
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`); err != nil {
		return 0, err
	}
	var cnt int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt); err != nil {
		return 0, err
	}
	if cnt == 0 {
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`); err != nil {
			return 0, err
		}
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// migrate applies every migration newer than the recorded schema version.
func migrate(ctx context.Context, db *sql.DB) error {
	cur, err := schemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := cur + 1; v <= len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range migrations[v-1] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migrate up to v%d: %w", v, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}
	}
	return nil
}
