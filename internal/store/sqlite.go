package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// SQLiteStorage keeps runs in a local SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the database at path and
// brings its schema up to date.
func NewSQLiteStorage(ctx context.Context, path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, apperrors.ConfigurationError("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.StoreError("create sqlite directory", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.StoreError("open sqlite", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, apperrors.StoreError("migrate sqlite", err)
	}
	return &SQLiteStorage{db: db}, nil
}

const runColumns = `id, dataset, model, metric, k, value, evaluated, seconds, kilojoules,
	jsc_min, jsc_max, asc_min, asc_max, scr_min, scr_max, created_at`

// Save upserts a run.
func (s *SQLiteStorage) Save(ctx context.Context, run *Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Dataset, run.Model, run.Metric, run.K, run.Value, run.Evaluated,
		run.Seconds, run.Kilojoules,
		run.JSC.Min, run.JSC.Max, run.ASC.Min, run.ASC.Max, run.SCR.Min, run.SCR.Max,
		run.CreatedAt.UnixNano(),
	)
	if err != nil {
		return apperrors.StoreError("save run", err)
	}
	return nil
}

// Get returns a run by ID.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundError("run " + id)
	}
	if err != nil {
		return nil, apperrors.StoreError("get run", err)
	}
	return run, nil
}

// List returns runs newest first.
func (s *SQLiteStorage) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if opts.Dataset != "" {
		query += ` WHERE dataset = ?`
		args = append(args, opts.Dataset)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.StoreError("list runs", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, apperrors.StoreError("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StoreError("list runs", err)
	}
	return runs, nil
}

// Delete removes a run.
func (s *SQLiteStorage) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return apperrors.StoreError("delete run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("run " + id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var created int64
	err := row.Scan(
		&run.ID, &run.Dataset, &run.Model, &run.Metric, &run.K, &run.Value, &run.Evaluated,
		&run.Seconds, &run.Kilojoules,
		&run.JSC.Min, &run.JSC.Max, &run.ASC.Min, &run.ASC.Max, &run.SCR.Min, &run.SCR.Max,
		&created,
	)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = time.Unix(0, created).UTC()
	return &run, nil
}
