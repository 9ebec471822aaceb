package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLState implements StateStore using database/sql.
// It supports both Postgres and SQLite via standard drivers; the composite
// primary key is the per-key arbiter.
type SQLState struct {
	db *sql.DB
}

func NewSQLState(db *sql.DB) *SQLState {
	return &SQLState{db: db}
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS release_ledger (
	package_id TEXT NOT NULL,
	version TEXT NOT NULL,
	document TEXT NOT NULL,
	revision BIGINT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (package_id, version)
);
`

func (s *SQLState) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, stateSchema)
	return err
}

func (s *SQLState) Create(ctx context.Context, packageID, version string, value []byte) error {
	query := `
		INSERT INTO release_ledger (package_id, version, document, revision, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (package_id, version) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, packageID, version, string(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ledger insert failed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLState) Read(ctx context.Context, packageID, version string) (Record, error) {
	query := `SELECT document, revision FROM release_ledger WHERE package_id = $1 AND version = $2`
	var (
		doc string
		rec Record
	)
	err := s.db.QueryRowContext(ctx, query, packageID, version).Scan(&doc, &rec.Revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("ledger read failed: %w", err)
	}
	rec.Value = []byte(doc)
	return rec, nil
}

func (s *SQLState) Update(ctx context.Context, packageID, version string, expected uint64, value []byte) error {
	query := `
		UPDATE release_ledger
		SET document = $1, revision = revision + 1, updated_at = $2
		WHERE package_id = $3 AND version = $4 AND revision = $5
	`
	res, err := s.db.ExecContext(ctx, query, string(value), time.Now().UTC(), packageID, version, expected)
	if err != nil {
		return fmt.Errorf("ledger update failed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.Read(ctx, packageID, version); err != nil {
			return err
		}
		return ErrRevisionConflict
	}
	return nil
}

func (s *SQLState) List(ctx context.Context, packageID string) ([]Record, error) {
	query := `SELECT document, revision FROM release_ledger WHERE package_id = $1 ORDER BY version`
	rows, err := s.db.QueryContext(ctx, query, packageID)
	if err != nil {
		return nil, fmt.Errorf("ledger list failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Record, 0)
	for rows.Next() {
		var (
			doc string
			rec Record
		)
		if err := rows.Scan(&doc, &rec.Revision); err != nil {
			return nil, err
		}
		rec.Value = []byte(doc)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Close is a no-op; the *sql.DB is owned by the caller.
func (s *SQLState) Close() error { return nil }
