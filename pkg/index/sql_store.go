package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

var indexSchema = []string{
	`CREATE TABLE IF NOT EXISTS packages (
		package_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS package_comments (
		id TEXT PRIMARY KEY,
		package_id TEXT NOT NULL REFERENCES packages(package_id),
		author_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS package_subscriptions (
		package_id TEXT NOT NULL REFERENCES packages(package_id),
		subscriber_id TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (package_id, subscriber_id)
	)`,
	`CREATE TABLE IF NOT EXISTS package_downloads (
		id TEXT PRIMARY KEY,
		package_id TEXT NOT NULL,
		version TEXT NOT NULL,
		downloader_id TEXT NOT NULL DEFAULT '',
		downloaded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_package_downloads_release ON package_downloads (package_id, version)`,
}

// Init creates the index tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range indexSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index schema init failed: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) GetPackage(ctx context.Context, packageID string) (*Package, error) {
	query := `SELECT package_id, owner_id, name, description, created_at FROM packages WHERE package_id = $1`
	var p Package
	err := s.db.QueryRowContext(ctx, query, packageID).Scan(&p.PackageID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("index get package failed: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) EnsurePackage(ctx context.Context, pkg Package) (*Package, bool, error) {
	if err := validatePackage(pkg); err != nil {
		return nil, false, err
	}
	query := `
		INSERT INTO packages (package_id, owner_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (package_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, pkg.PackageID, pkg.OwnerID, pkg.Name, pkg.Description, time.Now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("index claim package failed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	stored, err := s.GetPackage(ctx, pkg.PackageID)
	if err != nil {
		return nil, false, err
	}
	return stored, rows == 1, nil
}

// DeletePackage removes the package row and everything it owns in one transaction.
func (s *SQLStore) DeletePackage(ctx context.Context, packageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index delete begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM package_comments WHERE package_id = $1`,
		`DELETE FROM package_subscriptions WHERE package_id = $1`,
		`DELETE FROM package_downloads WHERE package_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, packageID); err != nil {
			return fmt.Errorf("index cascade delete failed: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE package_id = $1`, packageID)
	if err != nil {
		return fmt.Errorf("index delete package failed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPackageNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) requirePackage(ctx context.Context, packageID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM packages WHERE package_id = $1`, packageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPackageNotFound
	}
	return err
}

func (s *SQLStore) AddComment(ctx context.Context, c Comment) (*Comment, error) {
	if c.PackageID == "" || c.AuthorID == "" || c.Body == "" {
		return nil, ErrInvalidInput
	}
	if err := s.requirePackage(ctx, c.PackageID); err != nil {
		return nil, err
	}
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()
	query := `INSERT INTO package_comments (id, package_id, author_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.PackageID, c.AuthorID, c.Body, c.CreatedAt); err != nil {
		return nil, fmt.Errorf("index add comment failed: %w", err)
	}
	return &c, nil
}

func (s *SQLStore) ListComments(ctx context.Context, packageID string) ([]Comment, error) {
	if err := s.requirePackage(ctx, packageID); err != nil {
		return nil, err
	}
	query := `SELECT id, package_id, author_id, body, created_at FROM package_comments WHERE package_id = $1 ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, packageID)
	if err != nil {
		return nil, fmt.Errorf("index list comments failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PackageID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) Subscribe(ctx context.Context, sub Subscription) error {
	if sub.PackageID == "" || sub.SubscriberID == "" {
		return ErrInvalidInput
	}
	if err := s.requirePackage(ctx, sub.PackageID); err != nil {
		return err
	}
	query := `
		INSERT INTO package_subscriptions (package_id, subscriber_id, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (package_id, subscriber_id) DO UPDATE SET email = excluded.email
	`
	if _, err := s.db.ExecContext(ctx, query, sub.PackageID, sub.SubscriberID, sub.Email, time.Now().UTC()); err != nil {
		return fmt.Errorf("index subscribe failed: %w", err)
	}
	return nil
}

func (s *SQLStore) Unsubscribe(ctx context.Context, packageID, subscriberID string) error {
	query := `DELETE FROM package_subscriptions WHERE package_id = $1 AND subscriber_id = $2`
	if _, err := s.db.ExecContext(ctx, query, packageID, subscriberID); err != nil {
		return fmt.Errorf("index unsubscribe failed: %w", err)
	}
	return nil
}

func (s *SQLStore) ListSubscribers(ctx context.Context, packageID string) ([]Subscription, error) {
	query := `SELECT package_id, subscriber_id, email, created_at FROM package_subscriptions WHERE package_id = $1 ORDER BY subscriber_id`
	rows, err := s.db.QueryContext(ctx, query, packageID)
	if err != nil {
		return nil, fmt.Errorf("index list subscribers failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Subscription, 0)
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.PackageID, &sub.SubscriberID, &sub.Email, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) RecordDownload(ctx context.Context, d DownloadRecord) error {
	if d.PackageID == "" || d.Version == "" {
		return ErrInvalidInput
	}
	at := d.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query := `INSERT INTO package_downloads (id, package_id, version, downloader_id, downloaded_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), d.PackageID, d.Version, d.DownloaderID, at); err != nil {
		return fmt.Errorf("index record download failed: %w", err)
	}
	return nil
}

func (s *SQLStore) CountDownloads(ctx context.Context, packageID, version string) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM package_downloads WHERE package_id = $1 AND version = $2`
	if err := s.db.QueryRowContext(ctx, query, packageID, version).Scan(&n); err != nil {
		return 0, fmt.Errorf("index count downloads failed: %w", err)
	}
	return n, nil
}
