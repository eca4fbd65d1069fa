package lock

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fentz26/warden/internal/models"
)

// ErrHeld indicates the resource already has a lease.
var ErrHeld = fmt.Errorf("resource already held")

// Store persists leases. The manager only ever talks to this interface,
// so the backing mechanism can change without touching acquire semantics.
type Store interface {
	// Insert records a new lease for lease.ResourceID. Returns ErrHeld
	// if a lease for the resource already exists.
	Insert(ctx context.Context, lease models.Lease) error
	// Get returns the current lease for a resource, or nil if unheld.
	Get(ctx context.Context, resourceID string) (*models.Lease, error)
	// Delete removes the lease for a resource. Deleting an unheld
	// resource is not an error.
	Delete(ctx context.Context, resourceID string) error
	Close() error
}

// SQLiteStore keeps leases in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the lease database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for concurrent readers; single writer connection.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL UNIQUE,
		holder_id TEXT NOT NULL,
		acquired_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, lease models.Lease) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT holder_id FROM leases WHERE resource_id = ?`,
		lease.ResourceID,
	).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check existing lease: %w", err)
	}
	if err == nil {
		return ErrHeld
	}

	if lease.ID == "" {
		lease.ID = uuid.New().String()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO leases (id, resource_id, holder_id, acquired_at) VALUES (?, ?, ?, ?)`,
		lease.ID, lease.ResourceID, lease.HolderID, lease.AcquiredAt.UTC(),
	)
	if err != nil {
		// A concurrent writer can land between the check and the insert.
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return ErrHeld
		}
		return fmt.Errorf("insert lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, resourceID string) (*models.Lease, error) {
	lease := &models.Lease{}
	var acquiredAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT id, resource_id, holder_id, acquired_at FROM leases WHERE resource_id = ?`,
		resourceID,
	).Scan(&lease.ID, &lease.ResourceID, &lease.HolderID, &acquiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lease: %w", err)
	}
	lease.AcquiredAt = acquiredAt
	return lease, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, resourceID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE resource_id = ?`, resourceID,
	); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
