// Package store is the Postgres layer over gis_parcels_core. All writes go
// through chunked batch updates so a mid-run crash loses at most one
// unflushed buffer, never a partial row.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/keystone-reo/distress-scanner/internal/config"
)

// batchChunk is the number of rows per transaction in batch updates.
const batchChunk = 500

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle (used in tests with sqlmock).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// chunked runs fn over results in batchChunk-sized slices, each inside its
// own transaction, so a failure loses one chunk at most.
func chunked[T any](s *Store, results []T, fn func(tx *sql.Tx, chunk []T) error) (int, error) {
	total := 0
	for i := 0; i < len(results); i += batchChunk {
		end := i + batchChunk
		if end > len(results) {
			end = len(results)
		}
		chunk := results[i:end]

		tx, err := s.db.Begin()
		if err != nil {
			return total, fmt.Errorf("beginning batch transaction: %w", err)
		}
		if err := fn(tx, chunk); err != nil {
			tx.Rollback()
			return total, err
		}
		if err := tx.Commit(); err != nil {
			return total, fmt.Errorf("committing batch: %w", err)
		}
		total += len(chunk)
	}
	return total, nil
}
