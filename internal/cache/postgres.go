package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/ask-llm/internal/database"
)

const (
	selectEntrySQL = `SELECT status_code, header, body, created_at, expires_at
FROM response_cache
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	upsertEntrySQL = `INSERT INTO response_cache (key, status_code, header, body, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (key) DO UPDATE SET
    status_code = EXCLUDED.status_code,
    header = EXCLUDED.header,
    body = EXCLUDED.body,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at`

	purgeExpiredSQL = `DELETE FROM response_cache WHERE expires_at IS NOT NULL AND expires_at <= now()`
)

// PostgresStore keeps entries in the response_cache table.
type PostgresStore struct {
	db    database.DBTX
	close func()
}

// NewPostgresStore creates a store over db. closeFn, if set, runs on Close.
func NewPostgresStore(db database.DBTX, closeFn func()) *PostgresStore {
	return &PostgresStore{db: db, close: closeFn}
}

// Get reads an unexpired entry.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	var (
		e         Entry
		header    []byte
		expiresAt *time.Time
	)
	err := s.db.QueryRow(ctx, selectEntrySQL, key).Scan(&e.StatusCode, &header, &e.Body, &e.CreatedAt, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("query cache entry: %w", err)
	}
	if len(header) > 0 {
		e.Header = http.Header{}
		if err := json.Unmarshal(header, &e.Header); err != nil {
			return nil, fmt.Errorf("decode cached header: %w", err)
		}
	}
	if expiresAt != nil {
		e.ExpiresAt = *expiresAt
	}
	return &e, nil
}

// Set upserts an entry.
func (s *PostgresStore) Set(ctx context.Context, key string, e *Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	var expiresAt *time.Time
	if !e.ExpiresAt.IsZero() {
		t := e.ExpiresAt
		expiresAt = &t
	}
	if _, err := s.db.Exec(ctx, upsertEntrySQL, key, e.StatusCode, header, e.Body, e.CreatedAt, expiresAt); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeExpiredSQL)
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the underlying pool, if the store owns it.
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
