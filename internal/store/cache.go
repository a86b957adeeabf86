package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/fichador/internal/model"
)

// CacheStore persists cache generations and their response snapshots.
type CacheStore struct {
	db *sql.DB
}

func NewCacheStore(db *sql.DB) *CacheStore {
	return &CacheStore{db: db}
}

// OpenGeneration creates the named generation if it does not exist yet.
func (s *CacheStore) OpenGeneration(ctx context.Context, name string) (*model.CacheGeneration, error) {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO cache_generations (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("open cache generation %q: %w", name, err)
	}

	var gen model.CacheGeneration
	err = s.db.QueryRowContext(ctx,
		`SELECT name, created_at FROM cache_generations WHERE name = ?`, name,
	).Scan(&gen.Name, &gen.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get cache generation %q: %w", name, err)
	}
	return &gen, nil
}

// ListGenerations returns every generation, oldest first.
func (s *CacheStore) ListGenerations(ctx context.Context) ([]model.CacheGeneration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, created_at FROM cache_generations ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list cache generations: %w", err)
	}
	defer rows.Close()

	var gens []model.CacheGeneration
	for rows.Next() {
		var g model.CacheGeneration
		if err := rows.Scan(&g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cache generation: %w", err)
		}
		gens = append(gens, g)
	}
	return gens, rows.Err()
}

// DeleteGeneration removes a generation and all of its entries.
func (s *CacheStore) DeleteGeneration(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete generation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE generation = ?`, name); err != nil {
		return fmt.Errorf("delete cache entries %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_generations WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete cache generation %q: %w", name, err)
	}
	return tx.Commit()
}

// PutEntry upserts a snapshot. The generation must already exist.
func (s *CacheStore) PutEntry(ctx context.Context, e model.CacheEntry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encode cache header: %w", err)
	}
	if e.Body == nil {
		e.Body = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (generation, request_key, status, header, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(generation, request_key) DO UPDATE SET
		   status = excluded.status, header = excluded.header, body = excluded.body, stored_at = excluded.stored_at`,
		e.Generation, e.RequestKey, e.Status, string(header), e.Body, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put cache entry %q: %w", e.RequestKey, err)
	}
	return nil
}

// GetEntry returns the snapshot for key in generation, or nil if absent.
func (s *CacheStore) GetEntry(ctx context.Context, generation, key string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var header string
	err := s.db.QueryRowContext(ctx,
		`SELECT generation, request_key, status, header, body, stored_at
		 FROM cache_entries WHERE generation = ? AND request_key = ?`, generation, key,
	).Scan(&e.Generation, &e.RequestKey, &e.Status, &header, &e.Body, &e.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("decode cache header: %w", err)
	}
	return &e, nil
}

// CountEntries returns the number of snapshots in a generation.
func (s *CacheStore) CountEntries(ctx context.Context, generation string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE generation = ?`, generation).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
