package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals a key with no stored artifact.
	ErrNotFound = errors.New("artifact: not found")
)

// Repository persists artifacts. Expiration policy lives in the service;
// the repository only stores, fetches and deletes rows.
type Repository interface {
	Insert(ctx context.Context, a Stored) error
	Get(ctx context.Context, key string) (Stored, error)
	Delete(ctx context.Context, key string) error
	ListByShop(ctx context.Context, shop string) ([]Stored, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteByShop(ctx context.Context, shop string) (int, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, a Stored) error {
	const insertSQL = `
		INSERT INTO artifacts (key, shop, filename, content_type, size, payload, created_at, expires_at, visibility)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, insertSQL,
		a.Key, a.Shop, a.Filename, a.ContentType, a.Size, a.Payload, a.CreatedAt, a.ExpiresAt, a.Visibility)
	if err != nil {
		return fmt.Errorf("artifact: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, key string) (Stored, error) {
	const selectSQL = `
		SELECT key, shop, filename, content_type, size, payload, created_at, expires_at, visibility
		FROM artifacts
		WHERE key = $1
	`

	a, err := scanStored(r.pool.QueryRow(ctx, selectSQL, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stored{}, ErrNotFound
		}
		return Stored{}, fmt.Errorf("artifact: get: %w", err)
	}
	return a, nil
}

func (r *PGRepository) Delete(ctx context.Context, key string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM artifacts WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("artifact: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListByShop(ctx context.Context, shop string) ([]Stored, error) {
	const listSQL = `
		SELECT key, shop, filename, content_type, size, payload, created_at, expires_at, visibility
		FROM artifacts
		WHERE shop = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, listSQL, shop)
	if err != nil {
		return nil, fmt.Errorf("artifact: list: %w", err)
	}
	defer rows.Close()

	out := make([]Stored, 0, 8)
	for rows.Next() {
		var a Stored
		if err := rows.Scan(&a.Key, &a.Shop, &a.Filename, &a.ContentType, &a.Size, &a.Payload, &a.CreatedAt, &a.ExpiresAt, &a.Visibility); err != nil {
			return nil, fmt.Errorf("artifact: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM artifacts WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("artifact: delete expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PGRepository) DeleteByShop(ctx context.Context, shop string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM artifacts WHERE shop = $1`, shop)
	if err != nil {
		return 0, fmt.Errorf("artifact: delete by shop: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanStored(row pgx.Row) (Stored, error) {
	var a Stored
	err := row.Scan(
		&a.Key,
		&a.Shop,
		&a.Filename,
		&a.ContentType,
		&a.Size,
		&a.Payload,
		&a.CreatedAt,
		&a.ExpiresAt,
		&a.Visibility,
	)
	if err != nil {
		return Stored{}, err
	}
	return a, nil
}

// MemoryRepository is the in-memory reference implementation.
type MemoryRepository struct {
	mu    sync.Mutex
	byKey map[string]Stored
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byKey: make(map[string]Stored)}
}

func (r *MemoryRepository) Insert(_ context.Context, a Stored) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[a.Key] = a
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, key string) (Stored, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byKey[key]
	if !ok {
		return Stored{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[key]; !ok {
		return ErrNotFound
	}
	delete(r.byKey, key)
	return nil
}

func (r *MemoryRepository) ListByShop(_ context.Context, shop string) ([]Stored, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stored, 0, 8)
	for _, a := range r.byKey {
		if a.Shop == shop {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, a := range r.byKey {
		if !a.ExpiresAt.After(now) {
			delete(r.byKey, key)
			removed++
		}
	}
	return removed, nil
}

func (r *MemoryRepository) DeleteByShop(_ context.Context, shop string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, a := range r.byKey {
		if a.Shop == shop {
			delete(r.byKey, key)
			removed++
		}
	}
	return removed, nil
}
