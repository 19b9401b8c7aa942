package session

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
	// ErrNotFound signals that no session exists for the shop.
	ErrNotFound = errors.New("session: not found")
)

// Repository handles session persistence. The stored access token is an
// opaque sealed blob; sealing happens in the service layer.
type Repository interface {
	Upsert(ctx context.Context, sess Session) (Session, error)
	GetByShop(ctx context.Context, shop string) (Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByShop(ctx context.Context, shop string) (int, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed session repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Upsert stores the session for the shop, replacing any previous one.
func (r *PGRepository) Upsert(ctx context.Context, sess Session) (Session, error) {
	const upsertSQL = `
		INSERT INTO sessions (id, shop, access_token, scope, is_online)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (shop) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    scope = EXCLUDED.scope,
		    is_online = EXCLUDED.is_online
		RETURNING id, shop, access_token, scope, is_online, created_at
	`

	stored, err := scanSession(r.pool.QueryRow(ctx, upsertSQL,
		sess.ID, sess.Shop, sess.AccessToken, sess.Scope, sess.IsOnline))
	if err != nil {
		return Session{}, fmt.Errorf("session: upsert: %w", err)
	}
	return stored, nil
}

// GetByShop retrieves the session for a shop domain.
func (r *PGRepository) GetByShop(ctx context.Context, shop string) (Session, error) {
	const selectSQL = `
		SELECT id, shop, access_token, scope, is_online, created_at
		FROM sessions
		WHERE shop = $1
	`

	sess, err := scanSession(r.pool.QueryRow(ctx, selectSQL, shop))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("session: get by shop: %w", err)
	}
	return sess, nil
}

// Delete removes a single session by id.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByShop removes every session for the shop and reports the count.
func (r *PGRepository) DeleteByShop(ctx context.Context, shop string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE shop = $1`, shop)
	if err != nil {
		return 0, fmt.Errorf("session: delete by shop: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID,
		&sess.Shop,
		&sess.AccessToken,
		&sess.Scope,
		&sess.IsOnline,
		&sess.CreatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// MemoryRepository is the in-memory reference implementation used by tests
// and single-process deployments.
type MemoryRepository struct {
	mu     sync.Mutex
	byShop map[string]Session
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byShop: make(map[string]Session)}
}

func (r *MemoryRepository) Upsert(_ context.Context, sess Session) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byShop[sess.Shop]; ok {
		sess.CreatedAt = existing.CreatedAt
	} else if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	r.byShop[sess.Shop] = sess
	return sess, nil
}

func (r *MemoryRepository) GetByShop(_ context.Context, shop string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byShop[shop]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for shop, sess := range r.byShop {
		if sess.ID == id {
			delete(r.byShop, shop)
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) DeleteByShop(_ context.Context, shop string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byShop[shop]; !ok {
		return 0, nil
	}
	delete(r.byShop, shop)
	return 1, nil
}
