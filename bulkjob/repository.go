package bulkjob

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
	// ErrNotFound signals an unknown job id.
	ErrNotFound = errors.New("bulkjob: not found")
)

// Repository persists jobs. Progress and terminal writes are conditional on
// the current status, so a background task can never overwrite a job that
// was cancelled underneath it.
type Repository interface {
	Insert(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// RecordProgress persists a progress snapshot while the job is still
	// processing; it reports false once the job has left that state.
	RecordProgress(ctx context.Context, id string, processed, total, progress int) (bool, error)
	Complete(ctx context.Context, id, downloadKey string, expiresAt, completedAt time.Time) (bool, error)
	// Fail transitions pending or processing to failed.
	Fail(ctx context.Context, id, errMsg string, completedAt time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	ListByShop(ctx context.Context, shop string) ([]Job, error)
	DeleteByShop(ctx context.Context, shop string) (int, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const jobColumns = `id, shop, status, progress, total_items, processed_items, format, created_at, completed_at, download_key, expires_at, error`

func (r *PGRepository) Insert(ctx context.Context, job Job) error {
	const insertSQL = `
		INSERT INTO bulk_jobs (id, shop, status, progress, total_items, processed_items, format, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, insertSQL,
		job.ID, job.Shop, job.Status, job.Progress, job.TotalItems, job.ProcessedItems, job.Format, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("bulkjob: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM bulk_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("bulkjob: get: %w", err)
	}
	return job, nil
}

func (r *PGRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bulk_jobs SET status = 'processing' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("bulkjob: mark processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) RecordProgress(ctx context.Context, id string, processed, total, progress int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bulk_jobs
		SET processed_items = $2, total_items = $3, progress = $4
		WHERE id = $1 AND status = 'processing'
	`, id, processed, total, progress)
	if err != nil {
		return false, fmt.Errorf("bulkjob: record progress: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) Complete(ctx context.Context, id, downloadKey string, expiresAt, completedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bulk_jobs
		SET status = 'completed', progress = 100, download_key = $2, expires_at = $3, completed_at = $4
		WHERE id = $1 AND status = 'processing'
	`, id, downloadKey, expiresAt, completedAt)
	if err != nil {
		return false, fmt.Errorf("bulkjob: complete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) Fail(ctx context.Context, id, errMsg string, completedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bulk_jobs
		SET status = 'failed', error = $2, completed_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, errMsg, completedAt)
	if err != nil {
		return false, fmt.Errorf("bulkjob: fail: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bulk_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bulkjob: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListByShop(ctx context.Context, shop string) ([]Job, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM bulk_jobs WHERE shop = $1 ORDER BY created_at DESC`, shop)
	if err != nil {
		return nil, fmt.Errorf("bulkjob: list: %w", err)
	}
	defer rows.Close()

	jobs := make([]Job, 0, 8)
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, fmt.Errorf("bulkjob: scan: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bulkjob: iterate: %w", err)
	}
	return jobs, nil
}

func (r *PGRepository) DeleteByShop(ctx context.Context, shop string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bulk_jobs WHERE shop = $1`, shop)
	if err != nil {
		return 0, fmt.Errorf("bulkjob: delete by shop: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		job         Job
		completedAt *time.Time
		downloadKey *string
		expiresAt   *time.Time
		errMsg      *string
	)
	err := row.Scan(
		&job.ID, &job.Shop, &job.Status, &job.Progress, &job.TotalItems, &job.ProcessedItems,
		&job.Format, &job.CreatedAt, &completedAt, &downloadKey, &expiresAt, &errMsg,
	)
	if err != nil {
		return Job{}, err
	}
	job.CompletedAt = completedAt
	job.ExpiresAt = expiresAt
	if downloadKey != nil {
		job.DownloadKey = *downloadKey
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	return job, nil
}

func scanJobRows(rows pgx.Rows) (Job, error) {
	return scanJob(rows)
}

// MemoryRepository is the in-memory reference implementation. It applies
// the same conditional-write rules as the PostgreSQL repository.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]Job
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]Job)}
}

func (r *MemoryRepository) Insert(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[job.ID] = job
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (r *MemoryRepository) MarkProcessing(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok || job.Status != StatusPending {
		return false, nil
	}
	job.Status = StatusProcessing
	r.byID[id] = job
	return true, nil
}

func (r *MemoryRepository) RecordProgress(_ context.Context, id string, processed, total, progress int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok || job.Status != StatusProcessing {
		return false, nil
	}
	job.ProcessedItems = processed
	job.TotalItems = total
	job.Progress = progress
	r.byID[id] = job
	return true, nil
}

func (r *MemoryRepository) Complete(_ context.Context, id, downloadKey string, expiresAt, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok || job.Status != StatusProcessing {
		return false, nil
	}
	job.Status = StatusCompleted
	job.Progress = 100
	job.DownloadKey = downloadKey
	job.ExpiresAt = &expiresAt
	job.CompletedAt = &completedAt
	r.byID[id] = job
	return true, nil
}

func (r *MemoryRepository) Fail(_ context.Context, id, errMsg string, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = StatusFailed
	job.Error = errMsg
	job.CompletedAt = &completedAt
	r.byID[id] = job
	return true, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) ListByShop(_ context.Context, shop string) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]Job, 0, 8)
	for _, job := range r.byID {
		if job.Shop == shop {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (r *MemoryRepository) DeleteByShop(_ context.Context, shop string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, job := range r.byID {
		if job.Shop == shop {
			delete(r.byID, id)
			removed++
		}
	}
	return removed, nil
}
