package bulkjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"gstflow/artifact"
	"gstflow/document"
	"gstflow/order"
	"gstflow/session"
	"gstflow/tax"
)

var (
	// ErrEmptyInput signals a submission without order ids.
	ErrEmptyInput = errors.New("bulkjob: no order ids")
	// ErrTooManyItems signals a submission beyond the per-job cap.
	ErrTooManyItems = errors.New("bulkjob: too many items")
	// ErrUnknownFormat signals an output format other than pdf or csv.
	ErrUnknownFormat = errors.New("bulkjob: unknown format")
	// ErrJobActive rejects deleting a job that is still pending or
	// processing.
	ErrJobActive = errors.New("bulkjob: job is still active")
	// ErrJobFinished rejects cancelling a job already in a terminal state.
	ErrJobFinished = errors.New("bulkjob: job already finished")

	errCancelled = errors.New("bulkjob: cancelled")
)

// Config bounds orchestration. Values are fixed at construction; nothing on
// the service mutates between requests.
type Config struct {
	// MaxItems caps order ids per submission.
	MaxItems int
	// MaxConcurrent bounds how many jobs run their background work at once.
	MaxConcurrent int
	// BatchSize is the number of orders processed between progress flushes.
	BatchSize int
	// BatchDelay is the pause between batches, backpressure for the
	// upstream data provider.
	BatchDelay time.Duration
	// SellerState and Tax feed enrichment for every job.
	SellerState string
	Tax         tax.Config
	// Template renders PDF jobs.
	Template document.Template
}

// DefaultConfig returns the production orchestration bounds.
func DefaultConfig(sellerState string) Config {
	return Config{
		MaxItems:      100,
		MaxConcurrent: 3,
		BatchSize:     10,
		BatchDelay:    200 * time.Millisecond,
		SellerState:   sellerState,
		Tax:           tax.DefaultConfig(),
		Template:      document.DefaultTemplate(),
	}
}

// Service owns the bulk job lifecycle: validation, background execution
// under a concurrency bound, progress reporting and artifact handoff.
type Service struct {
	jobs     Repository
	provider order.Provider
	store    *artifact.Service
	backend  document.Backend
	cfg      Config
	sem      *semaphore.Weighted
	logger   *slog.Logger
	now      func() time.Time
	idGen    func() string

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	// running lets tests wait for background work to settle.
	running sync.WaitGroup
}

func NewService(jobs Repository, provider order.Provider, store *artifact.Service, backend document.Backend, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 100
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:     jobs,
		provider: provider,
		store:    store,
		backend:  backend,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:   logger,
		now:      time.Now,
		idGen:    func() string { return uuid.NewString() },
	}
}

// WithClock overrides the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDGenerator overrides job id generation, used by tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Submit validates the request, persists a pending job and schedules its
// background execution. It returns before any processing happens.
func (s *Service) Submit(ctx context.Context, sess session.Session, params Params) (Job, error) {
	if len(params.OrderIDs) == 0 {
		return Job{}, ErrEmptyInput
	}
	if len(params.OrderIDs) > s.cfg.MaxItems {
		return Job{}, fmt.Errorf("%w: %d exceeds cap %d", ErrTooManyItems, len(params.OrderIDs), s.cfg.MaxItems)
	}
	switch params.Format {
	case FormatPDF, FormatCSV:
	default:
		return Job{}, fmt.Errorf("%w: %q", ErrUnknownFormat, params.Format)
	}

	job := Job{
		ID:         s.idGen(),
		Shop:       sess.Shop,
		Status:     StatusPending,
		TotalItems: len(params.OrderIDs),
		Format:     params.Format,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.jobs.Insert(ctx, job); err != nil {
		return Job{}, err
	}

	// The runner outlives the submission request; cancellation is driven by
	// the per-job cancel func, not the caller's context.
	runCtx, cancel := context.WithCancelCause(context.Background())
	s.mu.Lock()
	if s.cancels == nil {
		s.cancels = make(map[string]context.CancelCauseFunc)
	}
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.running.Add(1)
	go s.run(runCtx, sess, job, params)

	return job, nil
}

// Get returns the current job snapshot.
func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	return s.jobs.Get(ctx, id)
}

// ListByShop returns all jobs for a shop.
func (s *Service) ListByShop(ctx context.Context, shop string) ([]Job, error) {
	return s.jobs.ListByShop(ctx, shop)
}

// Cancel marks a pending or processing job failed with reason "cancelled"
// and signals its runner to stop between items. Terminal jobs are rejected.
func (s *Service) Cancel(ctx context.Context, id string) (Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.Status.Terminal() {
		return job, fmt.Errorf("%w: status %s", ErrJobFinished, job.Status)
	}

	if _, err := s.jobs.Fail(ctx, id, "cancelled", s.now().UTC()); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	cancel := s.cancels[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel(errCancelled)
	}

	return s.jobs.Get(ctx, id)
}

// Delete removes a terminal job and its artifact. Active jobs are rejected.
func (s *Service) Delete(ctx context.Context, id string) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrJobActive, job.Status)
	}

	if job.DownloadKey != "" {
		if err := s.store.Delete(ctx, job.DownloadKey); err != nil && !errors.Is(err, artifact.ErrNotFound) {
			return err
		}
	}
	return s.jobs.Delete(ctx, id)
}

// DeleteByShop cancels any active jobs and removes every job for the shop.
// Called from the uninstall cascade.
func (s *Service) DeleteByShop(ctx context.Context, shop string) (int, error) {
	jobs, err := s.jobs.ListByShop(ctx, shop)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if !job.Status.Terminal() {
			if _, err := s.Cancel(ctx, job.ID); err != nil && !errors.Is(err, ErrJobFinished) {
				s.logger.Warn("cancel during shop cleanup failed", "job_id", job.ID, "error", err)
			}
		}
	}
	return s.jobs.DeleteByShop(ctx, shop)
}

// Wait blocks until all background runners have finished. Test helper.
func (s *Service) Wait() {
	s.running.Wait()
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.cancels, id)
	s.mu.Unlock()
}
