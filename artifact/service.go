package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrExpired signals a key whose artifact is past its TTL. Observing an
	// expired artifact also deletes it.
	ErrExpired = errors.New("artifact: expired")
	// ErrEmptyPayload signals a store request without content.
	ErrEmptyPayload = errors.New("artifact: empty payload")
)

const defaultTTLHours = 24

// Service stores generated documents under opaque keys with a TTL.
// Expiration is enforced lazily on every read and proactively by Sweep.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
	keyGen func() string
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		keyGen: func() string { return uuid.NewString() },
	}
}

// WithClock overrides the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithKeyGenerator overrides key generation, used by tests.
func (s *Service) WithKeyGenerator(gen func() string) *Service {
	s.keyGen = gen
	return s
}

// Store persists a payload under a fresh opaque key. Store never updates in
// place; each call creates a new artifact.
func (s *Service) Store(ctx context.Context, payload []byte, params StoreParams) (Stored, error) {
	if len(payload) == 0 {
		return Stored{}, ErrEmptyPayload
	}
	if params.Filename == "" {
		return Stored{}, fmt.Errorf("artifact: filename required")
	}

	ttl := params.TTLHours
	if ttl <= 0 {
		ttl = defaultTTLHours
	}
	visibility := params.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}

	now := s.now().UTC()
	stored := Stored{
		Key:         s.keyGen(),
		Shop:        params.Shop,
		Filename:    params.Filename,
		ContentType: params.ContentType,
		Size:        len(payload),
		Payload:     payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(ttl) * time.Hour),
		Visibility:  visibility,
	}

	if err := s.repo.Insert(ctx, stored); err != nil {
		return Stored{}, err
	}
	return stored, nil
}

// Retrieve returns the artifact for a key. An expired entry behaves as
// absent: it is deleted as a side effect and ErrExpired is returned.
func (s *Service) Retrieve(ctx context.Context, key string) (Stored, error) {
	a, err := s.repo.Get(ctx, key)
	if err != nil {
		return Stored{}, err
	}

	if !a.ExpiresAt.After(s.now()) {
		if err := s.repo.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("lazy expiry delete failed", "key", key, "error", err)
		}
		return Stored{}, fmt.Errorf("%w: %s", ErrExpired, key)
	}
	return a, nil
}

// Delete removes an artifact explicitly.
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, key)
}

// List returns metadata for a shop's live artifacts. Entries observed
// expired are excluded and deleted.
func (s *Service) List(ctx context.Context, shop string) ([]Metadata, error) {
	all, err := s.repo.ListByShop(ctx, shop)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]Metadata, 0, len(all))
	for _, a := range all {
		if !a.ExpiresAt.After(now) {
			if err := s.repo.Delete(ctx, a.Key); err != nil && !errors.Is(err, ErrNotFound) {
				s.logger.Warn("lazy expiry delete failed", "key", a.Key, "error", err)
			}
			continue
		}
		out = append(out, a.metadata())
	}
	return out, nil
}

// Sweep removes every expired artifact and reports the count.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}

// DeleteByShop removes all artifacts for a shop, reporting the count.
// Called from the uninstall cascade.
func (s *Service) DeleteByShop(ctx context.Context, shop string) (int, error) {
	return s.repo.DeleteByShop(ctx, shop)
}

// StartSweeper runs Sweep on the interval until ctx is cancelled.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.Sweep(ctx)
				if err != nil {
					s.logger.Error("artifact sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					s.logger.Info("artifact sweep removed expired entries", "count", removed)
				}
			}
		}
	}()
}
