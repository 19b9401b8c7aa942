package bulkjob

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gstflow/artifact"
	"gstflow/document"
	"gstflow/order"
	"gstflow/session"
	"gstflow/tax"
)

type fakeProvider struct {
	mu      sync.Mutex
	orders  map[string]order.Record
	err     error
	release chan struct{}
}

func (f *fakeProvider) GetOrder(ctx context.Context, sess session.Session, id string) (order.Record, error) {
	recs, err := f.GetOrders(ctx, sess, []string{id})
	if err != nil {
		return order.Record{}, err
	}
	if len(recs) == 0 {
		return order.Record{}, errors.New("fake: not found")
	}
	return recs[0], nil
}

func (f *fakeProvider) GetOrders(ctx context.Context, _ session.Session, ids []string) ([]order.Record, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]order.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := f.orders[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeProvider) GetOrdersByDateRange(_ context.Context, _ session.Session, _, _ time.Time) ([]order.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]order.Record, 0, len(f.orders))
	for _, rec := range f.orders {
		out = append(out, rec)
	}
	return out, nil
}

type stubBackend struct{}

type stubSession struct{}

func (stubSession) AddPage()                   {}
func (stubSession) Heading(string)             {}
func (stubSession) Text(string)                {}
func (stubSession) Table([]string, [][]string) {}
func (stubSession) Divider()                   {}
func (stubSession) Output() ([]byte, error)    { return []byte("%PDF"), nil }
func (stubSession) Close() error               { return nil }

func (stubBackend) Begin(document.Template) (document.Session, error) {
	return stubSession{}, nil
}

// progressRecorder wraps the memory repository and captures every progress
// snapshot written for a job.
type progressRecorder struct {
	*MemoryRepository
	mu       sync.Mutex
	progress []int
}

func (r *progressRecorder) RecordProgress(ctx context.Context, id string, processed, total, progress int) (bool, error) {
	r.mu.Lock()
	r.progress = append(r.progress, progress)
	r.mu.Unlock()
	return r.MemoryRepository.RecordProgress(ctx, id, processed, total, progress)
}

func testRecord(id string) order.Record {
	return order.Record{
		ID:         id,
		Name:       "#" + id,
		CreatedAt:  time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
		Customer:   order.Customer{Name: "Priya"},
		TotalPrice: decimal.NewFromInt(1500),
		Currency:   "INR",
		LineItems: []order.LineItem{
			{ID: id + "-1", Title: "Kurta", Quantity: 1, Price: decimal.NewFromInt(1500)},
		},
		ShippingAddress: &order.Address{StateCode: "MH"},
	}
}

func testConfig() Config {
	return Config{
		MaxItems:      100,
		MaxConcurrent: 3,
		BatchSize:     2,
		BatchDelay:    0,
		SellerState:   "KA",
		Tax:           tax.DefaultConfig(),
		Template:      document.DefaultTemplate(),
	}
}

func newTestService(repo Repository, provider order.Provider) (*Service, *artifact.Service) {
	logger := slog.New(slog.DiscardHandler)
	store := artifact.NewService(artifact.NewMemoryRepository(), logger)
	svc := NewService(repo, provider, store, stubBackend{}, testConfig(), logger)
	return svc, store
}

func testSess() session.Session {
	return session.Session{Shop: "demo.myshopify.com", AccessToken: "tok"}
}

func TestSubmit_Validation(t *testing.T) {
	svc, _ := newTestService(NewMemoryRepository(), &fakeProvider{})
	ctx := context.Background()

	if _, err := svc.Submit(ctx, testSess(), Params{Format: FormatCSV}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "x"
	}
	if _, err := svc.Submit(ctx, testSess(), Params{OrderIDs: ids, Format: FormatCSV}); !errors.Is(err, ErrTooManyItems) {
		t.Errorf("expected ErrTooManyItems, got %v", err)
	}

	if _, err := svc.Submit(ctx, testSess(), Params{OrderIDs: []string{"1"}, Format: "docx"}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestSubmit_ReturnsPendingImmediately(t *testing.T) {
	provider := &fakeProvider{orders: map[string]order.Record{"1": testRecord("1")}, release: make(chan struct{})}
	svc, _ := newTestService(NewMemoryRepository(), provider)

	job, err := svc.Submit(context.Background(), testSess(), Params{OrderIDs: []string{"1"}, Format: FormatCSV})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != StatusPending {
		t.Errorf("expected pending at submission, got %s", job.Status)
	}

	close(provider.release)
	svc.Wait()
}

func TestRun_CompletesCSVJobWithArtifact(t *testing.T) {
	provider := &fakeProvider{orders: map[string]order.Record{
		"1": testRecord("1"), "2": testRecord("2"), "3": testRecord("3"),
	}}
	repo := &progressRecorder{MemoryRepository: NewMemoryRepository()}
	svc, store := newTestService(repo, provider)
	ctx := context.Background()

	job, err := svc.Submit(ctx, testSess(), Params{OrderIDs: []string{"1", "2", "3"}, Format: FormatCSV})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	svc.Wait()

	final, err := svc.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (error=%q)", final.Status, final.Error)
	}
	if final.Progress != 100 || final.ProcessedItems != 3 {
		t.Errorf("expected 100%%/3 items, got %d%%/%d", final.Progress, final.ProcessedItems)
	}
	if final.DownloadKey == "" || final.ExpiresAt == nil || final.CompletedAt == nil {
		t.Errorf("terminal fields missing: %+v", final)
	}

	stored, err := store.Retrieve(ctx, final.DownloadKey)
	if err != nil {
		t.Fatalf("retrieve artifact: %v", err)
	}
	if stored.ContentType != "text/csv; charset=utf-8" {
		t.Errorf("unexpected content type %q", stored.ContentType)
	}

	// Progress snapshots are monotonically non-decreasing.
	for i := 1; i < len(repo.progress); i++ {
		if repo.progress[i] < repo.progress[i-1] {
			t.Fatalf("progress regressed: %v", repo.progress)
		}
	}
	if n := len(repo.progress); n != 3 {
		t.Errorf("expected 3 progress flushes, got %d", n)
	}
}

func TestRun_PDFJob(t *testing.T) {
	provider := &fakeProvider{orders: map[string]order.Record{"1": testRecord("1")}}
	svc, store := newTestService(NewMemoryRepository(), provider)
	ctx := context.Background()

	job, err := svc.Submit(ctx, testSess(), Params{
		OrderIDs: []string{"1"}, Format: FormatPDF, IncludeTaxBreakdown: true,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	svc.Wait()

	final, _ := svc.Get(ctx, job.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (error=%q)", final.Status, final.Error)
	}
	stored, err := store.Retrieve(ctx, final.DownloadKey)
	if err != nil {
		t.Fatalf("retrieve artifact: %v", err)
	}
	if stored.ContentType != "application/pdf" {
		t.Errorf("unexpected content type %q", stored.ContentType)
	}
}

func TestRun_UnresolvedIDsAreSkippedNotFatal(t *testing.T) {
	provider := &fakeProvider{orders: map[string]order.Record{
		"1": testRecord("1"), "3": testRecord("3"),
	}}
	svc, _ := newTestService(NewMemoryRepository(), provider)
	ctx := context.Background()

	job, err := svc.Submit(ctx, testSess(), Params{OrderIDs: []string{"1", "2", "3"}, Format: FormatCSV})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	svc.Wait()

	final, _ := svc.Get(ctx, job.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed despite unresolved id, got %s (error=%q)", final.Status, final.Error)
	}
	if final.ProcessedItems != 2 {
		t.Errorf("expected 2 processed items, got %d", final.ProcessedItems)
	}
}

func TestRun_EnrichmentFailureSkipped(t *testing.T) {
	bad := testRecord("2")
	bad.ShippingAddress = nil
	provider := &fakeProvider{orders: map[string]order.Record{
		"1": testRecord("1"), "2": bad,
	}}
	svc, _ := newTestService(NewMemoryRepository(), provider)
	ctx := context.Background()

	job, err := svc.Submit(ctx, testSess(), Params{OrderIDs: []string{"1", "2"}, Format: FormatCSV})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	svc.Wait()

	final, _ := svc.Get(ctx, job.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (error=%q)", final.Status, final.Error)
	}
	if final.ProcessedItems != 1 {
		t.Errorf("expected 1 processed item, got %d", final.ProcessedItems)
	}
}

func TestRun_ProviderFailureFailsJob(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream 502")}
	svc, _ := newTestService(NewMemoryRepository(), provider)
	ctx := context.Background()

	job, err := svc.Submit(ctx, testSess(), Params{OrderIDs: []string{"1"}, Format: FormatCSV})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	svc.Wait()

	final, _ := svc.Get(ctx, job.ID)
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Error == "" || final.CompletedAt == nil {
		t.Errorf("failure fields missing: %+v", final)
	}
	if final.DownloadKey != "" {
		t.Errorf("failed job must not reference an artifact")
	}
}

func TestCancel_MarksFailedAndRunnerDoesNotOverwrite(t *testing.T) {
	provider := &fakeProvider{
		orders:  map[string]order.Record{"1": testRecord("1")},
		release: make(chan struct{}),
	}
	svc, _ := newTestService(NewMemoryRepository(), provider)
	ctx := context.Background()

	job, err := svc.Submit(ctx, testSess(), Params{OrderIDs: []string{"1"}, Format: FormatCSV})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusFailed || cancelled.Error != "cancelled" {
		t.Fatalf("expected failed/cancelled, got %s/%q", cancelled.Status, cancelled.Error)
	}

	close(provider.release)
	svc.Wait()

	final, _ := svc.Get(ctx, job.ID)
	if final.Status != StatusFailed || final.Error != "cancelled" {
		t.Errorf("runner overwrote cancelled job: %+v", final)
	}
	if final.DownloadKey != "" {
		t.Errorf("cancelled job must not gain a download key")
	}
}

func TestCancel_TerminalJobRejected(t *testing.T) {
	provider := &fakeProvider{orders: map[string]order.Record{"1": testRecord("1")}}
	svc, _ := newTestService(NewMemoryRepository(), provider)
	ctx := context.Background()

	job, _ := svc.Submit(ctx, testSess(), Params{OrderIDs: []string{"1"}, Format: FormatCSV})
	svc.Wait()

	if _, err := svc.Cancel(ctx, job.ID); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
}

func TestDelete_ActiveRejectedTerminalRemovesArtifact(t *testing.T) {
	provider := &fakeProvider{
		orders:  map[string]order.Record{"1": testRecord("1")},
		release: make(chan struct{}),
	}
	svc, store := newTestService(NewMemoryRepository(), provider)
	ctx := context.Background()

	job, err := svc.Submit(ctx, testSess(), Params{OrderIDs: []string{"1"}, Format: FormatCSV})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := svc.Delete(ctx, job.ID); !errors.Is(err, ErrJobActive) {
		t.Fatalf("expected ErrJobActive while running, got %v", err)
	}

	close(provider.release)
	svc.Wait()

	final, _ := svc.Get(ctx, job.ID)
	if err := svc.Delete(ctx, job.ID); err != nil {
		t.Fatalf("delete terminal: %v", err)
	}
	if _, err := svc.Get(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected job gone, got %v", err)
	}
	if _, err := store.Retrieve(ctx, final.DownloadKey); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("expected artifact deleted with job, got %v", err)
	}
}

func TestDeleteByShop_CancelsAndRemoves(t *testing.T) {
	provider := &fakeProvider{
		orders:  map[string]order.Record{"1": testRecord("1")},
		release: make(chan struct{}),
	}
	svc, _ := newTestService(NewMemoryRepository(), provider)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, testSess(), Params{OrderIDs: []string{"1"}, Format: FormatCSV}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	n, err := svc.DeleteByShop(ctx, "demo.myshopify.com")
	if err != nil {
		t.Fatalf("delete by shop: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 job removed, got %d", n)
	}

	close(provider.release)
	svc.Wait()

	jobs, _ := svc.ListByShop(ctx, "demo.myshopify.com")
	if len(jobs) != 0 {
		t.Errorf("expected no jobs left, got %d", len(jobs))
	}
}
