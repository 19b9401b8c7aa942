package bulkjob

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gstflow/artifact"
	"gstflow/document"
	"gstflow/order"
	"gstflow/session"
)

// bulkTTLThreshold is the item count above which the artifact gets the
// longer TTL.
const (
	bulkTTLThreshold = 50
	shortTTLHours    = 24
	longTTLHours     = 72
)

// run executes one job in the background. All job writes are conditional on
// the job still being in flight, so a cancellation that lands mid-run wins.
func (s *Service) run(ctx context.Context, sess session.Session, job Job, params Params) {
	defer s.running.Done()
	defer s.forget(job.ID)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		// Cancelled while queued for a slot; Cancel already failed the job.
		return
	}
	defer s.sem.Release(1)

	ok, err := s.jobs.MarkProcessing(ctx, job.ID)
	if err != nil {
		s.logger.Error("mark processing failed", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		// Left pending state already, cancelled before a slot freed.
		return
	}

	enriched, err := s.process(ctx, sess, job, params)
	if err != nil {
		s.failJob(job.ID, err)
		return
	}

	payload, filename, contentType, err := s.generate(enriched, job, params)
	if err != nil {
		s.failJob(job.ID, err)
		return
	}

	ttl := shortTTLHours
	if job.TotalItems > bulkTTLThreshold {
		ttl = longTTLHours
	}
	stored, err := s.store.Store(ctx, payload, artifact.StoreParams{
		Shop:        job.Shop,
		Filename:    filename,
		ContentType: contentType,
		TTLHours:    ttl,
	})
	if err != nil {
		s.failJob(job.ID, fmt.Errorf("store artifact: %w", err))
		return
	}

	completed, err := s.jobs.Complete(ctx, job.ID, stored.Key, stored.ExpiresAt, s.now().UTC())
	if err != nil {
		s.logger.Error("complete job failed", "job_id", job.ID, "error", err)
		return
	}
	if !completed {
		// Cancelled during the final stretch; drop the orphaned artifact so
		// no failed job references a download key.
		if err := s.store.Delete(ctx, stored.Key); err != nil {
			s.logger.Warn("orphaned artifact cleanup failed", "key", stored.Key, "error", err)
		}
		return
	}

	s.logger.Info("bulk job completed",
		"job_id", job.ID, "shop", job.Shop, "format", job.Format, "items", job.TotalItems)
}

// process fetches and enriches the job's orders in submission-ordered
// batches with progress flushes and an inter-batch delay. Per-order
// failures are skipped and counted, never fatal.
func (s *Service) process(ctx context.Context, sess session.Session, job Job, params Params) ([]order.Enriched, error) {
	recs, err := s.provider.GetOrders(ctx, sess, params.OrderIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no orders resolved from %d ids", len(params.OrderIDs))
	}

	total := len(recs)
	opts := order.Options{SellerState: s.cfg.SellerState, Tax: s.cfg.Tax}

	enriched := make([]order.Enriched, 0, total)
	processed := 0
	skipped := 0

	for start := 0; start < total; start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > total {
			end = total
		}

		for _, rec := range recs[start:end] {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}

			e, err := order.Enrich(rec, opts)
			if err != nil {
				skipped++
				s.logger.Warn("order skipped in bulk job",
					"job_id", job.ID, "order_id", rec.ID, "error", err)
				continue
			}
			enriched = append(enriched, e)
			processed++

			progress := int(math.Round(float64(processed) / float64(total) * 100))
			ok, err := s.jobs.RecordProgress(ctx, job.ID, processed, total, progress)
			if err != nil {
				return nil, fmt.Errorf("record progress: %w", err)
			}
			if !ok {
				return nil, errCancelled
			}
		}

		if end < total && s.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			case <-time.After(s.cfg.BatchDelay):
			}
		}
	}

	if len(enriched) == 0 {
		return nil, fmt.Errorf("all %d orders failed enrichment", total)
	}
	if skipped > 0 {
		s.logger.Info("bulk job degraded", "job_id", job.ID, "skipped", skipped, "processed", processed)
	}
	return enriched, nil
}

func (s *Service) generate(enriched []order.Enriched, job Job, params Params) (payload []byte, filename, contentType string, err error) {
	stamp := s.now().UTC().Format("20060102-150405")

	switch job.Format {
	case FormatCSV:
		out, err := document.GenerateCSV(enriched, document.CSVOptions{
			Type:        document.ExportDetailed,
			GroupByDate: params.GroupByDate,
		})
		if err != nil {
			return nil, "", "", fmt.Errorf("generate csv: %w", err)
		}
		return []byte(out), fmt.Sprintf("gst-orders-%s.csv", stamp), "text/csv; charset=utf-8", nil

	case FormatPDF:
		tpl := s.cfg.Template
		tpl.ShowTaxBreakdown = params.IncludeTaxBreakdown
		out, err := document.GenerateBulkPDF(s.backend, enriched, document.PDFOptions{
			Template:    tpl,
			GroupByDate: params.GroupByDate,
		})
		if err != nil {
			return nil, "", "", fmt.Errorf("generate pdf: %w", err)
		}
		return out, fmt.Sprintf("gst-orders-%s.pdf", stamp), "application/pdf", nil

	default:
		return nil, "", "", fmt.Errorf("%w: %q", ErrUnknownFormat, job.Format)
	}
}

// failJob records a terminal failure unless cancellation already did.
func (s *Service) failJob(id string, cause error) {
	if errors.Is(cause, errCancelled) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.jobs.Fail(ctx, id, cause.Error(), s.now().UTC())
	if err != nil {
		s.logger.Error("record job failure failed", "job_id", id, "error", err)
		return
	}
	if ok {
		s.logger.Warn("bulk job failed", "job_id", id, "error", cause)
	}
}
