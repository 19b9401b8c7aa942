package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gstflow/artifact"
	"gstflow/bulkjob"
	"gstflow/document"
	"gstflow/health"
	"gstflow/order"
	"gstflow/session"
	"gstflow/webhook"
)

const (
	// maxDirectExportItems bounds the synchronous CSV export path. Larger
	// batches belong in a bulk job.
	maxDirectExportItems = 1000

	// maxExportRangeDays bounds date-range exports.
	maxExportRangeDays = 365

	// maxWebhookBody bounds how much of a delivery body is read.
	maxWebhookBody = 1 << 20
)

var (
	errTooManyItems  = fmt.Errorf("at most %d orders per direct export", maxDirectExportItems)
	errRangeTooLarge = fmt.Errorf("date range exceeds %d days", maxExportRangeDays)
)

type ctxKey int

const ctxKeySession ctxKey = iota

// Server owns the HTTP surface. Dependencies are injected so handlers can
// be exercised against in-memory services.
type Server struct {
	sessions   *session.Service
	jobs       *bulkjob.Service
	artifacts  *artifact.Service
	orders     order.Provider
	validator  *webhook.Validator
	dispatcher *webhook.Dispatcher
	monitor    *health.Monitor
	orderOpts  order.Options
	logger     *slog.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bulk-jobs", s.requireSession(s.handleBulkJobs))
	mux.HandleFunc("/api/bulk-jobs/", s.requireSession(s.handleBulkJobDetail))
	mux.HandleFunc("/api/export/csv", s.requireSession(s.handleExportCSV))
	mux.HandleFunc("/api/files/", s.handleFileDownload)
	mux.HandleFunc("/api/webhooks", s.handleWebhook)
	mux.HandleFunc("/api/health/webhooks", s.requireSession(s.handleWebhookHealth))
	return mux
}

// requireSession authenticates the Bearer session token and loads the
// shop's stored session into the request context. Webhook ingestion and
// file downloads stay outside it: deliveries carry an HMAC and download
// keys are unguessable.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		shop, err := s.sessions.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}

		sess, err := s.sessions.Get(r.Context(), shop)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "shop not installed")
				return
			}
			s.logger.Error("session lookup failed", "shop", shop, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeySession, sess)
		next(w, r.WithContext(ctx))
	}
}

func sessionFrom(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(ctxKeySession).(session.Session)
	return sess, ok
}

type jobResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Progress       int    `json:"progress"`
	TotalItems     int    `json:"totalItems"`
	ProcessedItems int    `json:"processedItems"`
	Format         string `json:"format"`
	CreatedAt      string `json:"createdAt"`
	CompletedAt    string `json:"completedAt,omitempty"`
	DownloadURL    string `json:"downloadUrl,omitempty"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
	Error          string `json:"error,omitempty"`
}

func toJobResponse(job bulkjob.Job) jobResponse {
	resp := jobResponse{
		ID:             job.ID,
		Status:         string(job.Status),
		Progress:       job.Progress,
		TotalItems:     job.TotalItems,
		ProcessedItems: job.ProcessedItems,
		Format:         string(job.Format),
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		Error:          job.Error,
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	if job.DownloadKey != "" {
		resp.DownloadURL = "/api/files/" + job.DownloadKey
	}
	if job.ExpiresAt != nil {
		resp.ExpiresAt = job.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

type submitJobRequest struct {
	OrderIDs            []string `json:"orderIds"`
	Format              string   `json:"format"`
	TemplateID          string   `json:"templateId"`
	IncludeTaxBreakdown bool     `json:"includeTaxBreakdown"`
	GroupByDate         bool     `json:"groupByDate"`
}

func (s *Server) handleBulkJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sess, ok := sessionFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.jobs.Submit(r.Context(), sess, bulkjob.Params{
		OrderIDs:            req.OrderIDs,
		Format:              bulkjob.Format(req.Format),
		TemplateID:          req.TemplateID,
		IncludeTaxBreakdown: req.IncludeTaxBreakdown,
		GroupByDate:         req.GroupByDate,
	})
	if err != nil {
		switch {
		case errors.Is(err, bulkjob.ErrEmptyInput),
			errors.Is(err, bulkjob.ErrTooManyItems),
			errors.Is(err, bulkjob.ErrUnknownFormat):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("submit bulk job failed", "shop", sess.Shop, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"job":     toJobResponse(job),
		"message": fmt.Sprintf("processing %d orders", job.TotalItems),
	})
}

func (s *Server) handleBulkJobDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/bulk-jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetJob(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		s.handleDeleteJob(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.handleCancelJob(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, bulkjob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.jobs.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, bulkjob.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, bulkjob.ErrJobFinished):
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("job already %s", job.Status))
		default:
			s.logger.Error("cancel job failed", "job_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"job":     toJobResponse(job),
	})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, bulkjob.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, bulkjob.ErrJobActive):
			writeError(w, http.StatusBadRequest, "job is still running, cancel it first")
		default:
			s.logger.Error("delete job failed", "job_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type exportCSVRequest struct {
	OrderIDs   []string `json:"orderIds"`
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	ExportType string   `json:"exportType"`
	GroupBy    string   `json:"groupBy"`
}

// handleExportCSV is the synchronous export path for small batches. The
// caller supplies either explicit order ids or a date range.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sess, ok := sessionFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}

	var req exportCSVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	recs, err := s.fetchExportOrders(r.Context(), sess, req)
	if err != nil {
		switch {
		case errors.Is(err, errTooManyItems), errors.Is(err, errRangeTooLarge):
			writeError(w, http.StatusBadRequest, err.Error())
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("export fetch failed", "shop", sess.Shop, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	opts, err := csvOptions(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enriched, failed := order.EnrichAll(recs, s.orderOpts, s.logger)
	if failed > 0 {
		s.logger.Warn("export degraded", "shop", sess.Shop, "failed", failed, "total", len(recs))
	}

	out, err := document.GenerateCSV(enriched, opts)
	if err != nil {
		if errors.Is(err, document.ErrEmptyInput) {
			writeError(w, http.StatusBadRequest, "no orders matched the export")
			return
		}
		s.logger.Error("export generation failed", "shop", sess.Shop, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	filename := fmt.Sprintf("gst-export-%s-%s.csv", opts.Type, time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, out)
}

type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func isValidationError(err error) bool {
	var ve validationError
	return errors.As(err, &ve)
}

func (s *Server) fetchExportOrders(ctx context.Context, sess session.Session, req exportCSVRequest) ([]order.Record, error) {
	if len(req.OrderIDs) > 0 {
		if len(req.OrderIDs) > maxDirectExportItems {
			return nil, errTooManyItems
		}
		return s.orders.GetOrders(ctx, sess, req.OrderIDs)
	}

	if req.StartDate == "" || req.EndDate == "" {
		return nil, validationError{"orderIds or startDate/endDate required"}
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, validationError{fmt.Sprintf("invalid startDate %q", req.StartDate)}
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return nil, validationError{fmt.Sprintf("invalid endDate %q", req.EndDate)}
	}
	if end.Before(start) {
		return nil, validationError{"endDate before startDate"}
	}
	if end.Sub(start) > maxExportRangeDays*24*time.Hour {
		return nil, errRangeTooLarge
	}
	return s.orders.GetOrdersByDateRange(ctx, sess, start, end.Add(24*time.Hour-time.Nanosecond))
}

func csvOptions(req exportCSVRequest) (document.CSVOptions, error) {
	switch req.ExportType {
	case "", string(document.ExportDetailed):
		return document.CSVOptions{Type: document.ExportDetailed}, nil
	case string(document.ExportSummary):
		key := document.GroupBy(req.GroupBy)
		if req.GroupBy == "" {
			key = document.GroupByDate
		}
		switch key {
		case document.GroupByDate, document.GroupByCustomer, document.GroupByProduct:
			return document.CSVOptions{Type: document.ExportSummary, Key: key}, nil
		default:
			return document.CSVOptions{}, validationError{fmt.Sprintf("unknown groupBy %q", req.GroupBy)}
		}
	default:
		return document.CSVOptions{}, validationError{fmt.Sprintf("unknown exportType %q", req.ExportType)}
	}
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/api/files/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, http.StatusBadRequest, "file key required")
		return
	}

	stored, err := s.artifacts.Retrieve(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrExpired):
			writeError(w, http.StatusGone, "file expired")
		case errors.Is(err, artifact.ErrNotFound):
			writeError(w, http.StatusNotFound, "file not found")
		default:
			s.logger.Error("file retrieval failed", "key", key, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.Header().Set("Content-Type", stored.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stored.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(stored.Payload)))
	w.WriteHeader(http.StatusOK)
	w.Write(stored.Payload)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	evt, err := s.validator.ValidateRequest(r, body)
	if err != nil {
		s.logger.Warn("webhook rejected",
			"topic", r.Header.Get(webhook.HeaderTopic),
			"shop", r.Header.Get(webhook.HeaderShop),
			"error", err)
		writeError(w, http.StatusUnauthorized, "webhook verification failed")
		return
	}

	if err := s.dispatcher.Dispatch(r.Context(), evt); err != nil {
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleWebhookHealth(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			io.WriteString(w, s.monitor.Report(sess.Shop))
			return
		}
		stats := s.monitor.Status(sess.Shop)
		writeJSON(w, http.StatusOK, map[string]any{
			"scope":          sess.Shop,
			"healthy":        s.monitor.Healthy(sess.Shop),
			"overall":        statsResponse(stats),
			"byTopic":        s.monitor.StatsByTopic(sess.Shop),
			"recentFailures": failuresResponse(s.monitor.RecentFailures(sess.Shop, 10)),
		})
	case http.MethodDelete:
		s.monitor.Reset()
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func statsResponse(stats health.Stats) map[string]any {
	out := map[string]any{
		"total":         stats.Total,
		"successful":    stats.Successful,
		"failed":        stats.Failed,
		"errorRatePct":  stats.ErrorRatePct,
		"avgProcessing": stats.AvgProcessingTime.String(),
	}
	if !stats.LastProcessedAt.IsZero() {
		out["lastProcessedAt"] = stats.LastProcessedAt.Format(time.RFC3339)
	}
	return out
}

type failureResponse struct {
	Timestamp string `json:"timestamp"`
	Topic     string `json:"topic"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error"`
}

func failuresResponse(failures []health.Metric) []failureResponse {
	out := make([]failureResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, failureResponse{
			Timestamp: f.Timestamp.Format(time.RFC3339),
			Topic:     f.Topic,
			Attempts:  f.Attempts,
			Error:     f.Error,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
