package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/whiro/dami/internal/api/middleware"
	"github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/jobs"
	"github.com/whiro/dami/internal/pipeline"
)

// MaxUploadBytes bounds the size of an uploaded export.
const MaxUploadBytes = 32 << 20

// ExportUploader writes uploaded exports to storage and removes ones whose
// import could not be enqueued.
type ExportUploader interface {
	UploadBytes(ctx context.Context, data []byte, loc gcs.Location) error
	DeleteBlob(ctx context.Context, loc gcs.Location) error
}

// ImportRunLister lists recorded import runs.
type ImportRunLister interface {
	ListImportRuns(ctx context.Context, limit int) ([]*bigquery.ImportRunRow, error)
}

// ImportsHandler handles import endpoints.
type ImportsHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(publisher jobs.Publisher, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		publisher: publisher,
		log:       log,
	}
}

// EnqueueImport handles POST /api/imports. The body is optional:
// {"source_uri": "gs://...", "dry_run": true}.
func (h *ImportsHandler) EnqueueImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceURI string `json:"source_uri"`
		DryRun    bool   `json:"dry_run"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.SourceURI != "" {
		if _, err := gcs.ParseObjectURI(req.SourceURI); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	job := &jobs.ImportJob{
		Trigger:   pipeline.TriggerAPI,
		SourceURI: req.SourceURI,
		DryRun:    req.DryRun,
	}
	if err := h.publisher.PublishImport(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("source_uri", req.SourceURI).Msg("Import job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// ExportsHandler handles export uploads.
type ExportsHandler struct {
	uploader  ExportUploader
	publisher jobs.Publisher
	prefix    gcs.Location
	now       func() time.Time
	log       zerolog.Logger
}

// NewExportsHandler creates a handler that stores uploads under prefix.
func NewExportsHandler(uploader ExportUploader, publisher jobs.Publisher, prefix gcs.Location, log zerolog.Logger) *ExportsHandler {
	return &ExportsHandler{
		uploader:  uploader,
		publisher: publisher,
		prefix:    prefix,
		now:       time.Now,
		log:       log,
	}
}

// UploadExport handles POST /api/exports?filename=<name>.csv[&import=true].
// The request body is the raw export file. With import=true an import of the
// uploaded object is enqueued.
func (h *ExportsHandler) UploadExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filename := path.Base(query.Get("filename"))
	if filename == "." || filename == "/" {
		middleware.WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if ext := gcs.Extension(filename); ext != "csv" && ext != "tsv" {
		middleware.WriteError(w, http.StatusBadRequest, (&gcs.UnsupportedFileTypeError{Extension: ext}).Error())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Export is too large")
		return
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Export is empty")
		return
	}

	loc := gcs.Location{
		Bucket: h.prefix.Bucket,
		Path:   h.prefix.Path + h.now().UTC().Format("20060102-150405-") + filename,
	}
	if err := h.uploader.UploadBytes(r.Context(), data, loc); err != nil {
		h.log.Error().Err(err).Str("gcs_uri", loc.URI()).Msg("Failed to upload export")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload export")
		return
	}

	resp := map[string]string{"gcs_uri": loc.URI()}
	if doImport, _ := strconv.ParseBool(query.Get("import")); doImport {
		job := &jobs.ImportJob{Trigger: pipeline.TriggerAPI, SourceURI: loc.URI()}
		if err := h.publisher.PublishImport(r.Context(), job); err != nil {
			h.log.Error().Err(err).Str("gcs_uri", loc.URI()).Msg("Failed to enqueue import job")
			// An export nobody imports would be picked up by the next
			// scheduled latest-blob import instead.
			if delErr := h.uploader.DeleteBlob(r.Context(), loc); delErr != nil {
				h.log.Error().Err(delErr).Str("gcs_uri", loc.URI()).Msg("Failed to remove export after enqueue failure")
			}
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import job")
			return
		}
		resp["job_id"] = job.JobID
	}

	h.log.Info().Str("gcs_uri", loc.URI()).Int("bytes", len(data)).Msg("Export uploaded")
	middleware.WriteJSON(w, http.StatusCreated, resp)
}

// ImportRunsHandler lists recorded import runs.
type ImportRunsHandler struct {
	repo ImportRunLister
	log  zerolog.Logger
}

// NewImportRunsHandler creates a new import runs handler.
func NewImportRunsHandler(repo ImportRunLister, log zerolog.Logger) *ImportRunsHandler {
	return &ImportRunsHandler{
		repo: repo,
		log:  log,
	}
}

// ListImportRuns handles GET /api/import-runs
func (h *ImportRunsHandler) ListImportRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = l
	}

	runs, err := h.repo.ListImportRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list import runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list import runs")
		return
	}
	if runs == nil {
		runs = []*bigquery.ImportRunRow{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	repo bigquery.TransactionRepository
	now  func() time.Time
	log  zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo bigquery.TransactionRepository, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		repo: repo,
		now:  time.Now,
		log:  log,
	}
}

// ListTransactions handles GET /api/transactions. The range defaults to the
// last year.
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	now := h.now()

	startDate, err := parseDate(query.Get("start_date"), now.AddDate(-1, 0, 0))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date format")
		return
	}
	endDate, err := parseDate(query.Get("end_date"), now)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date format")
		return
	}
	if endDate.Before(startDate) {
		middleware.WriteError(w, http.StatusBadRequest, "end_date is before start_date")
		return
	}

	transactions, err := h.repo.QueryTransactionsByDateRange(ctx, startDate, endDate)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	if transactions == nil {
		transactions = []*bigquery.TransactionRow{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

func parseDate(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Trigger: query.Get("trigger"),
		Status:  jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
