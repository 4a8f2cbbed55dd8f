// Package api assembles the HTTP surface of the import service.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/whiro/dami/internal/api/handlers"
	"github.com/whiro/dami/internal/api/middleware"
	"github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/jobs"
)

// Deps are the services the routes call. Uploader may be nil, in which case
// POST /api/exports is not registered.
type Deps struct {
	Publisher    jobs.Publisher
	Jobs         jobs.JobStore
	Transactions bigquery.TransactionRepository
	Runs         handlers.ImportRunLister
	Uploader     handlers.ExportUploader
	ExportPrefix gcs.Location
	AuthToken    string
	Log          zerolog.Logger
}

// NewRouter returns the API handler wrapped in the middleware chain.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	importsHandler := handlers.NewImportsHandler(d.Publisher, log)
	transactionsHandler := handlers.NewTransactionsHandler(d.Transactions, log)
	runsHandler := handlers.NewImportRunsHandler(d.Runs, log)
	jobsHandler := handlers.NewJobsHandler(d.Jobs, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/imports", method(http.MethodPost, importsHandler.EnqueueImport))

	if d.Uploader != nil {
		exportsHandler := handlers.NewExportsHandler(d.Uploader, d.Publisher, d.ExportPrefix, log)
		mux.HandleFunc("/api/exports", method(http.MethodPost, exportsHandler.UploadExport))
	}

	mux.HandleFunc("/api/import-runs", method(http.MethodGet, runsHandler.ListImportRuns))

	mux.HandleFunc("/api/transactions", method(http.MethodGet, transactionsHandler.ListTransactions))

	mux.HandleFunc("/api/jobs", method(http.MethodGet, jobsHandler.ListJobs))

	mux.HandleFunc("/api/jobs/", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(d.AuthToken)(mux),
				),
			),
		),
	)
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}
