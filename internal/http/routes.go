package httpx

import (
	"log/slog"
	"net/http"

	"github.com/jakub-figat/chromatin/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs      *service.JobService
	Sequences *service.SequenceService
	// MaxUploadBytes bounds a FASTA upload request body.
	MaxUploadBytes int64
	// Health lists dependencies probed by /healthz.
	Health []Pinger
	Logger *slog.Logger // Logger for HTTP errors (optional)
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs, Logger: logger})
	registerSequenceRoutes(mux, &SequenceHandlers{
		Svc:            services.Sequences,
		MaxUploadBytes: services.MaxUploadBytes,
		Logger:         logger,
	})
	health := healthHandler(services.Health...)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	return Chain(mux, Recover(logger), Logging(logger))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	owned := RequireOwner()
	mux.Handle("POST /api/jobs", owned(http.HandlerFunc(h.CreateJob)))
	mux.Handle("GET /api/jobs", owned(http.HandlerFunc(h.ListJobs)))
	mux.Handle("GET /api/jobs/stats", owned(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /api/jobs/{id}", owned(http.HandlerFunc(h.GetJob)))
	mux.Handle("DELETE /api/jobs/{id}", owned(http.HandlerFunc(h.DeleteJob)))
	mux.Handle("POST /api/jobs/{id}/cancel", owned(http.HandlerFunc(h.CancelJob)))
}

func registerSequenceRoutes(mux *http.ServeMux, h *SequenceHandlers) {
	owned := RequireOwner()
	mux.Handle("POST /api/sequences", owned(http.HandlerFunc(h.CreateSequence)))
	mux.Handle("GET /api/sequences", owned(http.HandlerFunc(h.ListSequences)))
	mux.Handle("POST /api/sequences/fasta", owned(http.HandlerFunc(h.UploadFASTA)))
	mux.Handle("POST /api/sequences/download", owned(http.HandlerFunc(h.BatchDownload)))
	mux.Handle("POST /api/sequences/transform", owned(http.HandlerFunc(h.Transform)))
	mux.Handle("GET /api/sequences/{id}", owned(http.HandlerFunc(h.GetSequence)))
	mux.Handle("PUT /api/sequences/{id}", owned(http.HandlerFunc(h.UpdateSequence)))
	mux.Handle("DELETE /api/sequences/{id}", owned(http.HandlerFunc(h.DeleteSequence)))
	mux.Handle("GET /api/sequences/{id}/download", owned(http.HandlerFunc(h.DownloadSequence)))
	mux.Handle("GET /api/sequences/{id}/structure", owned(http.HandlerFunc(h.GetStructure)))
	mux.Handle("GET /api/sequences/{id}/structure/pdb", owned(http.HandlerFunc(h.GetStructurePDB)))
}
