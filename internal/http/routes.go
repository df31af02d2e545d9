package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds the dependencies of the HTTP router.
type RouterServices struct {
	Submissions    SubmissionService
	Ready          map[string]ReadinessCheck
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// NewRouter creates the submission API handler wrapped in the standard middleware.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Ready))

	if services.Submissions != nil {
		docs := &DocumentHandlers{
			Svc:            services.Submissions,
			MaxUploadBytes: services.MaxUploadBytes,
			Logger:         logger,
		}
		mux.HandleFunc("POST /api/family-tests", docs.SubmitFamilyTest)
		mux.HandleFunc("POST /api/diffs", docs.SubmitDiff)
		mux.HandleFunc("GET /api/family-tests", docs.ListDocuments)
		mux.HandleFunc("GET /api/family-tests/{id}", docs.GetDocument)
	}

	var handler http.Handler = mux
	handler = Compression(CompressionConfig{Logger: logger})(handler)
	handler = Logging(logger)(handler)
	return Recover(logger)(handler)
}
