package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter registers the API routes and wraps them in the middleware chain
func NewRouter(h *Handler, logger *zap.Logger, requireClientCert bool) http.Handler {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	v1.HandleFunc("/profile", h.UploadProfile).Methods(http.MethodPost)
	v1.HandleFunc("/profile", h.ClearProfile).Methods(http.MethodDelete)
	v1.HandleFunc("/profile/ingest", h.IngestBatch).Methods(http.MethodPost)
	v1.HandleFunc("/profile/demo", h.LoadDemo).Methods(http.MethodPost)
	v1.HandleFunc("/analysis", h.GetAnalysis).Methods(http.MethodGet)
	v1.HandleFunc("/operations", h.ListOperations).Methods(http.MethodGet)
	v1.HandleFunc("/selection", h.GetSelection).Methods(http.MethodGet)
	v1.HandleFunc("/selection", h.PutSelection).Methods(http.MethodPut)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/check-ai-status", h.CheckAIStatus).Methods(http.MethodGet)
	api.HandleFunc("/analyze-operation", h.AnalyzeOperation).Methods(http.MethodPost)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", r.URL.Path)
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", r.Method)
	})
	for _, router := range []*mux.Router{r, v1, api} {
		router.NotFoundHandler = notFound
		router.MethodNotAllowedHandler = notAllowed
	}

	var handler http.Handler = r
	handler = RecoveryMiddleware(logger)(handler)
	handler = LoggingMiddleware(logger)(handler)
	if requireClientCert {
		handler = MTLSMiddleware(logger)(handler)
	}
	handler = RequestIDMiddleware(handler)
	return handler
}
