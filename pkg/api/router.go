package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/api/handlers"
	"github.com/marmos91/filepull/pkg/transfer"
)

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes (base /api/v1):
//   - GET  /health              - process health and counters
//   - GET  /clients             - connected endpoints
//   - GET  /clients/{id}        - one endpoint with download history
//   - POST /downloads           - request a file from an endpoint
//   - GET  /downloads           - list transfers with filters
//   - GET  /downloads/{id}      - one transfer snapshot
//   - DELETE /downloads/{id}    - cancel a transfer
func NewRouter(directory handlers.Directory, manager *transfer.Manager, version string) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(directory, manager, version)
	clientsHandler := handlers.NewClientsHandler(directory, manager)
	downloadsHandler := handlers.NewDownloadsHandler(directory, manager)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", clientsHandler.List)
			r.Get("/{id}", clientsHandler.Get)
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Post("/", downloadsHandler.Create)
			r.Get("/", downloadsHandler.List)
			r.Get("/{id}", downloadsHandler.Get)
			r.Delete("/{id}", downloadsHandler.Cancel)
		})
	})

	// Bare liveness probe outside the versioned base.
	r.Get("/health", healthHandler.Health)

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
