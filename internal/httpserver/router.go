package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"querygate/internal/handlers"
	"querygate/internal/metrics"
	"querygate/internal/middleware"
)

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, allowedOrigin string, queryHandler *handlers.QueryHandler) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())               // panic recovery
	r.Use(middleware.Timeout(15 * time.Second)) // request timeout
	r.Use(middleware.MaxBodySize(256 * 1024))   // 256 KB max body
	r.Use(middleware.CORS(allowedOrigin))

	// routes
	r.Post("/graphql", queryHandler.Query)

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
