// Package api exposes the query and export services over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"freight-insights/internal/domain"
	"freight-insights/internal/middleware"
)

// QueryService is the surface of the execution layer the API depends on.
type QueryService interface {
	CreateDefinition(ctx context.Context, def *domain.QueryDefinition) (*domain.QueryDefinition, error)
	GetDefinition(ctx context.Context, id string) (*domain.QueryDefinition, error)
	ListDefinitions(ctx context.Context, page domain.PageRequest) ([]domain.QueryDefinition, int64, error)
	UpdateDefinition(ctx context.Context, id string, req domain.UpdateQueryRequest) (*domain.QueryDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error
	Execute(ctx context.Context, def *domain.QueryDefinition, params domain.RuntimeParameters) (*domain.QueryResult, error)
	ExecutePaginated(ctx context.Context, def *domain.QueryDefinition, params domain.RuntimeParameters, page, pageSize int) (*domain.PaginatedResult, error)
	ExecuteStream(ctx context.Context, def *domain.QueryDefinition, params domain.RuntimeParameters) (domain.RowIterator, error)
	Invalidate(ctx context.Context, pattern string) (int, error)
}

// ExportService is the surface of the export pipeline the API depends on.
type ExportService interface {
	Create(ctx context.Context, spec domain.ExportSpec) (*domain.ExportJob, error)
	CreateAndProcess(ctx context.Context, spec domain.ExportSpec) (*domain.ExportJob, error)
	Process(ctx context.Context, id string) (*domain.ExportJob, error)
	GetJob(ctx context.Context, id string) (*domain.ExportJob, error)
	ListJobs(ctx context.Context, page domain.PageRequest) ([]domain.ExportJob, int64, error)
	DeleteJob(ctx context.Context, id string) error
	Artifact(ctx context.Context, id string) (*domain.ExportArtifact, error)
}

// Enqueuer accepts jobs for background processing.
type Enqueuer interface {
	Enqueue(jobID string) error
}

// Handler carries the services behind the HTTP surface.
type Handler struct {
	queries QueryService
	exports ExportService
	queue   Enqueuer
	logger  *slog.Logger
}

// NewHandler creates the API handler. queue may be nil, in which case newly
// created export jobs stay PENDING until processed explicitly.
func NewHandler(queries QueryService, exports ExportService, queue Enqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queries: queries, exports: exports, queue: queue, logger: logger}
}

// RouterConfig tunes the middleware stack.
type RouterConfig struct {
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

// NewRouter wires the full route tree with the shared middleware stack.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(h.logger))
	if cfg.RateLimitRPS > 0 {
		r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}))
	}
	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
	}))

	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/queries", func(r chi.Router) {
			r.Post("/", h.createQuery)
			r.Get("/", h.listQueries)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getQuery)
				r.Put("/", h.updateQuery)
				r.Delete("/", h.deleteQuery)
				r.Post("/execute", h.executeQuery)
			})
		})

		r.Post("/cache/invalidate", h.invalidateCache)

		r.Route("/exports", func(r chi.Router) {
			r.Post("/", h.createExport)
			r.Get("/", h.listExports)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getExport)
				r.Delete("/", h.deleteExport)
				r.Post("/process", h.processExport)
				r.Get("/download", h.downloadExport)
			})
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
