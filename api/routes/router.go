package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/sorn-tracker/api/controllers"
	"github.com/angelmondragon/sorn-tracker/api/middleware"
	"github.com/angelmondragon/sorn-tracker/internal/notifications"
	"github.com/angelmondragon/sorn-tracker/internal/submissions"
	"github.com/angelmondragon/sorn-tracker/pkg/config"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
)

// NewRouter mounts the health, submission, notice, registry and metrics
// routes.
// idempotency and metricsHandler may be nil.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	deps map[string]controllers.Pinger,
	idempotency middleware.IdempotencyStore,
	submissionsService submissions.Service,
	noticesService notifications.Service,
	registry controllers.RegistryBrowser,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	idem := middleware.Idempotency(idempotency, logg, cfg.Redis.IdempotencyTTL)

	r.Route("/api/v1/submissions", func(r chi.Router) {
		r.Get("/", controllers.ListSubmissions(submissionsService, logg))
		r.With(idem).Post("/", controllers.CreateSubmission(submissionsService, logg))
		r.Route("/bulk", func(r chi.Router) {
			r.With(idem).Post("/retry", controllers.BulkRetry(submissionsService, logg))
			r.With(idem).Post("/archive", controllers.BulkArchive(submissionsService, logg))
			r.Post("/export", controllers.BulkExport(submissionsService, logg, time.Now))
		})
		r.Get("/{submissionId}", controllers.GetSubmission(submissionsService, logg))
		r.With(idem).Post("/{submissionId}/retry", controllers.RetrySubmission(submissionsService, logg))
	})

	r.Route("/api/v1/notices", func(r chi.Router) {
		r.Get("/", controllers.ListNotices(noticesService, logg))
		r.Post("/read-all", controllers.MarkAllNoticesRead(noticesService, logg))
		r.Post("/{noticeId}/read", controllers.MarkNoticeRead(noticesService, logg))
	})

	r.Route("/api/v1/registry", func(r chi.Router) {
		r.Get("/agencies", controllers.ListAgencies(registry, logg))
		r.Get("/documents", controllers.SearchDocuments(registry, logg))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	return r
}
