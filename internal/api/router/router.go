package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medspa-roster-sync/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/medspa-roster-sync/internal/http/middleware"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes
// unmounted.
type Config struct {
	Logger          *logging.Logger
	Health          *handlers.HealthHandler
	AdminSync       *handlers.AdminSyncHandler
	AdminMatches    *handlers.AdminMatchHandler
	AdminOperations *handlers.AdminOperationsHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler

	// Per-IP limit on admin routes; zero disables it.
	AdminRatePerSecond float64
	AdminRateBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", cfg.Health.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		if cfg.AdminRatePerSecond > 0 {
			admin.Use(httpmiddleware.RateLimit(cfg.AdminRatePerSecond, cfg.AdminRateBurst))
		}

		if h := cfg.AdminSync; h != nil {
			admin.Post("/sync/run", h.RunSync)
			admin.Get("/sync/runs", h.ListRuns)
			admin.Post("/crm/resync", h.ResyncCRM)
		}
		if h := cfg.AdminMatches; h != nil {
			admin.Get("/duplicates", h.Duplicates)
			admin.Get("/duplicates.xlsx", h.Duplicates)
			admin.Get("/matches", h.ReviewQueue)
			admin.Post("/matches/resolve", h.ResolveMatch)
			admin.Post("/matches/dismiss", h.DismissMatch)
			admin.Post("/matches/confirm", h.ConfirmAutoLinks)
			admin.Post("/matches/unlink", h.Unlink)
			admin.Post("/links", h.Link)
			admin.Get("/links/billing-review", h.BillingReview)
		}
		if h := cfg.AdminOperations; h != nil {
			admin.Post("/memberships/import", h.ImportMemberships)
			admin.Get("/payment-issues", h.ListOpenIssues)
			admin.Post("/payment-issues/{issueID}/resolve", h.ResolveIssue)
		}
	})

	return r
}
