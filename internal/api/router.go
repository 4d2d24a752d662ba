package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tlmsim/reconciler/internal/ingestion"
	"github.com/tlmsim/reconciler/internal/metrics"
	"github.com/tlmsim/reconciler/internal/reconciliation"
	"github.com/tlmsim/reconciler/internal/repository"
)

// Deps are the stores and services the handlers work against.
type Deps struct {
	DB             *repository.DB
	Trades         *repository.TradeRepo
	Settlements    *repository.SettlementRepo
	Breaks         *repository.BreakRepo
	Policies       *repository.TolerancePolicyRepo
	Uploads        *repository.UploadRepo
	Ingestion      *ingestion.Service
	Reconciliation *reconciliation.Service
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(d Deps) http.Handler {
	h := &Handlers{
		db:          d.DB,
		trades:      d.Trades,
		settlements: d.Settlements,
		breaks:      d.Breaks,
		policies:    d.Policies,
		uploads:     d.Uploads,
		ingestion:   d.Ingestion,
		recon:       d.Reconciliation,
	}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", userHeader},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		// Ingestion.
		r.Post("/uploads", h.Upload)
		r.Get("/uploads", h.ListUploads)

		// Matching.
		r.Post("/reconcile", h.Reconcile)

		// Source data.
		r.Get("/trades", h.ListTrades)
		r.Get("/settlements", h.ListSettlements)

		// Breaks.
		r.Route("/breaks", func(r chi.Router) {
			r.Get("/", h.ListBreaks)
			r.Get("/{id}", h.GetBreak)
			r.Post("/{id}/assign", h.AssignBreak)
			r.Post("/{id}/resolve", h.ResolveBreak)
			r.Post("/{id}/comment", h.CommentBreak)
		})
		r.Get("/export/breaks", h.ExportBreaks)

		// Tolerance settings.
		r.Get("/settings", h.GetSettings)
		r.Post("/settings", h.UpdateSettings)

		// Dashboard.
		r.Get("/stats", h.Stats)
		r.Get("/reports/daily", h.DailyReport)
	})

	return r
}
