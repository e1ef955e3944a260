package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/technosupport/alibi/internal/identity"
	"github.com/technosupport/alibi/internal/metrics"
	"github.com/technosupport/alibi/internal/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth      *AuthHandler
	Users     *UserHandler
	Incidents *IncidentHandler
	Stream    *StreamHandler
	Sim       *SimHandler
	Reports   *ReportHandler
	Settings  *SettingsHandler
	Watchlist *WatchlistHandler

	JWT     *middleware.JWTAuth
	Metrics *metrics.Collector
}

// NewRouter assembles the HTTP surface. Login, health and metrics are the
// only unauthenticated routes.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", h.Metrics.Handler())
	r.Post("/auth/login", h.Auth.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWT.Middleware)

		// Any authenticated role.
		r.Get("/auth/me", h.Auth.Me)
		r.Post("/auth/change-password", h.Auth.ChangePassword)
		r.Get("/settings", h.Settings.Get)

		// Operator and above.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(identity.RoleOperator))
			r.Post("/webhook/camera-event", h.Incidents.IngestEvent)
			r.Get("/incidents", h.Incidents.List)
			r.Get("/incidents/{id}", h.Incidents.Get)
			r.Post("/incidents/{id}/decision", h.Incidents.Decision)
			r.Get("/stream/incidents", h.Stream.SSE)
			r.Get("/stream/ws", h.Stream.WS)
			r.Post("/reports/shift", h.Reports.Shift)
		})

		// Supervisor and above.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(identity.RoleSupervisor))
			r.Post("/incidents/{id}/approve", h.Incidents.Approve)
		})

		// Admin only.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(identity.RoleAdmin))
			r.Put("/settings", h.Settings.Put)

			r.Get("/auth/users", h.Users.List)
			r.Post("/auth/users", h.Users.Create)
			// Accounts are never deleted; DELETE disables.
			r.Delete("/auth/users/{username}", h.Users.Disable)
			r.Post("/auth/users/{username}/reset-password", h.Users.ResetPassword)

			r.Get("/watchlist", h.Watchlist.List)
			r.Post("/watchlist", h.Watchlist.Add)
			r.Delete("/watchlist/{identifier}", h.Watchlist.Remove)

			r.Post("/sim/start", h.Sim.Start)
			r.Post("/sim/stop", h.Sim.Stop)
			r.Get("/sim/status", h.Sim.Status)
			r.Post("/sim/replay", h.Sim.Replay)
		})
	})

	return r
}
