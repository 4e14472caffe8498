// Package httpapi exposes the identity service over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"campusid.org/internal/identity"
	"campusid.org/internal/obs"
	"campusid.org/internal/ratelimit"
)

// CodeExchanger resolves a provider authorization code into a verified
// external identity.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (identity.ExternalIdentity, error)
}

// ReadyProbe checks backing dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the API's collaborators. Limiter and Google are optional;
// the corresponding features degrade gracefully when absent.
type Options struct {
	Service *identity.Service
	Limiter *ratelimit.Limiter
	Google  CodeExchanger
	Probe   ReadyProbe
	Version string

	RateBurst     int
	RatePerSecond int
	MaxBodyBytes  int64
}

type API struct {
	mux     chi.Router
	svc     *identity.Service
	limiter *ratelimit.Limiter
	google  CodeExchanger
	probe   ReadyProbe
	version string
	opts    Options
}

func New(opts Options) *API {
	a := &API{
		mux:     chi.NewRouter(),
		svc:     opts.Service,
		limiter: opts.Limiter,
		google:  opts.Google,
		probe:   opts.Probe,
		version: opts.Version,
		opts:    opts,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.Get("/healthz", a.handleHealthz)
	a.mux.Get("/readyz", a.handleReady)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", a.handleSignup)
			r.Post("/login", a.handleLogin)
			r.Post("/google", a.handleGoogleLogin)
			r.Post("/request-email-verification", a.handleRequestEmailVerification)
			r.Post("/verify-email", a.handleVerifyEmail)
			r.Post("/reset-password-request", a.handleResetPasswordRequest)
			r.Post("/reset-password", a.handleResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole())
				r.Get("/data", a.handleAuthData)
				r.Post("/logout", a.handleLogout)
				r.Post("/logout-all", a.handleLogoutAll)
				r.Post("/complete-profile", a.handleCompleteProfile)
				r.Get("/sessions", a.handleSessions)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/register", a.handleAdminRegister)
			r.Post("/google-register", a.handleAdminGoogleRegister)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(identity.RoleOwner))
				r.Post("/invite", a.handleAdminInvite)
				r.Post("/invitations/{id}/revoke", a.handleInvitationRevoke)
				r.Put("/{id}/permissions", a.handleSetPermissions)
			})
		})
	})
}

// Handler assembles the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	if a.opts.RateBurst > 0 && a.opts.RatePerSecond > 0 {
		h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond)
	}
	maxBody := a.opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	h = MaxBodyBytes(h, maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "campusid-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.probe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
