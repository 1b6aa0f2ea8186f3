package server

import (
	"net/http"

	"github.com/dgellow/docsite/internal/authflow"
	"github.com/dgellow/docsite/internal/config"
	jsonwriter "github.com/dgellow/docsite/internal/json"
	"github.com/dgellow/docsite/internal/log"
	"github.com/dgellow/docsite/internal/metrics"
	"github.com/dgellow/docsite/internal/session"
)

// SessionLoader loads the request's session without requiring authentication
type SessionLoader interface {
	Load(r *http.Request) (*session.Session, error)
}

// RouteOptions derives the options each /auth route is mounted with
func RouteOptions(cfg config.Config) (login, acquire, logout authflow.Options) {
	login = authflow.Options{
		Scopes:          cfg.Routes.LoginScopes,
		RedirectURI:     cfg.Identity.RedirectURI,
		SuccessRedirect: authflow.DefaultSuccessRedirect,
	}
	acquire = authflow.Options{
		Scopes:          cfg.Routes.AcquireTokenScopes,
		RedirectURI:     cfg.Identity.RedirectURI,
		SuccessRedirect: cfg.Routes.AcquireTokenSuccessRedirect,
	}
	logout = authflow.Options{
		PostLogoutRedirectURI: cfg.Identity.PostLogoutRedirectURI,
	}
	return login, acquire, logout
}

// NewRouter mounts the authentication routes, the guarded profile,
// and the public health and metrics endpoints
func NewRouter(cfg config.Config, ctrl *authflow.Controller, sessions SessionLoader, m *metrics.Metrics, checks ...HealthChecker) http.Handler {
	login, acquire, logout := RouteOptions(cfg)

	mux := http.NewServeMux()
	mux.Handle("GET /health", NewHealthHandler(checks...))
	mux.Handle("GET /metrics", m.Handler())

	mux.Handle("GET /auth/signin", ctrl.Login(login))
	mux.Handle("GET /auth/login", ctrl.Login(login))
	mux.Handle("POST /auth/redirect", ctrl.HandleRedirect())
	mux.Handle("GET /auth/acquireToken", ctrl.RequireAuth(ctrl.AcquireToken(acquire)))
	mux.Handle("GET /auth/signout", ctrl.Logout(logout))
	mux.Handle("GET /auth/logout", ctrl.Logout(logout))

	mux.Handle("GET /user/profile", ctrl.RequireAuth(http.HandlerFunc(ProfileHandler)))
	mux.Handle("GET /{$}", IndexHandler(sessions))

	return ChainMiddleware(mux,
		NewRecoverMiddleware("http"),
		NewLoggerMiddleware("http"),
	)
}

type profileResponse struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	TenantID string `json:"tenantId"`
	Domain   string `json:"domain,omitempty"`
}

// ProfileHandler renders the signed-in account. It must run behind RequireAuth.
func ProfileHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		jsonwriter.WriteError(w, http.StatusUnauthorized, jsonwriter.ErrorResponse{Message: "Not signed in"})
		return
	}
	account := s.CurrentAccount()
	_ = jsonwriter.Write(w, profileResponse{
		Username: account.Username,
		Name:     account.Name,
		TenantID: account.TenantID,
		Domain:   account.Domain(),
	})
}

// IndexHandler reports whether the caller is signed in
func IndexHandler(sessions SessionLoader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessions.Load(r)
		if err != nil {
			log.LogErrorCtx(r.Context(), "http", "Failed to load session", map[string]any{"error": err.Error()})
			jsonwriter.WriteError(w, http.StatusServiceUnavailable, jsonwriter.ErrorResponse{
				Message:   "Session storage unavailable",
				RequestID: log.RequestID(r.Context()),
			})
			return
		}
		resp := map[string]any{"authenticated": s.IsAuthenticated}
		if s.IsAuthenticated {
			resp["username"] = s.CurrentAccount().Username
		}
		_ = jsonwriter.Write(w, resp)
	}
}
