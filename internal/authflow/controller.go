package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/docsite/internal/idp"
	"github.com/dgellow/docsite/internal/log"
	"github.com/dgellow/docsite/internal/metadata"
	"github.com/dgellow/docsite/internal/metrics"
	"github.com/dgellow/docsite/internal/pkce"
	"github.com/dgellow/docsite/internal/session"
	"github.com/dgellow/docsite/internal/urlutil"
	"github.com/ory/fosite"
)

const (
	// DefaultRedirectURI is where the provider posts the callback
	DefaultRedirectURI = "/auth/redirect"
	// DefaultSuccessRedirect is where the user lands after signing in
	DefaultSuccessRedirect = "/"
	// LoginPath is where RequireAuth sends anonymous users
	LoginPath = "/auth/login"

	defaultTimeout = 10 * time.Second
)

// Operation names used in logs and metrics
const (
	opLogin          = "login"
	opHandleRedirect = "handle_redirect"
	opAcquireToken   = "acquire_token"
	opLogout         = "logout"
)

// SessionStore loads and persists sessions. *session.Manager implements it.
type SessionStore interface {
	Load(r *http.Request) (*session.Session, error)
	Save(ctx context.Context, w http.ResponseWriter, s *session.Session) error
	Regenerate(ctx context.Context, s *session.Session) error
	Destroy(ctx context.Context, w http.ResponseWriter, s *session.Session) error
}

// MetadataSource returns provider metadata. *metadata.Cache implements it.
type MetadataSource interface {
	Ensure(ctx context.Context, authority string) (metadata.Documents, error)
}

// StateCodec encodes the opaque state. *pkce.StateCodec implements it.
type StateCodec interface {
	Encode(s pkce.State) (string, error)
	Decode(token string) (pkce.State, error)
}

// Deps are the collaborators of the Controller
type Deps struct {
	Sessions  SessionStore
	Metadata  MetadataSource
	Providers idp.ClientFactory
	PKCE      pkce.Generator
	States    StateCodec
	Errors    ErrorRenderer
	Metrics   *metrics.Metrics

	// Authority is the tenant authority URL, e.g. https://login.microsoftonline.com/<tenant>
	Authority string
	// Timeout bounds each outbound provider or metadata call
	Timeout time.Duration
}

// Options configure one mounted flow endpoint
type Options struct {
	Scopes                []string
	RedirectURI           string
	SuccessRedirect       string
	PostLogoutRedirectURI string
}

func (o Options) withDefaults() Options {
	if o.RedirectURI == "" {
		o.RedirectURI = DefaultRedirectURI
	}
	if o.SuccessRedirect == "" {
		o.SuccessRedirect = DefaultSuccessRedirect
	}
	return o
}

// Controller runs the authorization code flow with PKCE:
// Anonymous -> AwaitingCallback (Login) -> Authenticated (HandleRedirect) -> Anonymous (Logout).
// AcquireToken restarts Login when the provider asks for interaction.
type Controller struct {
	deps Deps
}

// New validates deps and creates a Controller
func New(deps Deps) (*Controller, error) {
	switch {
	case deps.Sessions == nil:
		return nil, fmt.Errorf("sessions are required")
	case deps.Metadata == nil:
		return nil, fmt.Errorf("metadata source is required")
	case deps.Providers == nil:
		return nil, fmt.Errorf("provider factory is required")
	case deps.PKCE == nil:
		return nil, fmt.Errorf("pkce generator is required")
	case deps.States == nil:
		return nil, fmt.Errorf("state codec is required")
	case deps.Errors == nil:
		return nil, fmt.Errorf("error renderer is required")
	}
	if u, err := url.Parse(deps.Authority); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("authority must be an absolute URL")
	}
	deps.Authority = strings.TrimRight(deps.Authority, "/")
	if deps.Timeout <= 0 {
		deps.Timeout = defaultTimeout
	}
	return &Controller{deps: deps}, nil
}

func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.deps.Timeout)
}

func (c *Controller) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	c.deps.Metrics.RecordAuthFlow(op, metrics.OutcomeError)
	log.LogErrorCtx(r.Context(), "authflow", "Authentication step failed", map[string]any{
		"operation": op,
		"error":     err.Error(),
	})
	c.deps.Errors.RenderError(w, r, err)
}

// providerClient builds a request-scoped client with the session's token cache loaded
func (c *Controller) providerClient(ctx context.Context, s *session.Session) (idp.Client, error) {
	docs, err := c.deps.Metadata.Ensure(ctx, c.deps.Authority)
	if err != nil {
		return nil, stepError("fetching provider metadata", err)
	}
	client, err := c.deps.Providers.NewClient(ctx, docs)
	if err != nil {
		return nil, stepError("creating provider client", err)
	}
	if s.TokenCache != "" {
		if err := client.TokenCache().Deserialize(s.TokenCache); err != nil {
			return nil, stepError("restoring token cache", err)
		}
	}
	return client, nil
}

// Login starts the flow: it records PKCE material in the session and
// redirects to the provider's authorization endpoint
func (c *Controller) Login(opts Options) http.HandlerFunc {
	opts = opts.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.login(w, r, opts); err != nil {
			c.fail(w, r, opLogin, err)
			return
		}
		c.deps.Metrics.RecordAuthFlow(opLogin, metrics.OutcomeSuccess)
	}
}

func (c *Controller) login(w http.ResponseWriter, r *http.Request, opts Options) error {
	ctx, cancel := c.withTimeout(r.Context())
	defer cancel()

	s, err := c.deps.Sessions.Load(r)
	if err != nil {
		return err
	}

	state, err := c.deps.States.Encode(pkce.State{SuccessRedirect: opts.SuccessRedirect})
	if err != nil {
		return err
	}

	docs, err := c.deps.Metadata.Ensure(ctx, c.deps.Authority)
	if err != nil {
		return stepError("fetching provider metadata", err)
	}

	codes, err := c.deps.PKCE.Generate()
	if err != nil {
		return stepError("generating pkce codes", err)
	}

	redirectURI := urlutil.Resolve(r, opts.RedirectURI)
	urlReq := idp.AuthCodeURLRequest{
		State:               state,
		Scopes:              opts.Scopes,
		RedirectURI:         redirectURI,
		ResponseMode:        idp.ResponseModeFormPost,
		CodeChallenge:       codes.Challenge,
		CodeChallengeMethod: codes.ChallengeMethod,
	}
	s.BeginLogin(codes, urlReq, idp.AuthCodeRequest{
		State:       state,
		Scopes:      opts.Scopes,
		RedirectURI: redirectURI,
	})
	if err := c.deps.Sessions.Save(ctx, w, s); err != nil {
		return err
	}

	client, err := c.deps.Providers.NewClient(ctx, docs)
	if err != nil {
		return stepError("creating provider client", err)
	}
	authURL, err := client.AuthCodeURL(ctx, urlReq)
	if err != nil {
		return err
	}

	log.LogInfoCtx(r.Context(), "authflow", "Redirecting to identity provider", map[string]any{
		"scopes":      opts.Scopes,
		"redirectUri": redirectURI,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleRedirect completes the flow from the provider's form_post callback
func (c *Controller) HandleRedirect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.handleRedirect(w, r); err != nil {
			c.fail(w, r, opHandleRedirect, err)
			return
		}
		c.deps.Metrics.RecordAuthFlow(opHandleRedirect, metrics.OutcomeSuccess)
	}
}

func (c *Controller) handleRedirect(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return badRequest(ErrResponseNotFound)
	}
	callback := r.PostForm

	state := callback.Get("state")
	if state == "" {
		return badRequest(ErrResponseNotFound)
	}
	if err := idp.CallbackError(callback); err != nil {
		return err
	}
	code := callback.Get("code")
	if code == "" {
		return badRequest(ErrResponseNotFound)
	}

	ctx, cancel := c.withTimeout(r.Context())
	defer cancel()

	s, err := c.deps.Sessions.Load(r)
	if err != nil {
		return err
	}

	req, ok := s.PendingLogin()
	if !ok {
		return badRequest(ErrStateMismatch)
	}
	if state != req.State {
		return fosite.ErrInvalidState.WithHint("The callback state does not belong to this session.")
	}
	decoded, err := c.deps.States.Decode(state)
	if err != nil {
		return fosite.ErrInvalidState.WithWrap(err).WithHint("The callback state could not be verified.")
	}

	client, err := c.providerClient(ctx, s)
	if err != nil {
		return err
	}

	req.Code = code
	result, err := client.AcquireTokenByCode(ctx, req, callback)
	if err != nil {
		return err
	}

	tokenCache, err := client.TokenCache().Serialize()
	if err != nil {
		return err
	}
	s.CompleteLogin(tokenCache, result)

	if err := c.deps.Sessions.Regenerate(ctx, s); err != nil {
		return err
	}
	if err := c.deps.Sessions.Save(ctx, w, s); err != nil {
		return err
	}

	log.LogInfoCtx(r.Context(), "authflow", "User signed in", map[string]any{
		"account": result.Account.HomeAccountID,
	})
	http.Redirect(w, r, decoded.SuccessRedirect, http.StatusFound)
	return nil
}

// AcquireToken refreshes the session's access token without user interaction.
// When the provider requires interaction it behaves exactly like Login(opts).
func (c *Controller) AcquireToken(opts Options) http.HandlerFunc {
	opts = opts.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := c.acquireToken(w, r, opts)
		if err != nil {
			c.fail(w, r, opAcquireToken, err)
			return
		}
		c.deps.Metrics.RecordAuthFlow(opAcquireToken, outcome)
	}
}

func (c *Controller) acquireToken(w http.ResponseWriter, r *http.Request, opts Options) (string, error) {
	ctx, cancel := c.withTimeout(r.Context())
	defer cancel()

	s, err := c.deps.Sessions.Load(r)
	if err != nil {
		return "", err
	}

	client, err := c.providerClient(ctx, s)
	if err != nil {
		return "", err
	}

	result := client.AcquireTokenSilent(ctx, s.CurrentAccount(), opts.Scopes)
	switch result.Status {
	case idp.SilentSuccess:
		tokenCache, err := client.TokenCache().Serialize()
		if err != nil {
			return "", err
		}
		s.RecordSilentToken(tokenCache, result.Token)
		if err := c.deps.Sessions.Save(ctx, w, s); err != nil {
			return "", err
		}
		http.Redirect(w, r, opts.SuccessRedirect, http.StatusFound)
		return metrics.OutcomeSuccess, nil

	case idp.SilentInteractionRequired:
		fields := map[string]any{}
		if result.Err != nil {
			fields["reason"] = result.Err.Error()
		}
		log.LogInfoCtx(r.Context(), "authflow", "Interaction required, restarting login", fields)
		if err := c.login(w, r, opts); err != nil {
			return "", err
		}
		return metrics.OutcomeInteractionRequired, nil

	default:
		if result.Err == nil {
			return "", errors.New("silent token acquisition failed")
		}
		return "", result.Err
	}
}

// Logout destroys the session and redirects to the provider's logout endpoint.
// Failing to destroy the session is logged and does not change the redirect.
func (c *Controller) Logout(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := c.withTimeout(r.Context())
		defer cancel()

		s, err := c.deps.Sessions.Load(r)
		if err != nil {
			log.LogWarnCtx(r.Context(), "authflow", "Could not load session during logout", map[string]any{"error": err.Error()})
			s = nil
		}
		if err := c.deps.Sessions.Destroy(ctx, w, s); err != nil {
			log.LogErrorCtx(r.Context(), "authflow", "Failed to destroy session during logout", map[string]any{"error": err.Error()})
		}

		c.deps.Metrics.RecordAuthFlow(opLogout, metrics.OutcomeSuccess)
		http.Redirect(w, r, LogoutURL(c.deps.Authority, opts.PostLogoutRedirectURI), http.StatusFound)
	}
}

// LogoutURL returns <authority>/oauth2/v2.0/ or, when postLogoutRedirectURI is set,
// <authority>/oauth2/v2.0/logout?post_logout_redirect_uri=<escaped>
func LogoutURL(authority, postLogoutRedirectURI string) string {
	base, err := urlutil.JoinPath(authority, "oauth2", "v2.0/")
	if err != nil {
		base = strings.TrimRight(authority, "/") + "/oauth2/v2.0/"
	}
	if postLogoutRedirectURI == "" {
		return base
	}
	return base + "logout?post_logout_redirect_uri=" + url.QueryEscape(postLogoutRedirectURI)
}

// RequireAuth lets authenticated sessions through and redirects everyone else to LoginPath.
// The loaded session is made available to next through session.FromContext.
func (c *Controller) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := c.deps.Sessions.Load(r)
		if err != nil {
			c.deps.Errors.RenderError(w, r, err)
			return
		}
		if !s.IsAuthenticated {
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
	})
}
