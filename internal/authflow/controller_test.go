package authflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dgellow/docsite/internal/crypto"
	"github.com/dgellow/docsite/internal/idp"
	"github.com/dgellow/docsite/internal/metadata"
	"github.com/dgellow/docsite/internal/metrics"
	"github.com/dgellow/docsite/internal/pkce"
	"github.com/dgellow/docsite/internal/session"
	"github.com/dgellow/docsite/internal/storage"
	"github.com/dgellow/docsite/internal/testutil"
	"github.com/ory/fosite"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testAuthority = "https://login.example.com/tenant-abc"
	providerURL   = "https://login.example.com/tenant-abc/oauth2/v2.0/authorize?client_id=abc"

	authorityJSON = `{
		"issuer": "https://login.example.com/tenant-abc/v2.0",
		"authorization_endpoint": "https://login.example.com/tenant-abc/oauth2/v2.0/authorize",
		"token_endpoint": "https://login.example.com/tenant-abc/oauth2/v2.0/token"
	}`
	cloudJSON = `{"tenant_discovery_endpoint":"https://login.example.com/tenant-abc/v2.0/.well-known/openid-configuration"}`
)

var testAccount = idp.Account{
	HomeAccountID:  "oid-1.tenant-abc",
	LocalAccountID: "oid-1",
	TenantID:       "tenant-abc",
	Username:       "ada@example.com",
	Name:           "Ada",
	Environment:    "login.example.com",
}

type harness struct {
	ctrl     *Controller
	sessions *session.Manager
	store    *storage.MemoryStore
	fetcher  *testutil.MockMetadataFetcher
	metadata *metadata.Cache
	factory  *testutil.MockClientFactory
	client   *testutil.MockIDPClient
	states   *pkce.StateCodec
	metrics  *metrics.Metrics
	rendered []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	encryptor, err := crypto.NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	h := &harness{
		store:   storage.NewMemoryStore(time.Hour, time.Minute),
		fetcher: &testutil.MockMetadataFetcher{},
		factory: &testutil.MockClientFactory{},
		client:  testutil.NewMockIDPClient(),
		states:  pkce.NewStateCodec([]byte("state-signing-key-state-signing!")),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	h.sessions = session.NewManager(h.store, encryptor, time.Hour)
	h.metadata = metadata.NewCache(h.fetcher, h.metrics)

	h.fetcher.On("Get", mock.Anything, mock.MatchedBy(func(u string) bool {
		return strings.Contains(u, "discovery/instance")
	}), mock.Anything).Return([]byte(cloudJSON), nil).Maybe()
	h.fetcher.On("Get", mock.Anything, mock.MatchedBy(func(u string) bool {
		return strings.Contains(u, "openid-configuration")
	}), mock.Anything).Return([]byte(authorityJSON), nil).Maybe()
	h.factory.On("NewClient", mock.Anything, mock.Anything).Return(h.client, nil).Maybe()

	h.ctrl, err = New(Deps{
		Sessions:  h.sessions,
		Metadata:  h.metadata,
		Providers: h.factory,
		PKCE:      pkce.S256Generator{},
		States:    h.states,
		Errors: ErrorRendererFunc(func(w http.ResponseWriter, r *http.Request, err error) {
			h.rendered = append(h.rendered, err)
			status := http.StatusInternalServerError
			var coded interface{ StatusCode() int }
			if errors.As(err, &coded) {
				status = coded.StatusCode()
			}
			http.Error(w, err.Error(), status)
		}),
		Metrics:   h.metrics,
		Authority: testAuthority,
		Timeout:   time.Second,
	})
	require.NoError(t, err)
	return h
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "docsite_session" && c.MaxAge >= 0 {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func (h *harness) loadSession(t *testing.T, c *http.Cookie) *session.Session {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(c)
	s, err := h.sessions.Load(r)
	require.NoError(t, err)
	return s
}

// authenticatedCookie stores a signed-in session and returns its cookie
func (h *harness) authenticatedCookie(t *testing.T) *http.Cookie {
	t.Helper()
	s, err := h.sessions.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	s.IsAuthenticated = true
	account := testAccount
	s.Account = &account
	s.AccessToken = "stale-access"

	w := httptest.NewRecorder()
	require.NoError(t, h.sessions.Save(context.Background(), w, s))
	return sessionCookie(t, w)
}

func (h *harness) login(t *testing.T, opts Options) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	h.client.On("AuthCodeURL", mock.Anything, mock.AnythingOfType("idp.AuthCodeURLRequest")).Return(providerURL, nil).Maybe()

	w := httptest.NewRecorder()
	h.ctrl.Login(opts).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	return w, sessionCookie(t, w)
}

func callbackRequest(form url.Values, c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/auth/redirect", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c != nil {
		r.AddCookie(c)
	}
	return r
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	h := newHarness(t)
	deps := h.ctrl.deps
	deps.Authority = "not-a-url"
	_, err = New(deps)
	assert.ErrorContains(t, err, "authority")
}

func TestLogin_FetchesMetadataConcurrentlyOnceThenRedirects(t *testing.T) {
	h := newHarness(t)

	w, _ := h.login(t, Options{Scopes: []string{"User.Read"}})
	assert.Equal(t, providerURL, w.Header().Get("Location"))
	h.fetcher.AssertNumberOfCalls(t, "Get", 2)

	// Cached metadata is reused by later logins
	h.login(t, Options{Scopes: []string{"User.Read"}})
	h.fetcher.AssertNumberOfCalls(t, "Get", 2)

	assert.Equal(t, 2.0, promtest.ToFloat64(h.metrics.AuthFlow.WithLabelValues(opLogin, metrics.OutcomeSuccess)))
}

func TestLogin_RecordsStateAndPKCEInSession(t *testing.T) {
	h := newHarness(t)

	_, cookie := h.login(t, Options{Scopes: []string{"User.Read"}, SuccessRedirect: "/home"})
	s := h.loadSession(t, cookie)

	wantState, err := h.states.Encode(pkce.State{SuccessRedirect: "/home"})
	require.NoError(t, err)

	require.NotNil(t, s.PKCECodes)
	require.NotNil(t, s.AuthCodeURLRequest)
	require.NotNil(t, s.AuthCodeRequest)
	assert.Equal(t, wantState, s.AuthCodeURLRequest.State)
	assert.Equal(t, wantState, s.AuthCodeRequest.State)
	assert.Equal(t, idp.ResponseModeFormPost, s.AuthCodeURLRequest.ResponseMode)
	assert.Equal(t, "http://example.com/auth/redirect", s.AuthCodeURLRequest.RedirectURI)
	assert.Equal(t, s.PKCECodes.Challenge, s.AuthCodeURLRequest.CodeChallenge)
	assert.Equal(t, pkce.MethodS256, s.AuthCodeURLRequest.CodeChallengeMethod)
	assert.False(t, s.IsAuthenticated)

	h.client.AssertCalled(t, "AuthCodeURL", mock.Anything, *s.AuthCodeURLRequest)
}

func TestLogin_MetadataFailure(t *testing.T) {
	h := newHarness(t)
	h.fetcher.ExpectedCalls = nil
	h.fetcher.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("network down"))

	w := httptest.NewRecorder()
	h.ctrl.Login(Options{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	require.Len(t, h.rendered, 1)
	assert.ErrorContains(t, h.rendered[0], "network down")
	h.factory.AssertNotCalled(t, "NewClient", mock.Anything, mock.Anything)
}

func TestHandleRedirect_Success(t *testing.T) {
	h := newHarness(t)
	_, cookie := h.login(t, Options{Scopes: []string{"User.Read"}, SuccessRedirect: "/home"})
	pending := h.loadSession(t, cookie)
	verifier := pending.PKCECodes.Verifier

	state, err := h.states.Encode(pkce.State{SuccessRedirect: "/home"})
	require.NoError(t, err)

	h.client.On("AcquireTokenByCode", mock.Anything, mock.MatchedBy(func(req idp.AuthCodeRequest) bool {
		return req.Code == "abc" && req.CodeVerifier == verifier && req.State == state
	}), mock.Anything).Run(func(mock.Arguments) {
		h.client.Cache.Store(idp.CacheEntry{
			Account: testAccount,
			Token:   idp.CachedToken{AccessToken: "access", RefreshToken: "refresh", ExpiresOn: time.Now().Add(time.Hour)},
		})
	}).Return(&idp.TokenResult{AccessToken: "access", IDToken: "id-token", Account: testAccount}, nil)

	w := httptest.NewRecorder()
	h.ctrl.HandleRedirect().ServeHTTP(w, callbackRequest(url.Values{"state": {state}, "code": {"abc"}}, cookie))

	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, "/home", w.Header().Get("Location"))

	fresh := sessionCookie(t, w)
	assert.NotEqual(t, cookie.Value, fresh.Value, "session id is regenerated on sign-in")
	_, err = h.store.GetSession(context.Background(), cookie.Value)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	s := h.loadSession(t, fresh)
	assert.True(t, s.IsAuthenticated)
	assert.Equal(t, "id-token", s.IDToken)
	assert.Equal(t, "access", s.AccessToken)
	assert.Equal(t, testAccount, s.CurrentAccount())
	assert.Nil(t, s.PKCECodes)
	assert.Nil(t, s.AuthCodeRequest)

	restored := idp.NewTokenCache()
	require.NoError(t, restored.Deserialize(s.TokenCache))
	entry, ok := restored.Lookup(testAccount.HomeAccountID)
	require.True(t, ok)
	assert.Equal(t, "refresh", entry.Token.RefreshToken)
}

func TestHandleRedirect_MissingStateOrCode(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{name: "empty body", form: url.Values{}},
		{name: "missing state", form: url.Values{"code": {"abc"}}},
		{name: "missing code", form: url.Values{"state": {"xyz"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			w := httptest.NewRecorder()
			h.ctrl.HandleRedirect().ServeHTTP(w, callbackRequest(tt.form, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			require.Len(t, h.rendered, 1)
			assert.ErrorIs(t, h.rendered[0], ErrResponseNotFound)
			h.fetcher.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
			h.factory.AssertNotCalled(t, "NewClient", mock.Anything, mock.Anything)
		})
	}
}

func TestHandleRedirect_ProviderErrorInCallback(t *testing.T) {
	h := newHarness(t)

	w := httptest.NewRecorder()
	form := url.Values{"state": {"xyz"}, "error": {"access_denied"}, "error_description": {"user cancelled"}}
	h.ctrl.HandleRedirect().ServeHTTP(w, callbackRequest(form, nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	require.Len(t, h.rendered, 1)
	var perr *idp.ProviderError
	require.ErrorAs(t, h.rendered[0], &perr)
	assert.Equal(t, "access_denied", perr.Code)
	h.factory.AssertNotCalled(t, "NewClient", mock.Anything, mock.Anything)
}

func TestHandleRedirect_NoLoginInProgress(t *testing.T) {
	h := newHarness(t)
	cookie := h.authenticatedCookie(t)

	w := httptest.NewRecorder()
	h.ctrl.HandleRedirect().ServeHTTP(w, callbackRequest(url.Values{"state": {"xyz"}, "code": {"abc"}}, cookie))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, h.rendered, 1)
	assert.ErrorIs(t, h.rendered[0], ErrStateMismatch)
	h.client.AssertNotCalled(t, "AcquireTokenByCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleRedirect_StateMismatch(t *testing.T) {
	h := newHarness(t)
	_, cookie := h.login(t, Options{SuccessRedirect: "/home"})

	other, err := h.states.Encode(pkce.State{SuccessRedirect: "/elsewhere"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ctrl.HandleRedirect().ServeHTTP(w, callbackRequest(url.Values{"state": {other}, "code": {"abc"}}, cookie))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, h.rendered, 1)
	var rfcErr *fosite.RFC6749Error
	require.ErrorAs(t, h.rendered[0], &rfcErr)
	assert.Equal(t, fosite.ErrInvalidState.ErrorField, rfcErr.ErrorField)
	h.client.AssertNotCalled(t, "AcquireTokenByCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleRedirect_ExchangeFailureLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	_, cookie := h.login(t, Options{SuccessRedirect: "/home"})
	state := h.loadSession(t, cookie).AuthCodeRequest.State

	h.client.On("AcquireTokenByCode", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &idp.ProviderError{Code: "invalid_grant", Description: "code expired", Status: http.StatusBadRequest})

	w := httptest.NewRecorder()
	h.ctrl.HandleRedirect().ServeHTTP(w, callbackRequest(url.Values{"state": {state}, "code": {"abc"}}, cookie))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Location"))

	s := h.loadSession(t, cookie)
	assert.False(t, s.IsAuthenticated)
	assert.Empty(t, s.TokenCache)
	assert.NotNil(t, s.PKCECodes, "a failed exchange keeps the pending login")
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.AuthFlow.WithLabelValues(opHandleRedirect, metrics.OutcomeError)))
}

func TestAcquireToken_SilentSuccess(t *testing.T) {
	h := newHarness(t)
	cookie := h.authenticatedCookie(t)

	h.client.On("AcquireTokenSilent", mock.Anything, testAccount, []string{"User.Read"}).
		Return(idp.SilentOK(&idp.TokenResult{AccessToken: "fresh-access", Account: testAccount}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/acquireToken", nil)
	r.AddCookie(cookie)
	h.ctrl.AcquireToken(Options{Scopes: []string{"User.Read"}, SuccessRedirect: "/user/profile"}).ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, "/user/profile", w.Header().Get("Location"))
	assert.Equal(t, "fresh-access", h.loadSession(t, cookie).AccessToken)
}

func TestAcquireToken_InteractionRequiredRestartsLogin(t *testing.T) {
	h := newHarness(t)
	cookie := h.authenticatedCookie(t)

	h.client.On("AcquireTokenSilent", mock.Anything, testAccount, []string{"User.Read"}).
		Return(idp.SilentNeedsInteraction(&idp.ProviderError{Code: "interaction_required", Status: http.StatusBadRequest}))
	h.client.On("AuthCodeURL", mock.Anything, mock.Anything).Return(providerURL, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/acquireToken", nil)
	r.AddCookie(cookie)
	h.ctrl.AcquireToken(Options{Scopes: []string{"User.Read"}, SuccessRedirect: "/user/profile"}).ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, providerURL, w.Header().Get("Location"))
	assert.Empty(t, h.rendered)

	s := h.loadSession(t, cookie)
	require.NotNil(t, s.AuthCodeURLRequest)
	want, err := h.states.Encode(pkce.State{SuccessRedirect: "/user/profile"})
	require.NoError(t, err)
	assert.Equal(t, want, s.AuthCodeURLRequest.State)
	assert.Equal(t, []string{"User.Read"}, s.AuthCodeURLRequest.Scopes)
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.AuthFlow.WithLabelValues(opAcquireToken, metrics.OutcomeInteractionRequired)))
}

func TestAcquireToken_OtherFailureIsForwarded(t *testing.T) {
	h := newHarness(t)
	cookie := h.authenticatedCookie(t)

	h.client.On("AcquireTokenSilent", mock.Anything, testAccount, []string{"User.Read"}).
		Return(idp.SilentFailed(&idp.ProviderError{Code: "server_error", Status: http.StatusBadGateway}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/acquireToken", nil)
	r.AddCookie(cookie)
	h.ctrl.AcquireToken(Options{Scopes: []string{"User.Read"}}).ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	require.Len(t, h.rendered, 1)
	h.client.AssertNotCalled(t, "AuthCodeURL", mock.Anything, mock.Anything)
	assert.Equal(t, "stale-access", h.loadSession(t, cookie).AccessToken)
}

// failingDestroy wraps a SessionStore whose Destroy always fails
type failingDestroy struct {
	SessionStore
}

func (failingDestroy) Destroy(context.Context, http.ResponseWriter, *session.Session) error {
	return errors.New("store unavailable")
}

func TestLogout(t *testing.T) {
	t.Run("without post logout redirect", func(t *testing.T) {
		h := newHarness(t)
		cookie := h.authenticatedCookie(t)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
		r.AddCookie(cookie)
		h.ctrl.Logout(Options{}).ServeHTTP(w, r)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, testAuthority+"/oauth2/v2.0/", w.Header().Get("Location"))
		assert.Equal(t, 0, h.store.Count())
	})

	t.Run("destroy failure yields the same redirect", func(t *testing.T) {
		opts := Options{PostLogoutRedirectURI: "https://docs.example.com/signed-out?a=1"}

		ok := newHarness(t)
		wOK := httptest.NewRecorder()
		ok.ctrl.Logout(opts).ServeHTTP(wOK, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))

		failing := newHarness(t)
		failing.ctrl.deps.Sessions = failingDestroy{failing.sessions}
		wFail := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
		r.AddCookie(failing.authenticatedCookie(t))
		failing.ctrl.Logout(opts).ServeHTTP(wFail, r)

		assert.Equal(t, http.StatusFound, wFail.Code)
		assert.Equal(t, wOK.Header().Get("Location"), wFail.Header().Get("Location"))
		assert.Empty(t, failing.rendered)
	})
}

func TestLogoutURL(t *testing.T) {
	assert.Equal(t, testAuthority+"/oauth2/v2.0/", LogoutURL(testAuthority, ""))
	assert.Equal(t, testAuthority+"/oauth2/v2.0/", LogoutURL(testAuthority+"/", ""))
	assert.Equal(t,
		testAuthority+"/oauth2/v2.0/logout?post_logout_redirect_uri=https%3A%2F%2Fdocs.example.com%2F",
		LogoutURL(testAuthority, "https://docs.example.com/"))
}

func TestRequireAuth(t *testing.T) {
	h := newHarness(t)

	var seen *session.Session
	protected := h.ctrl.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = session.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous is redirected to login", func(t *testing.T) {
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/profile", nil))
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, LoginPath, w.Header().Get("Location"))
		assert.Nil(t, seen)
	})

	t.Run("authenticated passes with session in context", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/user/profile", nil)
		r.AddCookie(h.authenticatedCookie(t))
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		require.NotNil(t, seen)
		assert.Equal(t, testAccount, seen.CurrentAccount())
	})
}
