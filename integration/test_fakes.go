package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	fakeTenant   = "tenant-abc"
	fakeClientID = "client-123"
)

// FakeAzureADServer simulates the Microsoft identity platform endpoints the
// auth flow talks to: instance discovery, OpenID metadata, authorize and token.
type FakeAzureADServer struct {
	*httptest.Server

	mu             sync.Mutex
	challenges     map[string]string // code -> PKCE challenge
	codeSeq        int
	expiresIn      int
	revokeRefresh  bool
	discoveryCalls int
	metadataCalls  int
	exchangeCalls  int
	refreshCalls   int
	refreshScope   string
}

// authorizeResponse stands in for the auto-submitting form_post page
type authorizeResponse struct {
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state"`
	Code        string `json:"code"`
}

// NewFakeAzureADServer starts the fake on a random local port
func NewFakeAzureADServer(expiresIn int) *FakeAzureADServer {
	f := &FakeAzureADServer{
		challenges: make(map[string]string),
		expiresIn:  expiresIn,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /common/discovery/instance", f.discovery)
	mux.HandleFunc("GET /{tenant}/v2.0/.well-known/openid-configuration", f.metadata)
	mux.HandleFunc("GET /{tenant}/oauth2/v2.0/authorize", f.authorize)
	mux.HandleFunc("POST /{tenant}/oauth2/v2.0/token", f.token)

	f.Server = httptest.NewServer(mux)
	return f
}

func (f *FakeAzureADServer) authority() string {
	return f.URL + "/" + fakeTenant
}

// RevokeRefreshTokens makes every refresh grant fail with invalid_grant
func (f *FakeAzureADServer) RevokeRefreshTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeRefresh = true
}

// LastRefreshScope returns the scope parameter of the latest refresh grant
func (f *FakeAzureADServer) LastRefreshScope() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshScope
}

// Calls returns discovery, metadata, exchange and refresh call counts
func (f *FakeAzureADServer) Calls() (discovery, metadata, exchange, refresh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoveryCalls, f.metadataCalls, f.exchangeCalls, f.refreshCalls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *FakeAzureADServer) discovery(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.discoveryCalls++
	f.mu.Unlock()

	if r.URL.Query().Get("api-version") != "1.1" || r.URL.Query().Get("authorization_endpoint") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_discovery_endpoint": f.authority() + "/v2.0/.well-known/openid-configuration",
		"api-version":               "1.1",
		"metadata":                  []any{},
	})
}

func (f *FakeAzureADServer) metadata(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.metadataCalls++
	f.mu.Unlock()

	tenant := r.PathValue("tenant")
	base := f.URL + "/" + tenant
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                 base + "/v2.0",
		"authorization_endpoint": base + "/oauth2/v2.0/authorize",
		"token_endpoint":         base + "/oauth2/v2.0/token",
		"end_session_endpoint":   base + "/oauth2/v2.0/logout",
	})
}

func (f *FakeAzureADServer) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("client_id") != fakeClientID,
		q.Get("response_type") != "code",
		q.Get("response_mode") != "form_post",
		q.Get("code_challenge_method") != "S256",
		q.Get("code_challenge") == "",
		q.Get("redirect_uri") == "":
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	f.mu.Lock()
	f.codeSeq++
	code := fmt.Sprintf("code-%d", f.codeSeq)
	f.challenges[code] = q.Get("code_challenge")
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, authorizeResponse{
		RedirectURI: q.Get("redirect_uri"),
		State:       q.Get("state"),
		Code:        code,
	})
}

func (f *FakeAzureADServer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") != fakeClientID || r.PostForm.Get("client_secret") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.exchangeCalls++
		code := r.PostForm.Get("code")
		challenge, ok := f.challenges[code]
		delete(f.challenges, code)
		if !ok || oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "AADSTS70008: The provided authorization code or refresh token has expired or was already redeemed.",
			})
			return
		}
		f.writeTokens(w, fmt.Sprintf("access-%s", code))

	case "refresh_token":
		f.refreshCalls++
		f.refreshScope = r.PostForm.Get("scope")
		if f.revokeRefresh || r.PostForm.Get("refresh_token") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "AADSTS50173: The provided grant has expired due to it being revoked.",
			})
			return
		}
		f.writeTokens(w, fmt.Sprintf("access-refreshed-%d", f.refreshCalls))

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (f *FakeAzureADServer) writeTokens(w http.ResponseWriter, accessToken string) {
	now := time.Now()
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":                f.authority() + "/v2.0",
		"aud":                fakeClientID,
		"sub":                "subject-1",
		"oid":                "object-1",
		"tid":                fakeTenant,
		"preferred_username": "ada@contoso.com",
		"name":               "Ada Lovelace",
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	}).SignedString([]byte("fake-signing-key"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token_type":    "Bearer",
		"scope":         "User.Read profile openid email",
		"expires_in":    f.expiresIn,
		"access_token":  accessToken,
		"refresh_token": "refresh-" + accessToken,
		"id_token":      idToken,
	})
}
