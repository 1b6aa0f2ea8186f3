package idp

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// ResponseModeFormPost makes the provider POST the callback parameters
const ResponseModeFormPost = "form_post"

// Account identifies the signed-in user. It is read from the ID token
// for display and cache lookup only.
type Account struct {
	HomeAccountID  string `json:"homeAccountId"`
	LocalAccountID string `json:"localAccountId"`
	TenantID       string `json:"tenantId"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	Environment    string `json:"environment,omitempty"`
}

// IsZero reports whether no account is set
func (a Account) IsZero() bool {
	return a.HomeAccountID == ""
}

// Domain returns the domain part of the username, or "" when it is not an email
func (a Account) Domain() string {
	_, domain, ok := strings.Cut(a.Username, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return strings.ToLower(domain)
}

// AuthCodeURLRequest holds the parameters of an authorization URL
type AuthCodeURLRequest struct {
	State               string   `json:"state"`
	Scopes              []string `json:"scopes"`
	RedirectURI         string   `json:"redirectUri"`
	ResponseMode        string   `json:"responseMode"`
	CodeChallenge       string   `json:"codeChallenge"`
	CodeChallengeMethod string   `json:"codeChallengeMethod"`
}

// AuthCodeRequest holds the parameters of a code exchange
type AuthCodeRequest struct {
	State        string   `json:"state"`
	Scopes       []string `json:"scopes"`
	RedirectURI  string   `json:"redirectUri"`
	Code         string   `json:"code,omitempty"`
	CodeVerifier string   `json:"-"`
}

// TokenResult is what a successful token acquisition yields
type TokenResult struct {
	AccessToken string    `json:"accessToken"`
	IDToken     string    `json:"idToken"`
	TokenType   string    `json:"tokenType"`
	Scopes      []string  `json:"scopes"`
	ExpiresOn   time.Time `json:"expiresOn"`
	Account     Account   `json:"account"`
	FromCache   bool      `json:"fromCache"`
}

// Client is the per-request identity provider client
type Client interface {
	// AuthCodeURL builds the provider authorization URL. No network call is made.
	AuthCodeURL(ctx context.Context, req AuthCodeURLRequest) (string, error)

	// AcquireTokenByCode redeems the authorization code found in the callback
	AcquireTokenByCode(ctx context.Context, req AuthCodeRequest, callback url.Values) (*TokenResult, error)

	// AcquireTokenSilent returns a token for account without user interaction
	AcquireTokenSilent(ctx context.Context, account Account, scopes []string) SilentResult

	// TokenCache is the cache the client reads and writes
	TokenCache() *TokenCache
}
