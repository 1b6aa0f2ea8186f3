package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/dgellow/docsite/internal/log"
	"github.com/dgellow/docsite/internal/metrics"
	"golang.org/x/oauth2"
)

// expirySkew is how long before expiry a cached access token stops being served
const expirySkew = 5 * time.Minute

// maxTokenResponseSize bounds the size of a token endpoint response
const maxTokenResponseSize = 1 << 20

// oidcScopes are always requested alongside the caller's scopes
var oidcScopes = map[string]bool{
	"openid":         true,
	"profile":        true,
	"offline_access": true,
}

// OAuth2Client implements Client on golang.org/x/oauth2
type OAuth2Client struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	httpClient   *http.Client
	cache        *TokenCache
	metrics      *metrics.Metrics
	now          func() time.Time
}

var _ Client = (*OAuth2Client)(nil)

// TokenCache returns the cache this client reads and writes
func (c *OAuth2Client) TokenCache() *TokenCache {
	return c.cache
}

func (c *OAuth2Client) config(redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       withOIDCScopes(scopes),
	}
}

func (c *OAuth2Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthCodeURL builds the authorization URL with PKCE and form_post response mode
func (c *OAuth2Client) AuthCodeURL(_ context.Context, req AuthCodeURLRequest) (string, error) {
	if c.endpoint.AuthURL == "" {
		return "", fmt.Errorf("authorization endpoint is not configured")
	}
	if req.RedirectURI == "" {
		return "", fmt.Errorf("redirect uri is required")
	}
	if req.CodeChallenge == "" {
		return "", fmt.Errorf("code challenge is required")
	}

	responseMode := req.ResponseMode
	if responseMode == "" {
		responseMode = ResponseModeFormPost
	}
	method := req.CodeChallengeMethod
	if method == "" {
		method = "S256"
	}

	return c.config(req.RedirectURI, req.Scopes).AuthCodeURL(req.State,
		oauth2.SetAuthURLParam("response_mode", responseMode),
		oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", method),
	), nil
}

// AcquireTokenByCode exchanges the callback's code using the stored verifier.
// On success the tokens are added to the cache under the account's home id.
func (c *OAuth2Client) AcquireTokenByCode(ctx context.Context, req AuthCodeRequest, callback url.Values) (*TokenResult, error) {
	if err := CallbackError(callback); err != nil {
		return nil, err
	}

	code := req.Code
	if code == "" {
		code = callback.Get("code")
	}
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	cfg := c.config(req.RedirectURI, req.Scopes)
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("scope", strings.Join(cfg.Scopes, " ")),
	}
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}

	start := time.Now()
	tok, err := cfg.Exchange(c.withHTTPClient(ctx), code, opts...)
	c.metrics.ObserveProviderCall("exchange_code", start)
	if err != nil {
		return nil, FromTokenError(err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, ErrMissingIDToken
	}
	account, err := AccountFromIDToken(idToken)
	if err != nil {
		return nil, err
	}

	cached := CachedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		TokenType:    tok.Type(),
		Scopes:       grantedScopes(tok, req.Scopes),
		ExpiresOn:    tok.Expiry,
	}
	c.cache.Store(CacheEntry{Account: account, Token: cached})

	log.LogDebugWithFields("idp", "Authorization code redeemed", map[string]any{
		"account": account.HomeAccountID,
		"scopes":  cached.Scopes,
	})

	return resultFrom(account, cached, false), nil
}

// AcquireTokenSilent serves a cached token when it is still valid for scopes,
// and otherwise redeems the cached refresh token
func (c *OAuth2Client) AcquireTokenSilent(ctx context.Context, account Account, scopes []string) SilentResult {
	if account.IsZero() {
		return SilentNeedsInteraction(ErrNoCachedAccount)
	}

	entry, ok := c.cache.Lookup(account.HomeAccountID)
	if !ok {
		return SilentNeedsInteraction(ErrNoCachedAccount)
	}

	if entry.Token.AccessToken != "" && entry.Token.ExpiresOn.After(c.now().Add(expirySkew)) && entry.Token.Covers(scopes) {
		return SilentOK(resultFrom(entry.Account, entry.Token, true))
	}

	if entry.Token.RefreshToken == "" {
		return SilentNeedsInteraction(fmt.Errorf("%w: no refresh token", ErrNoCachedAccount))
	}

	start := time.Now()
	tok, err := c.refresh(ctx, entry.Token.RefreshToken, scopes)
	c.metrics.ObserveProviderCall("refresh_token", start)
	if err != nil {
		perr := FromTokenError(err)
		var pe *ProviderError
		if errors.As(perr, &pe) && pe.InteractionRequired() {
			return SilentNeedsInteraction(perr)
		}
		return SilentFailed(perr)
	}

	refreshed := CachedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      entry.Token.IDToken,
		TokenType:    tok.Type(),
		Scopes:       grantedScopes(tok, scopes),
		ExpiresOn:    tok.Expiry,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = entry.Token.RefreshToken
	}
	if !refreshed.Covers(scopes) {
		return SilentNeedsInteraction(fmt.Errorf("%w: requested %s, granted %s",
			ErrScopesNotGranted, strings.Join(scopes, " "), strings.Join(refreshed.Scopes, " ")))
	}
	acct := entry.Account
	if idToken, _ := tok.Extra("id_token").(string); idToken != "" {
		refreshed.IDToken = idToken
		if fresh, err := AccountFromIDToken(idToken); err == nil {
			acct = fresh
		}
	}
	c.cache.Store(CacheEntry{Account: acct, Token: refreshed})

	return SilentOK(resultFrom(acct, refreshed, false))
}

// refresh redeems refreshToken for scopes at the token endpoint. The grant is
// posted directly because oauth2.TokenSource never sends scope when refreshing.
// Errors are *oauth2.RetrieveError so FromTokenError classifies them.
func (c *OAuth2Client) refresh(ctx context.Context, refreshToken string, scopes []string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"scope":         {strings.Join(withOIDCScopes(scopes), " ")},
	}
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	hc := c.httpClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading refresh response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		re := &oauth2.RetrieveError{Response: resp, Body: body}
		var oerr struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
			URI         string `json:"error_uri"`
		}
		if json.Unmarshal(body, &oerr) == nil {
			re.ErrorCode = oerr.Error
			re.ErrorDescription = oerr.Description
			re.ErrorURI = oerr.URI
		}
		return nil, re
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}
	var tr struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("refresh response did not include an access_token")
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok.WithExtra(raw), nil
}

func resultFrom(account Account, t CachedToken, fromCache bool) *TokenResult {
	return &TokenResult{
		AccessToken: t.AccessToken,
		IDToken:     t.IDToken,
		TokenType:   t.TokenType,
		Scopes:      slices.Clone(t.Scopes),
		ExpiresOn:   t.ExpiresOn,
		Account:     account,
		FromCache:   fromCache,
	}
}

// grantedScopes returns the scopes in the token response, falling back to requested
func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return strings.Fields(s)
	}
	return slices.Clone(requested)
}

// withOIDCScopes returns scopes plus the OpenID Connect scopes, without duplicates
func withOIDCScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes)+len(oidcScopes))
	for _, s := range scopes {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	for _, s := range []string{"openid", "profile", "offline_access"} {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
