package session

import (
	"context"
	"time"

	"github.com/dgellow/docsite/internal/idp"
	"github.com/dgellow/docsite/internal/pkce"
)

// Session is the server-side state of one browser.
// Only the fields the authentication flow needs live here.
type Session struct {
	ID string `json:"-"`

	IsAuthenticated    bool                    `json:"isAuthenticated"`
	PKCECodes          *pkce.Codes             `json:"pkceCodes,omitempty"`
	AuthCodeURLRequest *idp.AuthCodeURLRequest `json:"authCodeUrlRequest,omitempty"`
	AuthCodeRequest    *idp.AuthCodeRequest    `json:"authCodeRequest,omitempty"`
	TokenCache         string                  `json:"tokenCache,omitempty"`
	Account            *idp.Account            `json:"account,omitempty"`
	AccessToken        string                  `json:"accessToken,omitempty"`
	IDToken            string                  `json:"idToken,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	isNew bool
	// previousID is the record to drop once the session is saved under ID
	previousID string
}

// IsNew reports whether the session was created by this request
func (s *Session) IsNew() bool {
	return s.isNew
}

// BeginLogin records the material of a new login attempt, replacing any
// earlier attempt that was never completed
func (s *Session) BeginLogin(codes pkce.Codes, urlReq idp.AuthCodeURLRequest, codeReq idp.AuthCodeRequest) {
	s.PKCECodes = &codes
	s.AuthCodeURLRequest = &urlReq
	s.AuthCodeRequest = &codeReq
}

// PendingLogin returns the code exchange request of the login in progress
// with the PKCE verifier filled in. ok is false when no login was started.
func (s *Session) PendingLogin() (idp.AuthCodeRequest, bool) {
	if s.PKCECodes == nil || s.AuthCodeRequest == nil || s.PKCECodes.Verifier == "" {
		return idp.AuthCodeRequest{}, false
	}
	req := *s.AuthCodeRequest
	req.CodeVerifier = s.PKCECodes.Verifier
	return req, true
}

// ConsumePKCE discards the login attempt so its verifier cannot be replayed
func (s *Session) ConsumePKCE() {
	s.PKCECodes = nil
	s.AuthCodeURLRequest = nil
	s.AuthCodeRequest = nil
}

// CompleteLogin stores the result of a successful code exchange and marks
// the session authenticated
func (s *Session) CompleteLogin(tokenCache string, result *idp.TokenResult) {
	s.TokenCache = tokenCache
	s.IDToken = result.IDToken
	s.AccessToken = result.AccessToken
	account := result.Account
	s.Account = &account
	s.IsAuthenticated = true
	s.ConsumePKCE()
}

// RecordSilentToken stores the result of a silent acquisition
func (s *Session) RecordSilentToken(tokenCache string, result *idp.TokenResult) {
	s.TokenCache = tokenCache
	s.AccessToken = result.AccessToken
	if result.IDToken != "" {
		s.IDToken = result.IDToken
	}
	if !result.Account.IsZero() {
		account := result.Account
		s.Account = &account
	}
}

// CurrentAccount returns the signed-in account or the zero Account
func (s *Session) CurrentAccount() idp.Account {
	if s.Account == nil {
		return idp.Account{}
	}
	return *s.Account
}

type contextKey struct{}

// WithSession stores s in ctx
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by WithSession
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
