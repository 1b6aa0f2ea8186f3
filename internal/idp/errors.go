package idp

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ory/fosite"
	"golang.org/x/oauth2"
)

var (
	// ErrNoCachedAccount is returned when the token cache has no entry for the account
	ErrNoCachedAccount = errors.New("no cached tokens for account")
	// ErrMissingIDToken is returned when a token response lacks an id_token
	ErrMissingIDToken = errors.New("token response did not include an id_token")
	// ErrScopesNotGranted is returned when a refreshed token lacks requested scopes
	ErrScopesNotGranted = errors.New("refreshed token does not grant the requested scopes")
)

// ProviderError is an OAuth error reported by the identity provider
type ProviderError struct {
	Code        string
	Description string
	Status      int
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// StatusCode returns the HTTP status this error should be rendered with
func (e *ProviderError) StatusCode() int {
	return e.Status
}

// InteractionRequired reports whether the user has to sign in interactively
func (e *ProviderError) InteractionRequired() bool {
	return IsInteractionRequired(e.Code)
}

// catalog maps RFC 6749 and OpenID Connect error codes to their status
var catalog = func() map[string]*fosite.RFC6749Error {
	m := map[string]*fosite.RFC6749Error{}
	for _, e := range []*fosite.RFC6749Error{
		fosite.ErrInvalidRequest,
		fosite.ErrUnauthorizedClient,
		fosite.ErrAccessDenied,
		fosite.ErrUnsupportedResponseType,
		fosite.ErrInvalidScope,
		fosite.ErrServerError,
		fosite.ErrTemporarilyUnavailable,
		fosite.ErrUnsupportedGrantType,
		fosite.ErrInvalidGrant,
		fosite.ErrInvalidClient,
		fosite.ErrInteractionRequired,
		fosite.ErrLoginRequired,
		fosite.ErrConsentRequired,
	} {
		m[e.ErrorField] = e
	}
	return m
}()

// interactionCodes are the codes after which only an interactive login can help
var interactionCodes = map[string]bool{
	fosite.ErrInteractionRequired.ErrorField: true,
	fosite.ErrLoginRequired.ErrorField:       true,
	fosite.ErrConsentRequired.ErrorField:     true,
	fosite.ErrInvalidGrant.ErrorField:        true,
}

// IsInteractionRequired reports whether code signals that silent acquisition cannot succeed
func IsInteractionRequired(code string) bool {
	return interactionCodes[code]
}

func statusForCode(code string, fallback int) int {
	if e, ok := catalog[code]; ok {
		return e.StatusCode()
	}
	if fallback >= http.StatusBadRequest {
		return fallback
	}
	return http.StatusInternalServerError
}

// CallbackError returns a ProviderError when the provider reported an error
// in the redirect parameters, nil otherwise
func CallbackError(callback url.Values) error {
	code := callback.Get("error")
	if code == "" {
		return nil
	}
	return &ProviderError{
		Code:        code,
		Description: callback.Get("error_description"),
		Status:      statusForCode(code, 0),
	}
}

// FromTokenError converts a token endpoint failure into a ProviderError
// when the response carries an OAuth error, and returns err unchanged otherwise
func FromTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	if re.ErrorCode == "" {
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return &ProviderError{
			Code:        fosite.ErrServerError.ErrorField,
			Description: fmt.Sprintf("token endpoint returned status %d", status),
			Status:      status,
		}
	}
	return &ProviderError{
		Code:        re.ErrorCode,
		Description: re.ErrorDescription,
		Status:      statusForCode(re.ErrorCode, status),
	}
}
