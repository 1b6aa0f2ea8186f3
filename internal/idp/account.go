package idp

import (
	"fmt"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
)

// AccountFromIDToken reads the account claims from an ID token.
// The signature is not checked: the token was just received from the token
// endpoint over TLS and the claims are only used to key the cache and for display.
func AccountFromIDToken(idToken string) (Account, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return Account{}, fmt.Errorf("parsing id token: %w", err)
	}

	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}

	objectID := str("oid")
	if objectID == "" {
		objectID = str("sub")
	}
	if objectID == "" {
		return Account{}, fmt.Errorf("id token has neither oid nor sub claim")
	}

	tenantID := str("tid")
	homeID := objectID
	if tenantID != "" {
		homeID = objectID + "." + tenantID
	}

	username := str("preferred_username")
	if username == "" {
		username = str("email")
	}

	var environment string
	if iss, err := claims.GetIssuer(); err == nil && iss != "" {
		if u, err := url.Parse(iss); err == nil {
			environment = u.Host
		}
	}

	return Account{
		HomeAccountID:  homeID,
		LocalAccountID: objectID,
		TenantID:       tenantID,
		Username:       username,
		Name:           str("name"),
		Environment:    environment,
	}, nil
}
