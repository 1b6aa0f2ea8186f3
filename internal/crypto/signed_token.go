package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed tokens and bad signatures
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a token's expiry has passed
	ErrTokenExpired = errors.New("token expired")
)

// TokenSigner provides HMAC-signed JSON tokens with optional expiry.
// With a zero ttl the output is a pure function of key and payload.
type TokenSigner struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenSigner creates a new token signer
func NewTokenSigner(signingKey []byte, ttl time.Duration) TokenSigner {
	return TokenSigner{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

type tokenEnvelope struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt int64           `json:"exp,omitempty"`
}

// Sign marshals v to JSON, wraps it with its expiry and returns
// base64url(envelope) + "." + signature
func (ts *TokenSigner) Sign(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}

	env := tokenEnvelope{Data: payload}
	if ts.ttl > 0 {
		env.ExpiresAt = ts.now().Add(ts.ttl).Unix()
	}

	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token data: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(envJSON)
	return encoded + "." + SignData(encoded, ts.signingKey), nil
}

// Verify checks the signature and expiry of token, then unmarshals its data into v
func (ts *TokenSigner) Verify(token string, v any) error {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" {
		return fmt.Errorf("%w: malformed", ErrInvalidToken)
	}

	if !ValidateSignedData(encoded, signature, ts.signingKey) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	envJSON, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var env tokenEnvelope
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if env.ExpiresAt != 0 && ts.now().Unix() > env.ExpiresAt {
		return ErrTokenExpired
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal token data: %w", err)
	}
	return nil
}
