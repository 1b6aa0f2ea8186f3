package pkce

import (
	"errors"
	"fmt"

	"github.com/dgellow/docsite/internal/crypto"
	"github.com/dgellow/docsite/internal/urlutil"
)

// ErrInvalidState is returned when a state token cannot be verified
var ErrInvalidState = errors.New("invalid state")

// State is the payload carried through the provider round trip
type State struct {
	SuccessRedirect string `json:"successRedirect"`
}

// StateCodec signs and verifies opaque state tokens
type StateCodec struct {
	signer crypto.TokenSigner
}

// NewStateCodec creates a codec signing with key. Tokens do not expire;
// the session binding bounds their lifetime.
func NewStateCodec(key []byte) *StateCodec {
	return &StateCodec{signer: crypto.NewTokenSigner(key, 0)}
}

// Encode returns the signed token for s. It is deterministic for a given key and state.
func (c *StateCodec) Encode(s State) (string, error) {
	token, err := c.signer.Sign(s)
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}
	return token, nil
}

// Decode verifies token and returns its state with the redirect forced to a local path
func (c *StateCodec) Decode(token string) (State, error) {
	var s State
	if err := c.signer.Verify(token, &s); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	s.SuccessRedirect = urlutil.LocalPath(s.SuccessRedirect)
	return s, nil
}
