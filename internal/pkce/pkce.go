package pkce

import (
	"golang.org/x/oauth2"
)

// MethodS256 is the only challenge method this server issues
const MethodS256 = "S256"

// Codes is one verifier/challenge pair
type Codes struct {
	Verifier        string `json:"verifier"`
	Challenge       string `json:"challenge"`
	ChallengeMethod string `json:"challengeMethod"`
}

// Generator produces PKCE material
type Generator interface {
	Generate() (Codes, error)
}

// S256Generator derives challenges with golang.org/x/oauth2
type S256Generator struct{}

// Generate returns a fresh verifier and its S256 challenge
func (S256Generator) Generate() (Codes, error) {
	verifier := oauth2.GenerateVerifier()
	return Codes{
		Verifier:        verifier,
		Challenge:       oauth2.S256ChallengeFromVerifier(verifier),
		ChallengeMethod: MethodS256,
	}, nil
}
