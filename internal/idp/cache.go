package idp

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

const tokenCacheVersion = 1

// CachedToken is the token material kept for one account
type CachedToken struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	IDToken      string    `json:"idToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	ExpiresOn    time.Time `json:"expiresOn"`
}

// Covers reports whether the token was granted every scope in scopes.
// OpenID Connect scopes are never listed by the provider and are ignored.
func (t CachedToken) Covers(scopes []string) bool {
	for _, s := range scopes {
		if oidcScopes[s] {
			continue
		}
		if !slices.Contains(t.Scopes, s) {
			return false
		}
	}
	return true
}

// CacheEntry pairs an account with its tokens
type CacheEntry struct {
	Account Account     `json:"account"`
	Token   CachedToken `json:"token"`
}

type serializedCache struct {
	Version int                   `json:"version"`
	Entries map[string]CacheEntry `json:"entries"`
}

// TokenCache holds tokens by home account id. It is safe for concurrent use.
type TokenCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

// NewTokenCache creates an empty cache
func NewTokenCache() *TokenCache {
	return &TokenCache{entries: make(map[string]CacheEntry)}
}

// Lookup returns the entry for homeAccountID
func (c *TokenCache) Lookup(homeAccountID string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[homeAccountID]
	return e, ok
}

// Store replaces the entry for the entry's account
func (c *TokenCache) Store(entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Account.HomeAccountID] = entry
}

// Accounts lists the cached accounts
func (c *TokenCache) Accounts() []Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	accounts := make([]Account, 0, len(c.entries))
	for _, e := range c.entries {
		accounts = append(accounts, e.Account)
	}
	return accounts
}

// Serialize returns the cache as an opaque string for session storage
func (c *TokenCache) Serialize() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := json.Marshal(serializedCache{Version: tokenCacheVersion, Entries: c.entries})
	if err != nil {
		return "", fmt.Errorf("serializing token cache: %w", err)
	}
	return string(data), nil
}

// Deserialize replaces the cache contents with a string from Serialize.
// An empty string leaves the cache empty.
func (c *TokenCache) Deserialize(data string) error {
	entries := make(map[string]CacheEntry)
	if data != "" {
		var sc serializedCache
		if err := json.Unmarshal([]byte(data), &sc); err != nil {
			return fmt.Errorf("deserializing token cache: %w", err)
		}
		if sc.Version != tokenCacheVersion {
			return fmt.Errorf("deserializing token cache: unsupported version %d", sc.Version)
		}
		maps.Copy(entries, sc.Entries)
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}
