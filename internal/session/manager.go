package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/docsite/internal/cookie"
	"github.com/dgellow/docsite/internal/crypto"
	"github.com/dgellow/docsite/internal/log"
	"github.com/dgellow/docsite/internal/storage"
)

// Manager binds sessions to the session cookie and a storage backend.
// Payloads are encrypted before they reach the store.
type Manager struct {
	store     storage.Store
	encryptor crypto.Encryptor
	jar       cookie.Jar
	ttl       time.Duration
	now       func() time.Time
}

// NewManager creates a session manager
func NewManager(store storage.Store, encryptor crypto.Encryptor, ttl time.Duration) *Manager {
	return &Manager{
		store:     store,
		encryptor: encryptor,
		jar:       cookie.NewSessionJar(ttl),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (m *Manager) newSession() (*Session, error) {
	id, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	return &Session{ID: id, CreatedAt: m.now(), isNew: true}, nil
}

// Load returns the session named by the request cookie. A missing, expired or
// unreadable session yields a new anonymous one. Store failures are returned.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	if s, ok := FromContext(r.Context()); ok {
		return s, nil
	}

	id := m.jar.Get(r)
	if id == "" {
		return m.newSession()
	}

	payload, err := m.store.GetSession(r.Context(), id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return m.newSession()
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	plain, err := m.encryptor.Decrypt(payload)
	if err != nil {
		log.LogWarnCtx(r.Context(), "session", "Discarding undecryptable session", map[string]any{"error": err.Error()})
		return m.newSession()
	}

	var s Session
	if err := json.Unmarshal([]byte(plain), &s); err != nil {
		log.LogWarnCtx(r.Context(), "session", "Discarding malformed session", map[string]any{"error": err.Error()})
		return m.newSession()
	}
	s.ID = id
	return &s, nil
}

// Save persists s and (re)sets the session cookie. After a Regenerate the
// previous record is deleted only once the new one is stored.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	payload, err := m.encryptor.Encrypt(string(data))
	if err != nil {
		return fmt.Errorf("encrypting session: %w", err)
	}
	if err := m.store.SaveSession(ctx, s.ID, payload, m.ttl); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	m.jar.Set(w, s.ID)
	s.isNew = false

	if prev := s.previousID; prev != "" && prev != s.ID {
		s.previousID = ""
		if err := m.store.DeleteSession(ctx, prev); err != nil {
			log.LogWarnCtx(ctx, "session", "Failed to delete previous session id", map[string]any{"error": err.Error()})
		}
	}
	return nil
}

// Regenerate moves s to a fresh id. The old record stays in place until the
// next successful Save, so a failed save keeps the browser's session intact.
// Call it when the session's privilege changes.
func (m *Manager) Regenerate(_ context.Context, s *Session) error {
	fresh, err := m.newSession()
	if err != nil {
		return err
	}
	if s.previousID == "" && !s.isNew {
		s.previousID = s.ID
	}
	s.ID = fresh.ID
	return nil
}

// Destroy clears the cookie and deletes the stored session
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	m.jar.Clear(w)
	if s == nil || s.ID == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, s.ID); err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}
