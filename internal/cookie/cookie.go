package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/docsite/internal/envutil"
	"github.com/dgellow/docsite/internal/log"
)

// SessionCookie is the name of the cookie carrying the session id
const SessionCookie = "docsite_session"

// Jar sets, reads and clears one named cookie with fixed security attributes
type Jar struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

// NewSessionJar returns the session cookie jar. Cookies are Secure outside development.
func NewSessionJar(maxAge time.Duration) Jar {
	return Jar{
		Name:   SessionCookie,
		MaxAge: maxAge,
		Secure: !envutil.IsDev(),
	}
}

// sameSite returns None for secure cookies so the provider's form_post callback
// carries the session. Insecure cookies cannot use None and omit the attribute.
func (j Jar) sameSite() http.SameSite {
	if j.Secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteDefaultMode
}

// Set writes the cookie with HttpOnly and the jar's SameSite policy
func (j Jar) Set(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     j.Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: j.sameSite(),
		MaxAge:   int(j.MaxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Cookie set", map[string]any{
		"name":   j.Name,
		"maxAge": j.MaxAge.String(),
		"secure": j.Secure,
	})
}

// Get returns the cookie value, or "" when absent
func (j Jar) Get(r *http.Request) string {
	c, err := r.Cookie(j.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Clear removes the cookie by setting MaxAge to -1
func (j Jar) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     j.Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: j.sameSite(),
		MaxAge:   -1,
	})
	log.LogTraceWithFields("cookie", "Cookie cleared", map[string]any{"name": j.Name})
}
