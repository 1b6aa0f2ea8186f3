package urlutil

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// JoinPath safely joins URL paths, handling trailing and leading slashes correctly
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	// Preserve trailing slash if the last path component had one
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// IsLocalPath reports whether target is a same-origin absolute path.
// Protocol-relative ("//host") and backslash tricks are rejected.
func IsLocalPath(target string) bool {
	if !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// LocalPath returns target when it is a local path and "/" otherwise
func LocalPath(target string) string {
	if IsLocalPath(target) {
		return target
	}
	return "/"
}

// RequestOrigin returns scheme://host for r, honoring X-Forwarded-Proto
func RequestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// Resolve turns a relative target into an absolute URL on the request's origin.
// Absolute URLs are returned unchanged.
func Resolve(r *http.Request, target string) string {
	if u, err := url.Parse(target); err == nil && u.IsAbs() {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return RequestOrigin(r) + target
}
