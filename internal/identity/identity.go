// Package identity provides conversation session identifiers and the
// request helpers that carry them.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	SessionHeaderName = "X-Session-ID"
	sessionQueryParam = "session_id"
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id is acceptable as a session id.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Sanitize trims id and reports whether the result is a valid session id.
// An empty id is valid and means "start a new session".
func Sanitize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", true
	}
	return id, ValidSessionID(id)
}

// WithSessionID returns a copy of ctx carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session id placed by Middleware.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(sessionQueryParam)
	}
	return sid
}

// Middleware reads the session id from the X-Session-ID header or the
// session_id query parameter and stores it in the request context.
// Malformed ids are rejected with 400.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, ok := Sanitize(sessionIDFromRequest(r))
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"invalid session id"}`, http.StatusBadRequest)
			return
		}
		if sid != "" {
			r = r.WithContext(WithSessionID(r.Context(), sid))
		}
		next.ServeHTTP(w, r)
	})
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
