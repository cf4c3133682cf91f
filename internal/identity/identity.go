// Package identity provides anonymous per-browser chat session identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	CookieName      = "kaya_session"
	TabHeaderName   = "X-Kaya-Tab"
	TabQueryParam   = "tab"
	cookieMaxAge    = 30 * 24 * time.Hour
	browserIDPrefix = "sess_"
)

type contextKey int

const (
	browserIDKey contextKey = iota
	tabIDKey
)

var (
	browserIDPattern = regexp.MustCompile(`^sess_[a-f0-9]{32}$`)
	tabIDPattern     = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
)

// BrowserIDFromContext extracts the browser id from the request context.
func BrowserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(browserIDKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the tab id, empty when the client sent none.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionKeyFromContext returns "<browser id>:<tab id>", the key chat
// sessions are registered under. Empty when no identity is attached.
func SessionKeyFromContext(ctx context.Context) string {
	browserID := BrowserIDFromContext(ctx)
	if browserID == "" {
		return ""
	}
	return SessionKey(browserID, TabIDFromContext(ctx))
}

// SessionKey joins a browser id and tab id.
func SessionKey(browserID, tabID string) string {
	return browserID + ":" + tabID
}

// WithSession returns ctx carrying the given identity. Tests use it to skip the middleware.
func WithSession(ctx context.Context, browserID, tabID string) context.Context {
	ctx = context.WithValue(ctx, browserIDKey, browserID)
	return context.WithValue(ctx, tabIDKey, tabID)
}

func generateBrowserID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return browserIDPrefix + hex.EncodeToString(buf), nil
}

func isValidBrowserID(id string) bool {
	return browserIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if !tabIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func setCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// getOrCreateBrowserID reads the session cookie, minting a new id when it is
// missing or malformed. The cookie is refreshed either way.
func getOrCreateBrowserID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && isValidBrowserID(c.Value) {
		setCookie(w, c.Value, !isDev)
		return c.Value, nil
	}

	id, err := generateBrowserID()
	if err != nil {
		return "", err
	}
	setCookie(w, id, !isDev)
	return id, nil
}

func tabIDFromRequest(r *http.Request) string {
	tab := r.Header.Get(TabHeaderName)
	if tab == "" {
		tab = r.URL.Query().Get(TabQueryParam)
	}
	return sanitizeTabID(tab)
}

// Middleware attaches the anonymous browser identity and tab id to the request.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			browserID, err := getOrCreateBrowserID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish session"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithSession(r.Context(), browserID, tabIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
