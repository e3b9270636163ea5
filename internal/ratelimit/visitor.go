package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// AnonymousVisitor is the shared identity for requests without a token.
	AnonymousVisitor = "anonymous"

	// DefaultVisitorCookie names the long-lived visitor token cookie.
	DefaultVisitorCookie = "cv_visitor"

	visitorCookieMaxAge = 365 * 24 * time.Hour
)

// VisitorToken returns the visitor token carried by r and whether one was
// present.
func VisitorToken(r *http.Request, cookieName string) (string, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return AnonymousVisitor, false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return AnonymousVisitor, false
	}
	return v, true
}

// NewVisitorCookie issues a fresh visitor token cookie.
func NewVisitorCookie(cookieName string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     cookieName,
		Value:    uuid.NewString(),
		Path:     "/",
		MaxAge:   int(visitorCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
