package session

import (
	"net/http"
	"strings"
	"time"
)

// Cookie names for the two credential tiers.
const (
	AccountCookie = "token"
	GuestCookie   = "guestatdoodleup"
)

type CookieSettings struct {
	Domain string
	Secure bool
	MaxAge time.Duration
}

// CookieName picks the cookie a credential of the given tier is stored in.
func CookieName(authenticated bool) string {
	if authenticated {
		return AccountCookie
	}
	return GuestCookie
}

// ReadTokens returns every credential found on r in lookup order: the
// account cookie, the guest cookie, the Authorization header and, when
// allowSubprotocol is set, the second Sec-WebSocket-Protocol entry. Callers
// try them in turn so a stale account cookie does not hide a valid guest one.
func ReadTokens(r *http.Request, allowSubprotocol bool) []string {
	var tokens []string
	for _, name := range []string{AccountCookie, GuestCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			tokens = append(tokens, c.Value)
		}
	}

	if token := bearerToken(r); token != "" {
		tokens = append(tokens, token)
	}

	if allowSubprotocol {
		if token := subprotocolToken(r); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
}

// Browsers can't set headers on a WebSocket handshake, so the token rides
// along as a fake subprotocol: "doodleup-v1, <token>".
func subprotocolToken(r *http.Request) string {
	protocols := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	if len(protocols) != 2 {
		return ""
	}
	return strings.TrimSpace(protocols[1])
}

func SetCredentialCookie(w http.ResponseWriter, name, token string, settings CookieSettings) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Domain:   settings.Domain,
		MaxAge:   int(settings.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
