package credential

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Credential is the session material captured from an authenticated portal
// login: the raw Cookie header value plus an estimated expiry. The real
// expiry is server-side; ExpiresAt is a hint derived from the portal's JWT
// cookie and a booking attempt is the only authoritative check.
type Credential struct {
	Cookies    string    `json:"cookies"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

func (c Credential) Empty() bool { return c.Cookies == "" }

// Expired reports whether the estimated expiry has passed. A zero ExpiresAt
// means unknown and is treated as not expired.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

const jwtCookieName = "JWTUserToken"

// ExpiryFromCookies extracts the exp claim from the portal's JWT session
// cookie. The token is not verified; only the payload timestamp is read.
func ExpiryFromCookies(cookies string) (time.Time, error) {
	token := cookieValue(cookies, jwtCookieName)
	if token == "" {
		return time.Time{}, fmt.Errorf("cookie %s not present", jwtCookieName)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("cookie %s is not a JWT", jwtCookieName)
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, fmt.Errorf("decode JWT payload: %w", err)
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse JWT payload: %w", err)
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("JWT payload has no exp claim")
	}
	return time.Unix(claims.Exp, 0), nil
}

func cookieValue(cookies, name string) string {
	for _, part := range strings.Split(cookies, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, name+"="); ok {
			return v
		}
	}
	return ""
}
