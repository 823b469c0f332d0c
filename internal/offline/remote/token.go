package remote

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUserClaim is returned when an auth token names no user.
var ErrNoUserClaim = errors.New("token has no user claim")

// TokenInfo is what the client needs from an auth token.
type TokenInfo struct {
	UserID    string
	ExpiresAt time.Time // zero when the token does not expire
}

// Expired reports whether the token is expired at now.
func (t TokenInfo) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// ParseToken reads the owning user and expiry from an auth token issued by
// the authority. The signature is not verified: the server does that, the
// client only needs to know whose data it is syncing.
func ParseToken(token string) (TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("invalid auth token: %w", err)
	}
	var info TokenInfo
	for _, key := range []string{"id", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			info.UserID = v
			break
		}
	}
	if info.UserID == "" {
		return TokenInfo{}, ErrNoUserClaim
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return TokenInfo{}, fmt.Errorf("invalid auth token: %w", err)
	}
	if exp != nil {
		info.ExpiresAt = exp.Time.UTC()
	}
	return info, nil
}

// UserIDFromToken returns the user id carried by an auth token.
func UserIDFromToken(token string) (string, error) {
	info, err := ParseToken(token)
	if err != nil {
		return "", err
	}
	return info.UserID, nil
}
