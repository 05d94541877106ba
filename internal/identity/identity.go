package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the local user resolved from an access token.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Authenticated reports whether the identity carries a user id. Callers must
// not open a realtime connection for an unauthenticated identity.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// Decode extracts the subject and username claims from a bearer token without
// verifying its signature. Any failure yields an empty Identity.
func Decode(token string) Identity {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}
	}

	return Identity{
		UserID:   claimString(claims, "sub", "user_id", "userId", "id"),
		Username: claimString(claims, "username", "name"),
	}
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		value, ok := claims[key]
		if !ok || value == nil {
			continue
		}
		var out string
		switch v := value.(type) {
		case string:
			out = v
		case float64:
			out = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out = fmt.Sprint(v)
		}
		if out = strings.TrimSpace(out); out != "" {
			return out
		}
	}
	return ""
}
