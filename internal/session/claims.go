package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client reads out of an access token without verifying
// it. The server remains the authority; these values only drive local
// decisions such as when to refresh and which actions to offer.
type Claims struct {
	UserID    uint
	Username  string
	Email     string
	Roles     []string
	ExpiresAt *time.Time
}

// Expired reports whether the token is past its exp claim. A token without
// exp never expires.
func (c Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(*c.ExpiresAt)
}

func DecodeClaims(token string) (Claims, error) {
	if token == "" {
		return Claims{}, fmt.Errorf("decode claims: empty token")
	}

	raw := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, raw); err != nil {
		return Claims{}, fmt.Errorf("decode claims: %w", err)
	}

	claims := Claims{
		Username: stringClaim(raw["username"]),
		Email:    stringClaim(raw["email"]),
		Roles:    rolesClaim(raw),
	}
	if id, ok := raw["id"].(float64); ok && id > 0 {
		claims.UserID = uint(id)
	}

	exp, err := raw.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("decode claims: %w", err)
	}
	if exp != nil {
		t := exp.Time
		claims.ExpiresAt = &t
	}

	return claims, nil
}

// rolesClaim accepts roles as plain names or as {"name": ...} objects and
// falls back to the single legacy role claim.
func rolesClaim(raw jwt.MapClaims) []string {
	var roles []string
	seen := map[string]bool{}
	add := func(name string) {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		roles = append(roles, name)
	}

	if list, ok := raw["roles"].([]any); ok {
		for _, item := range list {
			switch v := item.(type) {
			case string:
				add(v)
			case map[string]any:
				add(stringClaim(v["name"]))
			}
		}
	}
	if len(roles) == 0 {
		add(stringClaim(raw["role"]))
	}
	if roles == nil {
		roles = []string{}
	}
	return roles
}

func stringClaim(v any) string {
	s, _ := v.(string)
	return s
}
