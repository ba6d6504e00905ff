package session

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/stanstork/jobwatch/internal/models"
)

type tokenClaims struct {
	expiresAt time.Time
	principal models.Principal
}

// parseClaims reads the access token's claims without verifying the
// signature. The client never holds the signing key.
func parseClaims(token string) (tokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return tokenClaims{}, errors.Wrap(err, "parse access token")
	}

	var out tokenClaims
	if exp, ok := claims["exp"].(float64); ok && exp > 0 {
		out.expiresAt = time.Unix(int64(exp), 0)
	}
	out.principal = models.Principal{
		ID:       claimString(claims, "user_id", "userId", "sub"),
		Email:    claimString(claims, "email"),
		Name:     claimString(claims, "name"),
		Role:     roleFromClaims(claims),
		TenantID: claimString(claims, "tenant_id", "tenantId", "tid"),
	}
	return out, nil
}

// claimString returns the first non-empty claim among keys. Numeric claims
// are formatted as integers.
func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

func roleFromClaims(claims jwt.MapClaims) string {
	if role := claimString(claims, "role"); role != "" {
		return role
	}
	if roles, ok := claims["roles"].([]interface{}); ok && len(roles) > 0 {
		if role, ok := roles[0].(string); ok {
			return role
		}
	}
	return ""
}

// mergePrincipal fills the empty fields of p from fallback.
func mergePrincipal(p, fallback models.Principal) models.Principal {
	if p.ID == "" {
		p.ID = fallback.ID
	}
	if p.Email == "" {
		p.Email = fallback.Email
	}
	if p.Name == "" {
		p.Name = fallback.Name
	}
	if p.Role == "" {
		p.Role = fallback.Role
	}
	if p.TenantID == "" {
		p.TenantID = fallback.TenantID
	}
	return p
}
