package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agendamento-api/internal/model"
)

var ErrBadToken = errors.New("invalid token")

// Claims carry the principal resolved by the identity collaborator:
// user, role and tenant. This core only verifies and reads them.
type Claims struct {
	UserID   string `json:"uid"`
	Role     string `json:"role"`
	TenantID string `json:"tenant"`
	jwt.RegisteredClaims
}

// MakeToken mints a short-lived access token. Used by tests and ops
// tooling; production tokens come from the identity service.
func MakeToken(p model.Principal, secret string) (string, error) {
	c := Claims{
		UserID:   p.UserID,
		Role:     string(p.Role),
		TenantID: p.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func ParseToken(raw, secret string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		// block alg confusion
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrBadToken
	}
	return c, nil
}

// Principal converts verified claims into the domain principal,
// rejecting roles outside the closed set.
func (c *Claims) Principal() (model.Principal, error) {
	role := model.Role(c.Role)
	switch role {
	case model.RoleCandidate, model.RoleSocialWorker, model.RoleAdmin:
	default:
		return model.Principal{}, ErrBadToken
	}
	if c.UserID == "" || c.TenantID == "" {
		return model.Principal{}, ErrBadToken
	}
	return model.Principal{UserID: c.UserID, Role: role, TenantID: c.TenantID}, nil
}
