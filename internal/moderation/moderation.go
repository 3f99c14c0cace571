// Package moderation issues and checks moderator tokens. A moderator may
// delete any chat message.
package moderation

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrDisabled         = errors.New("moderation is disabled")
	ErrInvalidToken     = errors.New("invalid moderator token")
	ErrExpiredToken     = errors.New("moderator token has expired")
	ErrUsernameMismatch = errors.New("moderator token was issued for another username")
	ErrNotModerator     = errors.New("token does not grant the moderator role")
)

const RoleModerator = "moderator"

// Claims are the JWT claims of a moderator token.
type Claims struct {
	jwt.RegisteredClaims
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// HasRole reports whether the claims include role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Manager signs and verifies HS256 moderator tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewManager returns nil when secret is empty, which disables moderation.
func NewManager(secret, issuer string, ttl time.Duration) *Manager {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a moderator token for username.
func (m *Manager) Issue(username string) (string, time.Time, error) {
	if m == nil {
		return "", time.Time{}, ErrDisabled
	}
	if username == "" {
		return "", time.Time{}, errors.New("username is required")
	}

	now := m.now()
	exp := now.Add(m.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: username,
		Roles:    []string{RoleModerator},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign moderator token: %w", err)
	}
	return token, exp, nil
}

// Verify checks tokenString and that it grants the moderator role to username.
func (m *Manager) Verify(tokenString, username string) (*Claims, error) {
	if m == nil {
		return nil, ErrDisabled
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Username != username {
		return nil, ErrUsernameMismatch
	}
	if !claims.HasRole(RoleModerator) {
		return nil, ErrNotModerator
	}
	return claims, nil
}
