// Package auth issues and verifies the signed guest identity tokens the API
// trusts. Identity is opaque to the game core: a token maps to a player id,
// nickname and admin flag, nothing more.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

type Identity struct {
	PlayerID string
	Nickname string
	IsAdmin  bool
}

type claims struct {
	Nickname string `json:"nickname"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	expiry time.Duration
}

func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

func (s *TokenService) Issue(playerID, nickname string, isAdmin bool) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Nickname: nickname,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	})
	return token.SignedString(s.secret)
}

func (s *TokenService) Verify(tokenString string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" || c.Nickname == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{PlayerID: c.Subject, Nickname: c.Nickname, IsAdmin: c.IsAdmin}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}
