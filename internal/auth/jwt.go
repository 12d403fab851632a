// Package auth verifies HELLO handshake tokens and derives the ScopeSet a
// session carries for the lifetime of its connection.
//
// Grounded almost directly on go-server/internal/auth/jwt.go's
// generate/verify shape, adapted from an HTTP auth-middleware claims
// object to CLASP's Authorizer.OnHello hook (spec.md §4.2).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload a HELLO token must carry.
type Claims struct {
	SessionName string   `json:"name"`
	Scopes      []string `json:"scopes"`
	jwt.RegisteredClaims
}

// ScopeSet is the authorization context granted to a session at HELLO
// time (spec.md §3 Session, §4.2).
type ScopeSet struct {
	Scopes map[string]struct{}
}

func NewScopeSet(scopes []string) ScopeSet {
	s := ScopeSet{Scopes: make(map[string]struct{}, len(scopes))}
	for _, sc := range scopes {
		s.Scopes[sc] = struct{}{}
	}
	return s
}

func (s ScopeSet) Has(scope string) bool {
	_, ok := s.Scopes[scope]
	return ok
}

// JWTManager issues and verifies HELLO tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// Generate issues a signed token carrying the given scopes. Useful for
// tests and for operator-issued tokens.
func (m *JWTManager) Generate(sessionName string, scopes []string) (string, error) {
	claims := &Claims{
		SessionName: sessionName,
		Scopes:      scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "clasp-router",
			Subject:   sessionName,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify validates a HELLO token and returns the ScopeSet it grants.
// This is the implementation backing Authorizer.OnHello (spec.md §4.2).
func (m *JWTManager) Verify(tokenString string) (ScopeSet, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return ScopeSet{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return ScopeSet{}, errors.New("auth: invalid token claims")
	}

	return NewScopeSet(claims.Scopes), nil
}
