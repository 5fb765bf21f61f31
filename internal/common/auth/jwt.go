// Package auth resolves the acting CRM user from a bearer token.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("authorization header is missing")
	ErrMalformed    = errors.New("authorization header must be 'Bearer <token>'")
	ErrNoSubject    = errors.New("token has no subject")
)

// Claims are the fields read from a Supabase-style access token. The actor
// id is the registered subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ActorID returns the trimmed subject.
func (c *Claims) ActorID() string {
	return strings.TrimSpace(c.Subject)
}

type Service struct {
	secretKey []byte
	issuer    string
	audience  string
}

// NewService creates a validator for HS256 tokens signed with secret. Empty
// issuer or audience disables that check.
func NewService(secret, issuer, audience string) *Service {
	return &Service{
		secretKey: []byte(secret),
		issuer:    issuer,
		audience:  audience,
	}
}

// GenerateToken signs a token for actorID. Used by tests and local tooling.
func (s *Service) GenerateToken(actorID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken parses and verifies tokenString.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.ActorID() == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}

// FromHeader validates the value of an Authorization header.
func (s *Service) FromHeader(header string) (*Claims, error) {
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrMalformed
	}
	return s.ValidateToken(strings.TrimSpace(token))
}
