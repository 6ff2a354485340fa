// Package auth validates the bearer tokens presented by clients and edge
// nodes. Token issuance lives elsewhere; this package only checks signatures
// and extracts identities.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for any token that fails validation. Callers
// must not leak the underlying reason to the client.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the validated identity carried by a token.
type Identity struct {
	UID      string // subject
	Username string
	Service  bool // true for edge/service tokens
}

// Provider validates bearer tokens and returns identities.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Name() string
}

// HS256Provider validates tokens signed with a shared HMAC secret.
type HS256Provider struct {
	secret []byte
}

// NewHS256Provider creates the static-secret provider.
func NewHS256Provider(secret string) (*HS256Provider, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	return &HS256Provider{secret: []byte(secret)}, nil
}

type claims struct {
	Username string `json:"username,omitempty"`
	Service  bool   `json:"service,omitempty"`
	jwt.RegisteredClaims
}

func (p *HS256Provider) ValidateToken(_ context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrUnauthorized
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return nil, ErrUnauthorized
	}

	username := c.Username
	if username == "" {
		username = c.Subject
	}
	return &Identity{UID: c.Subject, Username: username, Service: c.Service}, nil
}

func (p *HS256Provider) Name() string { return "hs256" }
