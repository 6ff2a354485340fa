package auth

import "fmt"

// Config selects and configures a provider.
type Config struct {
	Mode       string `json:"mode,omitempty"` // "hs256" (default) or "jwks"
	JWTSecret  string `json:"jwt_secret,omitempty"`
	JWKSIssuer string `json:"jwks_issuer,omitempty"`
}

// NewProvider creates a Provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Mode {
	case "", "hs256":
		return NewHS256Provider(cfg.JWTSecret)
	case "jwks":
		return NewJWKSProvider(cfg.JWKSIssuer)
	default:
		return nil, fmt.Errorf("unknown auth mode: %q", cfg.Mode)
	}
}
