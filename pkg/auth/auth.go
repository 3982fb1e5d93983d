package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Package-level singleton instance.
var managerInstance *Manager

// Init initializes the auth package with config.
func Init(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	managerInstance = NewManager(cfg)
	return nil
}

// NewAuth returns the Manager singleton instance.
// Returns nil if auth is not enabled or not initialized.
func NewAuth() *Manager {
	return managerInstance
}

// UserConfig is a statically configured API user.
type UserConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Role     string `toml:"role"`
}

// Config holds JWT auth configuration.
type Config struct {
	Enabled bool   `toml:"enabled"`
	Secret  string `toml:"secret"`
	// TokenTTL is a Go duration string, default 24h
	TokenTTL string       `toml:"token_ttl"`
	Users    []UserConfig `toml:"users"`
}

// Validate checks auth configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Secret == "" {
		return fmt.Errorf("secret is required when auth is enabled")
	}
	if c.TokenTTL != "" {
		if _, err := time.ParseDuration(c.TokenTTL); err != nil {
			return fmt.Errorf("token_ttl is invalid: %w", err)
		}
	}
	return nil
}

// Claims carries the identity embedded in issued tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 JWT tokens for the HTTP API.
type Manager struct {
	secret   []byte
	tokenTTL time.Duration
	users    map[string]UserConfig
}

// NewManager creates a token manager from config.
func NewManager(cfg Config) *Manager {
	ttl := 24 * time.Hour
	if cfg.TokenTTL != "" {
		if d, err := time.ParseDuration(cfg.TokenTTL); err == nil && d > 0 {
			ttl = d
		}
	}

	users := make(map[string]UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = u
	}

	return &Manager{
		secret:   []byte(cfg.Secret),
		tokenTTL: ttl,
		users:    users,
	}
}

// Authenticate checks the credentials and issues a token on success.
func (m *Manager) Authenticate(username, password string) (string, error) {
	user, ok := m.users[username]
	if !ok || user.Password != password {
		return "", fmt.Errorf("invalid credentials")
	}
	return m.Issue(username, user.Role)
}

// Issue creates a signed token for the given subject and role.
func (m *Manager) Issue(subject, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
