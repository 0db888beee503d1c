// Package token issues and verifies the capability tokens carried on
// the connection URL (`?token=<JWT>`). A token names the agent and view
// ids the connection may bind and the operations it may exercise.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GeeoIO/geeo-server/constants"
	"github.com/GeeoIO/geeo-server/session"
)

// Capability names carried in the token.
const (
	CapAgent  = "agent"
	CapView   = "view"
	CapPOI    = "poi"
	CapBeacon = "beacon"
)

// Claims are the JWT claims of a capability token.
type Claims struct {
	AgentID string   `json:"agId,omitempty"`
	ViewID  string   `json:"viewId,omitempty"`
	Caps    []string `json:"caps,omitempty"`
	jwt.RegisteredClaims
}

// Capabilities translates the claim's capability list.
func (c *Claims) Capabilities() session.Capabilities {
	caps := session.Capabilities{}
	for _, name := range c.Caps {
		switch name {
		case CapAgent:
			caps.Agent = true
		case CapView:
			caps.View = true
		case CapPOI:
			caps.CreatePOI = true
		case CapBeacon:
			caps.CreateBeacon = true
		}
	}
	return caps
}

// Manager signs and verifies capability tokens with a shared HS256
// secret.
type Manager struct {
	secret []byte
	expiry time.Duration
}

// NewManager creates a token manager. An empty secret disables
// verification failures only in tests; production config must set one.
func NewManager(secret string, expiry time.Duration) *Manager {
	return &Manager{secret: []byte(secret), expiry: expiry}
}

// Issue signs a token granting the given ids and capabilities.
func (m *Manager) Issue(agentID, viewID string, caps []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		AgentID: agentID,
		ViewID:  viewID,
		Caps:    caps,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses and validates a token string.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("missing token: %w", constants.ErrInvalidToken)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), constants.ErrInvalidToken)
	}
	if !parsed.Valid {
		return nil, constants.ErrInvalidToken
	}
	return claims, nil
}
