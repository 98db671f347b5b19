// Package controlsocket implements AgentOS's daemon control socket: a
// line-delimited RPC surface — here a WebSocket connection carrying one
// JSON envelope per frame — exposing the kernel's in-process
// query/command methods to external operator tooling (cmd/aos,
// dashboards, watchers). The server accepts operator connections rather
// than dialing out, the inverse of a typical message-broker client.
package controlsocket

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the operator principal behind a control-socket
// connection — no user/roles catalogue, just a subject and the
// registered claim set.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 bearer tokens gating
// control-socket connections.
type TokenService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

// NewTokenService builds a TokenService signing with secret.
func NewTokenService(secret string, expiration time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiration: expiration, issuer: "agentos/controlsocket"}
}

// IssueToken mints a bearer token for subject (an operator identity).
func (s *TokenService) IssueToken(subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and verifies a bearer token, rejecting expired or
// mis-signed tokens.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("controlsocket: unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("controlsocket: invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("controlsocket: invalid token claims")
	}
	return claims, nil
}
