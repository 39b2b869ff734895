// Package consent issues and verifies consent tokens. A token is an
// HMAC-signed JWT binding a tenant, a subject reference, and the scope of
// checks the subject agreed to, with an explicit expiry.
package consent

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
)

// Scope is the set of check types covered by a consent grant.
type Scope []contracts.CheckType

// Covers reports whether the scope includes the check.
func (s Scope) Covers(check contracts.CheckType) bool {
	for _, c := range s {
		if c == check {
			return true
		}
	}
	return false
}

// Grant is the verified content of a consent token.
type Grant struct {
	TenantID   string
	SubjectRef string
	Scope      Scope
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Valid reports whether the grant is unexpired at the given instant.
func (g *Grant) Valid(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

type claims struct {
	SubjectRef string   `json:"sub_ref"`
	TenantID   string   `json:"tenant_id"`
	Scope      []string `json:"scope"`
	jwt.RegisteredClaims
}

// Service signs and verifies consent tokens with a shared HMAC key.
type Service struct {
	key []byte
}

// NewService creates a consent service. The key never leaves the service.
func NewService(key []byte) *Service {
	return &Service{key: key}
}

// Issue signs a consent token for the grant.
func (s *Service) Issue(g Grant) (string, error) {
	scope := make([]string, len(g.Scope))
	for i, c := range g.Scope {
		scope[i] = string(c)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SubjectRef: g.SubjectRef,
		TenantID:   g.TenantID,
		Scope:      scope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(g.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(g.ExpiresAt),
		},
	})
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("consent: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token. Expired tokens return a
// ConsentExpired fault; anything else malformed is a Validation fault.
func (s *Service) Verify(token string) (*Grant, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, faults.Wrap(faults.KindConsentExpired, "consent.verify", "consent token expired", err)
		}
		return nil, faults.Wrap(faults.KindValidation, "consent.verify", "invalid consent token", err)
	}
	if !parsed.Valid {
		return nil, faults.New(faults.KindValidation, "consent.verify", "invalid consent token")
	}

	scope := make(Scope, len(c.Scope))
	for i, v := range c.Scope {
		scope[i] = contracts.CheckType(v)
	}
	g := &Grant{
		TenantID:   c.TenantID,
		SubjectRef: c.SubjectRef,
		Scope:      scope,
	}
	if c.IssuedAt != nil {
		g.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		g.ExpiresAt = c.ExpiresAt.Time
	}
	return g, nil
}
