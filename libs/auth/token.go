package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// ServiceTokenSource mints short-lived HS256 tokens that identify this service to the platform API.
// Tokens are reused until shortly before they expire.
type ServiceTokenSource struct {
	secret   []byte
	subject  string
	audience string
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewServiceTokenSource(secret, subject, audience string, ttl time.Duration) *ServiceTokenSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ServiceTokenSource{
		secret:   []byte(strings.TrimSpace(secret)),
		subject:  subject,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *ServiceTokenSource) Token() (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("service token secret not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expires.Add(-s.ttl/5)) {
		return s.token, nil
	}

	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   s.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.token = signed
	s.expires = expires
	return signed, nil
}

// Verify checks an HS256 service token and returns its claims.
func Verify(token, secret, audience string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	return claims, nil
}
