package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/the-marketplace/project/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues HS256 tokens and validates HS256 or, when a JWKS is
// configured, RS256 tokens.
type Manager struct {
	Secret   []byte
	Now      func() time.Time
	TTL      time.Duration
	Issuer   string
	Audience string
	JWKS     *keyfunc.JWKS
}

func NewManager(secret string, ttl time.Duration) Manager {
	return Manager{
		Secret: []byte(secret),
		Now:    func() time.Time { return time.Now().UTC() },
		TTL:    ttl,
	}
}

// NewManagerFromConfig builds a Manager and fetches the JWKS when a URL is set.
func NewManagerFromConfig(cfg config.Auth) (Manager, error) {
	m := NewManager(cfg.Secret, cfg.TTL)
	m.Issuer = cfg.Issuer
	m.Audience = cfg.Audience
	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return Manager{}, fmt.Errorf("load jwks: %w", err)
		}
		m.JWKS = jwks
	}
	if len(m.Secret) == 0 && m.JWKS == nil {
		return Manager{}, errors.New("auth requires JWT_SECRET or JWT_JWKS_URL")
	}
	return m, nil
}

func (m Manager) Sign(userID, username string) (string, error) {
	if len(m.Secret) == 0 {
		return "", errors.New("signing secret not configured")
	}
	now := m.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.TTL)),
		},
	}
	if m.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Secret)
}

func (m Manager) Parse(token string) (Claims, error) {
	var methods []string
	if len(m.Secret) > 0 {
		methods = append(methods, "HS256")
	}
	if m.JWKS != nil {
		methods = append(methods, "RS256")
	}
	// Time-based claims are checked below against m.Now.
	parser := jwt.NewParser(jwt.WithValidMethods(methods), jwt.WithoutClaimsValidation())

	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
			return m.Secret, nil
		}
		if m.JWKS == nil {
			return nil, errors.New("jwks not configured")
		}
		return m.JWKS.Keyfunc(t)
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}
	if !m.Now().Before(claims.ExpiresAt.Time) {
		return Claims{}, ErrExpiredToken
	}
	if m.Issuer != "" && !claims.VerifyIssuer(m.Issuer, true) {
		return Claims{}, ErrInvalidToken
	}
	if m.Audience != "" && !claims.VerifyAudience(m.Audience, true) {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func BearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
