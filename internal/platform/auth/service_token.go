package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/cache"
)

const (
	// ServiceTokenCacheKey is where the outbound diagnosis token is cached.
	ServiceTokenCacheKey = "service_token:diagnosis"
	// RefreshBuffer is the minimum remaining validity before a cached token
	// is replaced.
	RefreshBuffer = 5 * time.Minute
	// DiagnosisScope is granted to every minted service token.
	DiagnosisScope = "diagnosis:write"
)

// ServiceToken is a minted bearer token for calling the diagnosis service.
type ServiceToken struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ServiceTokenConfig configures token minting.
type ServiceTokenConfig struct {
	Issuer     string
	Audience   string
	Subject    string
	Lifetime   time.Duration
	SigningKey []byte
}

// TokenManager mints and caches the service token. There is no lock around
// refresh; concurrent callers may each mint a token and the last cache write
// wins. Every minted token is independently valid.
type TokenManager struct {
	cfg    ServiceTokenConfig
	cache  cache.Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewTokenManager(cfg ServiceTokenConfig, store cache.Store, logger zerolog.Logger) (*TokenManager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("service token: signing key is required")
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = time.Hour
	}
	if cfg.Subject == "" {
		cfg.Subject = "telecare-backend"
	}
	return &TokenManager{cfg: cfg, cache: store, logger: logger, now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	m.now = now
	return m
}

// Token returns a cached token with at least RefreshBuffer of validity left,
// minting a new one otherwise. Cache failures never fail the caller.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	var cached ServiceToken
	err := cache.GetJSON(ctx, m.cache, ServiceTokenCacheKey, &cached)
	switch {
	case err == nil:
		if cached.Token != "" && cached.ExpiresAt.Sub(m.now()) >= RefreshBuffer {
			return cached.Token, nil
		}
	case errors.Is(err, cache.ErrMiss):
	default:
		m.logger.Warn().Err(err).Str("key", ServiceTokenCacheKey).Msg("service token cache read failed")
	}

	tok, err := m.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

// Refresh mints a new token and stores it, regardless of what is cached.
func (m *TokenManager) Refresh(ctx context.Context) (*ServiceToken, error) {
	tok, err := m.Mint()
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, m.cache, ServiceTokenCacheKey, tok, m.cfg.Lifetime); err != nil {
		m.logger.Warn().Err(err).Str("key", ServiceTokenCacheKey).Msg("service token cache write failed")
	}
	m.logger.Debug().Time("expires_at", tok.ExpiresAt).Msg("service token refreshed")
	return tok, nil
}

// Mint signs a new HS256 token without touching the cache.
func (m *TokenManager) Mint() (*ServiceToken, error) {
	now := m.now().UTC().Truncate(time.Second)
	exp := now.Add(m.cfg.Lifetime)

	claims := jwt.MapClaims{
		"iss":   m.cfg.Issuer,
		"sub":   m.cfg.Subject,
		"scope": DiagnosisScope,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"jti":   uuid.New().String(),
	}
	if m.cfg.Audience != "" {
		claims["aud"] = m.cfg.Audience
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("service token: sign: %w", err)
	}
	return &ServiceToken{Token: signed, IssuedAt: now, ExpiresAt: exp}, nil
}
