package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/cache"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time           { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("cache down")
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (failingStore) Delete(context.Context, string) error { return nil }

func newTestManager(t *testing.T, store cache.Store, clk *clock) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(ServiceTokenConfig{
		Issuer:     "telecare",
		Audience:   "diagnosis-service",
		Lifetime:   time.Hour,
		SigningKey: testSigningKey,
	}, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m.WithClock(clk.Now)
}

func TestNewTokenManager_RequiresKey(t *testing.T) {
	if _, err := NewTokenManager(ServiceTokenConfig{}, cache.NewMemoryStore(), zerolog.Nop()); err == nil {
		t.Fatal("expected error without signing key")
	}
}

func TestTokenManager_MintClaims(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(t, cache.NewMemoryStore(), clk)

	tok, err := m.Mint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tok.ExpiresAt.Equal(clk.t.Add(time.Hour)) {
		t.Errorf("unexpected expiry %s", tok.ExpiresAt)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(tok.Token, claims, func(*jwt.Token) (interface{}, error) {
		return testSigningKey, nil
	}); err != nil {
		t.Fatalf("failed to parse minted token: %v", err)
	}
	if claims["iss"] != "telecare" || claims["aud"] != "diagnosis-service" || claims["scope"] != DiagnosisScope {
		t.Errorf("unexpected claims %v", claims)
	}
	if claims["jti"] == "" || claims["jti"] == nil {
		t.Error("expected jti claim")
	}
}

func TestTokenManager_ReusesCachedToken(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStore().WithClock(clk.Now)
	m := newTestManager(t, store, clk)
	ctx := context.Background()

	first, err := m.Token(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.Advance(30 * time.Minute)
	second, err := m.Token(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected cached token to be reused")
	}
}

func TestTokenManager_RefreshesInsideBuffer(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStore().WithClock(clk.Now)
	m := newTestManager(t, store, clk)
	ctx := context.Background()

	first, _ := m.Token(ctx)
	// 4 minutes of validity left: inside the 5 minute buffer.
	clk.Advance(56 * time.Minute)
	second, err := m.Token(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Error("expected a new token inside the refresh buffer")
	}

	var cached ServiceToken
	if err := cache.GetJSON(ctx, store, ServiceTokenCacheKey, &cached); err != nil {
		t.Fatalf("expected cached token: %v", err)
	}
	if cached.Token != second {
		t.Error("expected refreshed token to be cached")
	}
}

func TestTokenManager_CorruptedEntry(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStore().WithClock(clk.Now)
	_ = store.Set(context.Background(), ServiceTokenCacheKey, []byte("not-json"), time.Hour)
	m := newTestManager(t, store, clk)

	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok == "" {
		t.Error("expected a freshly minted token")
	}
}

func TestTokenManager_CacheFailuresDoNotFail(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(t, failingStore{}, clk)

	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok == "" {
		t.Error("expected a token even when the cache is down")
	}
}

func TestTokenManager_RefreshAlwaysMints(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(t, cache.NewMemoryStore().WithClock(clk.Now), clk)
	ctx := context.Background()

	a, _ := m.Token(ctx)
	b, err := m.Refresh(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b.Token {
		t.Error("expected Refresh to mint a distinct token")
	}
}
