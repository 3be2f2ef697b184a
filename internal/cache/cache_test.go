package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yofarm-hub/ussd/internal/payment"
)

func TestDecodeToken(t *testing.T) {
	expires := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	token, err := decodeToken(`{"access_token":"abc","expires_at":"2026-03-01T10:00:00Z"}`)
	if err != nil {
		t.Fatalf("decodeToken: %v", err)
	}
	if token.AccessToken != "abc" || !token.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected token: %+v", token)
	}

	if _, err := decodeToken("not-json"); err == nil {
		t.Fatalf("expected error for corrupt entry")
	}
}

func TestTokenStoreSkipsStaleTokens(t *testing.T) {
	// An unreachable server proves Save returns before any round trip.
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1}))
	defer c.Close()

	store := NewTokenStore(c)
	stale := payment.Token{AccessToken: "old", ExpiresAt: time.Now().Add(payment.ExpirySkew / 2)}
	if err := store.Save(context.Background(), stale); err != nil {
		t.Fatalf("stale token should be skipped, got %v", err)
	}
}

func TestTokenStoreUnreachable(t *testing.T) {
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1}))
	defer c.Close()

	if _, _, err := NewTokenStore(c).Load(context.Background()); err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
}
