package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yofarm-hub/ussd/internal/payment"
)

const (
	tokenNamespace = "iotec"
	tokenKey       = "token"
)

// TokenStore shares the payment access token between replicas.
type TokenStore struct {
	cache *Cache
	now   func() time.Time
}

func NewTokenStore(c *Cache) *TokenStore {
	return &TokenStore{cache: c, now: time.Now}
}

func (s *TokenStore) Load(ctx context.Context) (payment.Token, bool, error) {
	raw, err := s.cache.Get(ctx, tokenNamespace, tokenKey)
	if errors.Is(err, ErrMiss) {
		return payment.Token{}, false, nil
	}
	if err != nil {
		return payment.Token{}, false, err
	}
	token, err := decodeToken(raw)
	if err != nil {
		return payment.Token{}, false, err
	}
	return token, true, nil
}

// Save stores the token until it stops being usable.
func (s *TokenStore) Save(ctx context.Context, token payment.Token) error {
	ttl := token.ExpiresAt.Sub(s.now()) - payment.ExpirySkew
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, tokenNamespace, tokenKey, raw, ttl)
}

func decodeToken(raw string) (payment.Token, error) {
	var token payment.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return payment.Token{}, fmt.Errorf("decode cached token: %w", err)
	}
	return token, nil
}
