package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// ExpirySkew is how long before literal expiry a token stops being used.
	ExpirySkew = 30 * time.Second

	defaultExpiresIn      = 300 * time.Second
	defaultRefreshTimeout = 15 * time.Second
	refreshKey            = "access_token"
)

// Token is a bearer credential issued by the provider.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be presented at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt.Add(-ExpirySkew))
}

// TokenFetcher requests a new token from the issuer.
type TokenFetcher func(ctx context.Context) (Token, error)

// TokenStore shares tokens between processes.
type TokenStore interface {
	Load(ctx context.Context) (Token, bool, error)
	Save(ctx context.Context, token Token) error
}

// TokenCache holds the process-wide bearer token. Concurrent callers that
// find it stale share one refresh.
type TokenCache struct {
	fetch   TokenFetcher
	store   TokenStore
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration

	mu       sync.RWMutex
	token    Token
	rejected string
	group    singleflight.Group
}

type TokenCacheOption func(*TokenCache)

// WithTokenStore consults store before asking the issuer.
func WithTokenStore(store TokenStore) TokenCacheOption {
	return func(c *TokenCache) { c.store = store }
}

func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

func WithRefreshTimeout(timeout time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithCacheLogger(logger *zap.Logger) TokenCacheOption {
	return func(c *TokenCache) { c.logger = logger }
}

func NewTokenCache(fetch TokenFetcher, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		fetch:   fetch,
		logger:  zap.NewNop(),
		now:     time.Now,
		timeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid access token, refreshing it when stale.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token.AccessToken, nil
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrServiceUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Token).AccessToken, nil
	}
}

// Invalidate marks accessToken as rejected by the provider. The cached copy
// is dropped and a shared store holding the same token is bypassed until a
// new one has been issued.
func (c *TokenCache) Invalidate(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if accessToken == "" {
		return
	}
	c.rejected = accessToken
	if c.token.AccessToken == accessToken {
		c.token = Token{}
	}
}

func (c *TokenCache) cached() (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.token.Valid(c.now())
}

func (c *TokenCache) set(token Token) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *TokenCache) isRejected(token Token) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rejected != "" && token.AccessToken == c.rejected
}

// refresh runs at most once at a time. It is detached from the cancellation
// of the caller that started it, since other callers wait on the result.
func (c *TokenCache) refresh(ctx context.Context) (Token, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if c.store != nil {
		token, found, err := c.store.Load(ctx)
		if err != nil {
			c.logger.Warn("shared token store unavailable", zap.Error(err))
		} else if found && token.Valid(c.now()) && !c.isRejected(token) {
			c.set(token)
			return token, nil
		}
	}

	token, err := c.fetch(ctx)
	if err != nil {
		return Token{}, err
	}
	c.set(token)
	c.logger.Info("payment access token refreshed", zap.Time("expires_at", token.ExpiresAt))

	if c.store != nil {
		if err := c.store.Save(ctx, token); err != nil {
			c.logger.Warn("failed to share payment access token", zap.Error(err))
		}
	}
	return token, nil
}
