package identity

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedVerifier memoises successful verifications so reconnect storms
// (a tablet fleet coming back after a Wi-Fi drop) do not re-parse every
// token. Failures are never cached.
type CachedVerifier struct {
	inner Verifier
	cache *ristretto.Cache[string, Claims]
	ttl   time.Duration
	now   func() time.Time
}

// NewCachedVerifier wraps inner with a cache holding up to maxEntries
// claims for at most ttl each.
func NewCachedVerifier(inner Verifier, maxEntries int64, ttl time.Duration) (*CachedVerifier, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, Claims]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedVerifier{inner: inner, cache: c, ttl: ttl, now: time.Now}, nil
}

var _ Verifier = (*CachedVerifier)(nil)

// Verify returns cached claims for token when present and unexpired,
// otherwise delegates to the wrapped verifier.
func (v *CachedVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrTokenRequired
	}

	now := v.now()
	if c, ok := v.cache.Get(token); ok {
		if c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt) {
			return c, nil
		}
		v.cache.Del(token)
	}

	c, err := v.inner.Verify(ctx, token)
	if err != nil {
		return Claims{}, err
	}

	ttl := v.ttl
	if !c.ExpiresAt.IsZero() {
		if remaining := c.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		v.cache.SetWithTTL(token, c, 1, ttl)
	}
	return c, nil
}

// Wait blocks until pending cache writes are applied.
func (v *CachedVerifier) Wait() {
	v.cache.Wait()
}

// Close releases the cache's background goroutines.
func (v *CachedVerifier) Close() {
	v.cache.Close()
}
