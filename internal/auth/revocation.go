package auth

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRURevocationCache is a bounded in-process revocation list. Entries are
// keyed by the raw token string; eviction of old entries is acceptable
// because tokens age out by expiry anyway.
type LRURevocationCache struct {
	cache *lru.Cache[string, struct{}]
}

// NewLRURevocationCache creates a cache holding up to size revoked tokens.
func NewLRURevocationCache(size int) (*LRURevocationCache, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &LRURevocationCache{cache: cache}, nil
}

// Revoke marks a token as invalidated.
func (c *LRURevocationCache) Revoke(token string) {
	c.cache.Add(token, struct{}{})
}

func (c *LRURevocationCache) IsRevoked(_ context.Context, token string) (bool, error) {
	_, revoked := c.cache.Get(token)
	return revoked, nil
}
