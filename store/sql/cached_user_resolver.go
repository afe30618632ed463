package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-session-sync/core"
)

const userIDCacheKeyPrefix = "go-session-sync::user_id::v1"

// CachedUserResolver memoizes email to user id lookups. Misses are never
// cached, so a user provisioned after a failed lookup resolves on the next
// poll.
type CachedUserResolver struct {
	base  core.UserResolver
	cache repositorycache.CacheService
}

func NewCachedUserResolver(base core.UserResolver, cacheService repositorycache.CacheService) (*CachedUserResolver, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base user resolver is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: user id cache service is required")
	}
	return &CachedUserResolver{base: base, cache: cacheService}, nil
}

// UserIDCacheKey returns go-session-sync::user_id::v1::<escaped email>.
func UserIDCacheKey(email string) (string, error) {
	email = core.NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("sqlstore: email is required")
	}
	return strings.Join([]string{userIDCacheKeyPrefix, url.PathEscape(email)}, "::"), nil
}

func (r *CachedUserResolver) ResolveUserIDByEmail(ctx context.Context, email string) (string, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return "", fmt.Errorf("sqlstore: cached user resolver is not configured")
	}
	cacheKey, err := UserIDCacheKey(email)
	if err != nil {
		return "", err
	}
	return repositorycache.GetOrFetch(ctx, r.cache, cacheKey, func(ctx context.Context) (string, error) {
		return r.base.ResolveUserIDByEmail(ctx, core.NormalizeEmail(email))
	})
}

// Invalidate drops the cached id for email.
func (r *CachedUserResolver) Invalidate(ctx context.Context, email string) error {
	if r == nil || r.cache == nil {
		return nil
	}
	cacheKey, err := UserIDCacheKey(email)
	if err != nil {
		return err
	}
	return r.cache.Delete(ctx, cacheKey)
}

var _ core.UserResolver = (*CachedUserResolver)(nil)
