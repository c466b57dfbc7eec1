// Package rediscache wraps a link repository with a cache-aside layer for
// the redirect read path. Writes invalidate; reads fill.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linkloom/linkloom/internal/entity"
	"github.com/redis/go-redis/v9"
)

type linkRepository interface {
	Save(ctx context.Context, link *entity.Link) (*entity.Link, error)
	RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.Link, error)
	UpdateState(ctx context.Context, link *entity.Link) (*entity.Link, error)
	RegisterClick(ctx context.Context, shortCode string) error
	Remove(ctx context.Context, shortCode string) error
}

// NewClient creates a Redis client from a connection string and verifies
// the connection.
func NewClient(ctx context.Context, connString string) (*redis.Client, error) {
	const op = "adapter.repository.rediscache.NewClient"

	opt, err := redis.ParseURL(connString)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse connection string: %w", op, err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s: failed to ping redis: %w", op, err)
	}

	return client, nil
}

// LinkRepository is a cache-aside decorator. Cache failures degrade to
// the underlying repository; they are never surfaced to callers.
type LinkRepository struct {
	inner linkRepository
	cache *redis.Client
	ttl   time.Duration
}

func NewLinkRepository(inner linkRepository, cache *redis.Client, ttl time.Duration) *LinkRepository {
	return &LinkRepository{
		inner: inner,
		cache: cache,
		ttl:   ttl,
	}
}

func cacheKey(shortCode string) string {
	return "link:" + shortCode
}

func (r *LinkRepository) Save(ctx context.Context, link *entity.Link) (*entity.Link, error) {
	return r.inner.Save(ctx, link)
}

func (r *LinkRepository) RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.Link, error) {
	if cached, err := r.cache.Get(ctx, cacheKey(shortCode)).Bytes(); err == nil {
		var link entity.Link
		if err := json.Unmarshal(cached, &link); err == nil {
			return &link, nil
		}
	}

	link, err := r.inner.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(link); err == nil {
		r.cache.Set(ctx, cacheKey(shortCode), data, r.ttl)
	}

	return link, nil
}

func (r *LinkRepository) UpdateState(ctx context.Context, link *entity.Link) (*entity.Link, error) {
	updated, err := r.inner.UpdateState(ctx, link)
	if err != nil {
		return nil, err
	}

	r.cache.Del(ctx, cacheKey(link.ShortCode))

	return updated, nil
}

func (r *LinkRepository) RegisterClick(ctx context.Context, shortCode string) error {
	if err := r.inner.RegisterClick(ctx, shortCode); err != nil {
		return err
	}

	// The cached copy's counter is stale until the TTL runs out; the
	// counter is served from the database on stats reads, so that is fine.
	return nil
}

func (r *LinkRepository) Remove(ctx context.Context, shortCode string) error {
	if err := r.inner.Remove(ctx, shortCode); err != nil {
		return err
	}

	r.cache.Del(ctx, cacheKey(shortCode))

	return nil
}
