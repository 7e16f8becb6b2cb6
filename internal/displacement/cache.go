package displacement

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 6 * time.Hour

// CachedResolver keeps successful quotes in Redis. Cache failures are logged
// and fall through to the inner resolver, so a broken cache never invents a
// quote.
type CachedResolver struct {
	inner Resolver
	redis *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

func NewCachedResolver(inner Resolver, client *redis.Client, ttl time.Duration, log *slog.Logger) *CachedResolver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedResolver{
		inner: inner,
		redis: client,
		ttl:   ttl,
		log:   log.With(slog.String("component", "displacement.cache")),
	}
}

func (c *CachedResolver) key(tenantID, cep string) string {
	return "agenda:displacement:" + tenantID + ":" + cep
}

func (c *CachedResolver) Resolve(ctx context.Context, tenantID, postalCode string) (Quote, error) {
	cep, ok := NormalizePostalCode(postalCode)
	if !ok {
		return Quote{}, ErrUnresolvable
	}
	key := c.key(tenantID, cep)

	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var q Quote
		if jsonErr := json.Unmarshal(data, &q); jsonErr == nil {
			return q, nil
		}
		c.log.Warn("discarding malformed cached quote", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("displacement cache read failed", slog.Any("err", err), slog.String("tenant_id", tenantID))
	}

	q, err := c.inner.Resolve(ctx, tenantID, cep)
	if err != nil {
		return Quote{}, err
	}

	payload, err := json.Marshal(q)
	if err == nil {
		if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.Warn("displacement cache write failed", slog.Any("err", err), slog.String("tenant_id", tenantID))
		}
	}
	return q, nil
}
