package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const identityCacheExpiration = 90 * time.Minute

// IdentityClient resolves a fleet label to a vehicle id and its seating
// capacities against the fleet registry API.
type IdentityClient struct {
	BaseURL string

	identityCache *cache.Cache[string]
}

// SetupIdentityCache enables Redis-backed caching of registry lookups,
// including negative results.
func (c *IdentityClient) SetupIdentityCache(redisClient *redis.Client) {
	redisStore := redisstore.NewRedis(redisClient, store.WithExpiration(identityCacheExpiration))

	c.identityCache = cache.New[string](redisStore)
}

func (c *IdentityClient) ResolveIdentity(ctx context.Context, label string) (*VehicleIdentity, error) {
	cacheKey := fmt.Sprintf("apcflow-identity-%s", label)

	if c.identityCache != nil {
		cacheValue, err := c.identityCache.Get(ctx, cacheKey)
		if err == nil {
			if cacheValue == "N/A" {
				return nil, nil
			}

			var identity *VehicleIdentity
			if err := json.Unmarshal([]byte(cacheValue), &identity); err == nil {
				return identity, nil
			}
		}
	}

	requestURL := fmt.Sprintf("%s/vehicles?label=%s", c.BaseURL, url.QueryEscape(label))

	var identity VehicleIdentity
	found, err := fetchJSON(ctx, requestURL, &identity)
	if err != nil {
		return nil, err
	}

	if !found || identity.VehicleID == "" {
		if c.identityCache != nil {
			// Negative cache stops us hammering the registry for unknown labels
			if err := c.identityCache.Set(ctx, cacheKey, "N/A"); err != nil {
				log.Error().Err(err).Str("label", label).Msg("Failed to cache identity lookup")
			}
		}

		return nil, nil
	}

	if c.identityCache != nil {
		identityJSON, _ := json.Marshal(identity)
		if err := c.identityCache.Set(ctx, cacheKey, string(identityJSON)); err != nil {
			log.Error().Err(err).Str("label", label).Msg("Failed to cache identity lookup")
		}
	}

	return &identity, nil
}
