package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDirectory is a Redis read-through cache in front of a Directory.
// Every inbound webhook resolves its clinic, so lookups are cached briefly.
type CachedDirectory struct {
	next   Directory
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedDirectory(next Directory, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedDirectory{next: next, redis: redisClient, ttl: ttl, logger: logger}
}

func (c *CachedDirectory) GetByID(ctx context.Context, id string) (*Clinic, error) {
	return c.cached(ctx, "id", id, c.next.GetByID)
}

func (c *CachedDirectory) GetByPhone(ctx context.Context, phone string) (*Clinic, error) {
	return c.cached(ctx, "phone", phone, c.next.GetByPhone)
}

func (c *CachedDirectory) GetByWhatsAppPhoneID(ctx context.Context, phoneID string) (*Clinic, error) {
	return c.cached(ctx, "wa", phoneID, c.next.GetByWhatsAppPhoneID)
}

// Invalidate drops every cached lookup for the clinic.
func (c *CachedDirectory) Invalidate(ctx context.Context, clinic *Clinic) error {
	keys := []string{c.key("id", clinic.ID), c.key("phone", clinic.Phone)}
	if clinic.WhatsAppPhoneID != "" {
		keys = append(keys, c.key("wa", clinic.WhatsAppPhoneID))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clinic: invalidate cache: %w", err)
	}
	return nil
}

func (c *CachedDirectory) key(kind, value string) string {
	return fmt.Sprintf("clinic:%s:%s", kind, value)
}

func (c *CachedDirectory) cached(ctx context.Context, kind, value string, load func(context.Context, string) (*Clinic, error)) (*Clinic, error) {
	key := c.key(kind, value)
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var clinic Clinic
		if jsonErr := json.Unmarshal(data, &clinic); jsonErr == nil {
			return &clinic, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("clinic cache read failed", "key", key, "error", err)
	}

	clinic, err := load(ctx, value)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(clinic); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("clinic cache write failed", "key", key, "error", err)
		}
	}
	return clinic, nil
}
