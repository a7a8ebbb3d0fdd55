// Package cache is an optional redis-backed cache for normalized inference
// answers. Only file-less requests are cacheable; uploads change what the
// pipeline sees without changing the form parameters.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sparrow-api/internal/engine"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type AnswerCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *zap.SugaredLogger
}

// New returns a cache over redisClient. A nil client disables the cache; both
// Get and Set become no-ops.
func New(redisClient *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *AnswerCache {
	return &AnswerCache{redis: redisClient, ttl: ttl, log: log}
}

// Key derives the cache key for an inference request. Every parameter that
// reaches the delegate participates, so requests differing in any of them
// never share an answer.
func Key(p engine.InferenceParams) string {
	parts := []string{
		p.Agent,
		p.IndexName,
		p.Query,
		strings.Join(p.Fields, ","),
		strings.Join(p.Types, ","),
		strings.Join(p.Keywords, ","),
		strings.Join(p.Options, ","),
		strconv.FormatBool(p.GroupByRows),
		strconv.FormatBool(p.UpdateTargets),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return fmt.Sprintf("v1:answer:%s", hex.EncodeToString(sum[:]))
}

func (c *AnswerCache) Get(ctx context.Context, key string) (any, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warnw("Answer cache read failed", "error", err)
		}
		return nil, false
	}
	var answer any
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		c.log.Warnw("Discarding unparsable cached answer", "key", key, "error", err)
		return nil, false
	}
	return answer, true
}

func (c *AnswerCache) Set(ctx context.Context, key string, answer any) {
	if c == nil || c.redis == nil {
		return
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		c.log.Warnw("Failed marshalling answer for cache", "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warnw("Answer cache write failed", "error", err)
	}
}
