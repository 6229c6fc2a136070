package tickcache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/config"
	"github.com/intradayhq/algolab-gateway/internal/model"
)

// Published key layout. External consumers read these directly, so the
// names are a contract.
const (
	keyPrefix        = "algolab:"
	keyActiveSymbols = "algolab:symbols:active"
	keyTickTotal     = "algolab:metrics:total"
	keyTickCounts    = "algolab:metrics:symbol:counts"
	keyTickLastTime  = "algolab:metrics:tick:last-time"
	keyTickFirstTime = "algolab:metrics:tick:first-time"
	keyTickWindow    = "algolab:metrics:tick:last-minute"
)

func dataKey(channel model.Channel, symbol string) string {
	return keyPrefix + string(channel) + ":" + symbol
}

// RedisTier mirrors inserts into Redis sorted sets scored by arrival time,
// and keeps the tick counters that external dashboards read.
type RedisTier struct {
	client   *redis.Client
	maxItems int
	ttl      time.Duration
	logger   zerolog.Logger
}

// NewRedisTier builds the mirror from config. Connectivity is not probed
// here; the client dials lazily and Ping reports health on demand.
func NewRedisTier(cfg config.RedisConfig, maxItems int, ttl time.Duration, logger zerolog.Logger) *RedisTier {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisTier{
		client:   client,
		maxItems: maxItems,
		ttl:      ttl,
		logger:   logger.With().Str("component", "tickcache.redis").Logger(),
	}
}

// Ping verifies connectivity.
func (r *RedisTier) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisTier) Close() error {
	return r.client.Close()
}

// Add appends one datum and updates every derived key in a single pipelined
// round trip. Tick frames additionally maintain the counters and the
// last-minute window.
func (r *RedisTier) Add(ctx context.Context, channel model.Channel, symbol string, payload []byte, at time.Time) error {
	key := dataKey(channel, symbol)
	arrival := at.UnixMilli()
	score := float64(arrival)

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: payload})
		pipe.Expire(ctx, key, r.ttl)
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-r.maxItems-1))

		pipe.SAdd(ctx, keyActiveSymbols, symbol)
		pipe.Expire(ctx, keyActiveSymbols, r.ttl)

		if channel == model.ChannelTick {
			pipe.Incr(ctx, keyTickTotal)
			pipe.HIncrBy(ctx, keyTickCounts, symbol, 1)
			pipe.Set(ctx, keyTickLastTime, arrival, 0)
			pipe.SetNX(ctx, keyTickFirstTime, arrival, 0)
			// Member must be unique per tick or the window undercounts.
			pipe.ZAdd(ctx, keyTickWindow, redis.Z{
				Score:  score,
				Member: strconv.FormatInt(at.UnixNano(), 10) + ":" + symbol,
			})
			pipe.ZRemRangeByScore(ctx, keyTickWindow, "0", strconv.FormatInt(arrival-time.Minute.Milliseconds()-1, 10))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis add %s: %w", key, err)
	}
	return nil
}

// Recent returns up to n payloads for a symbol, oldest first.
func (r *RedisTier) Recent(ctx context.Context, channel model.Channel, symbol string, n int) ([][]byte, error) {
	if n <= 0 {
		n = r.maxItems
	}
	vals, err := r.client.ZRange(ctx, dataKey(channel, symbol), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range %s: %w", dataKey(channel, symbol), err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
