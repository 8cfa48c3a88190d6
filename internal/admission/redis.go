package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pausedSetKey    = "camforge:admission:paused"
	ratePrefixKey   = "camforge:admission:rate:"
	rateKeyPadding  = 2 // extra windows kept before the key expires
	redisOpDeadline = 2 * time.Second
)

// RedisController shares admission state across API instances through a
// sorted-set sliding window per route class and a set of paused queues.
type RedisController struct {
	client *redis.Client
	rules  map[string]Rule
}

var _ Controller = (*RedisController)(nil)

func NewRedisController(client *redis.Client, rules map[string]Rule) *RedisController {
	return &RedisController{client: client, rules: rules}
}

func (r *RedisController) Pause(ctx context.Context, queue string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpDeadline)
	defer cancel()
	return r.client.SAdd(ctx, pausedSetKey, queue).Err()
}

func (r *RedisController) Resume(ctx context.Context, queue string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpDeadline)
	defer cancel()
	return r.client.SRem(ctx, pausedSetKey, queue).Err()
}

func (r *RedisController) IsPaused(ctx context.Context, queue string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpDeadline)
	defer cancel()
	return r.client.SIsMember(ctx, pausedSetKey, queue).Result()
}

func (r *RedisController) PausedQueues(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpDeadline)
	defer cancel()
	queues, err := r.client.SMembers(ctx, pausedSetKey).Result()
	if err != nil {
		return nil, err
	}
	return queues, nil
}

func (r *RedisController) Allow(ctx context.Context, class string, id Identity) (bool, error) {
	rule, found := r.rules[class]
	if !found {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpDeadline)
	defer cancel()

	key := ratePrefixKey + BucketKey(class, id)
	now := time.Now()
	cutoff := now.Add(-rule.Window)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("admission window for %q: %w", class, err)
	}

	if card.Val() >= int64(rule.Limit) {
		return false, nil
	}

	member := uuid.NewString()
	add := r.client.TxPipeline()
	add.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	add.Expire(ctx, key, rule.Window*rateKeyPadding)
	if _, err := add.Exec(ctx); err != nil {
		return false, fmt.Errorf("admission record for %q: %w", class, err)
	}

	return true, nil
}
