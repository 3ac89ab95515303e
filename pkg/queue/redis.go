package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spaolacci/murmur3"
)

const (
	defaultKeyPrefix   = "flowpilot"
	defaultPartitions  = 8
	defaultPollTimeout = 2 * time.Second
	defaultLockTTL     = 5 * time.Minute
	lockRetryInterval  = 50 * time.Millisecond
)

type RedisQueueOptions struct {
	Prefix      string
	Partitions  int
	PollTimeout time.Duration
}

// RedisQueue spreads tasks over N lists chosen by murmur3(flow id), so one flow's ticks
// always land on the same list and keep their order.
type RedisQueue struct {
	client      redis.UniversalClient
	logger      *slog.Logger
	keys        []string
	pollTimeout time.Duration
	cursor      atomic.Uint32
	closed      atomic.Bool
}

func NewRedisQueue(logger *slog.Logger, client redis.UniversalClient, opts RedisQueueOptions) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = defaultKeyPrefix
	}

	if opts.Partitions <= 0 {
		opts.Partitions = defaultPartitions
	}

	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}

	keys := make([]string, opts.Partitions)
	for i := range keys {
		keys[i] = opts.Prefix + ":ticks:" + strconv.Itoa(i)
	}

	return &RedisQueue{
		client:      client,
		logger:      logger.With("module", "redis_queue"),
		keys:        keys,
		pollTimeout: opts.PollTimeout,
	}
}

// Partition returns the list index a flow's tasks are pushed to.
func (q *RedisQueue) Partition(flowID string) int {
	return int(murmur3.Sum32([]byte(flowID)) % uint32(len(q.keys)))
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if q.closed.Load() {
		return ErrClosed
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	key := q.keys[q.Partition(task.FlowID)]

	err = q.client.LPush(ctx, key, payload).Err()
	if err != nil {
		return fmt.Errorf("enqueue flow %s: %w", task.FlowID, err)
	}

	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if q.closed.Load() {
			return Task{}, ErrClosed
		}

		if ctx.Err() != nil {
			return Task{}, ctx.Err()
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, q.rotatedKeys()...).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}

			return Task{}, fmt.Errorf("dequeue: %w", err)
		}

		var task Task

		err = json.Unmarshal([]byte(res[1]), &task)
		if err != nil {
			q.logger.ErrorContext(ctx, "Dropping malformed task", "key", res[0], "error", err)

			continue
		}

		return task, nil
	}
}

// rotatedKeys starts each BRPOP at a different list; BRPOP always checks keys in order.
func (q *RedisQueue) rotatedKeys() []string {
	start := int(q.cursor.Add(1)) % len(q.keys)

	keys := make([]string, 0, len(q.keys))
	keys = append(keys, q.keys[start:]...)
	keys = append(keys, q.keys[:start]...)

	return keys
}

func (q *RedisQueue) Close() error {
	q.closed.Store(true)

	return nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker takes SET NX PX locks and releases them only when the token still matches.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &RedisLocker{client: client, prefix: prefix + ":lock:", ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	token := uuid.NewString()
	lockKey := l.prefix + key

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}

		if ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}
