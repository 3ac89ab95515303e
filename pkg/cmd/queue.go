package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowpilot/pkg/queue"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "flowpilot"

// NewQueue creates the tick queue and the per-flow locker from memory:// or redis://host:port/db.
// The in-memory pair only coordinates workers inside one process.
func NewQueue(logger *slog.Logger, queueURL string) (queue.Queue, queue.Locker) {
	switch {
	case queueURL == "" || strings.HasPrefix(queueURL, "memory://"):
		return queue.NewMemoryQueue(0), queue.NewMemoryLocker()
	case strings.HasPrefix(queueURL, "redis://"), strings.HasPrefix(queueURL, "rediss://"):
		opts, err := redis.ParseURL(queueURL)
		if err != nil {
			panic(fmt.Errorf("failed to parse redis URL: %w", err))
		}

		client := redis.NewClient(opts)

		return queue.NewRedisQueue(logger, client, queue.RedisQueueOptions{}),
			queue.NewRedisLocker(client, lockPrefix, 0)
	default:
		panic("Unsupported queue provider: " + queueURL)
	}
}
