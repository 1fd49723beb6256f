package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisQueue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// Prefix namespaces the list keys (default "takeoff:").
	Prefix string

	// PollInterval bounds each blocking pop so Dequeue notices a cancelled
	// context (default 1s).
	PollInterval time.Duration

	// ConnectTimeout bounds the initial connection attempts (default 10s).
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// RedisQueue keeps tasks in Redis lists, one per priority level. Producers
// LPUSH and workers BRPOP, so each list is FIFO and higher priority lists
// are drained first.
type RedisQueue struct {
	client *redis.Client
	prefix string
	poll   time.Duration
	logger *slog.Logger
	closed atomic.Bool
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue connects to Redis, retrying until ConnectTimeout.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "takeoff:"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	err := retry.Do(
		func() error {
			return client.Ping(cctx).Err()
		},
		retry.Context(cctx),
		retry.Attempts(0),
		retry.Delay(250*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("waiting for redis", "addr", cfg.Addr, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("connected to redis queue", "addr", cfg.Addr, "prefix", prefix)
	return &RedisQueue{client: client, prefix: prefix, poll: poll, logger: logger}, nil
}

// keys returns the list keys from highest to lowest priority.
func (q *RedisQueue) keys() []string {
	return []string{q.prefix + "tasks:high", q.prefix + "tasks:normal", q.prefix + "tasks:low"}
}

func (q *RedisQueue) keyFor(priority int) string {
	keys := q.keys()
	switch {
	case priority >= PriorityHigh:
		return keys[0]
	case priority >= PriorityNormal:
		return keys[1]
	default:
		return keys[2]
	}
}

// Enqueue pushes a task onto the list for its priority.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if err := t.validate(); err != nil {
		return err
	}
	data, err := t.encode()
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.keyFor(t.Priority), data).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue pops the oldest task of the highest non-empty priority.
func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if q.closed.Load() {
			return Task{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}

		res, err := q.client.BRPop(ctx, q.poll, q.keys()...).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return Task{}, ErrQueueClosed
			}
			return Task{}, fmt.Errorf("redis brpop: %w", err)
		case len(res) != 2:
			return Task{}, fmt.Errorf("redis brpop: unexpected reply %v", res)
		}

		t, err := decodeTask([]byte(res[1]))
		if err != nil {
			// A poison message is logged and skipped.
			q.logger.Warn("dropping undecodable task", "list", res[0], "error", err)
			continue
		}
		return t, nil
	}
}

// Len returns the number of waiting tasks across priorities.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, 3)
	for _, key := range q.keys() {
		cmds = append(cmds, pipe.LLen(ctx, key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	total := 0
	for _, c := range cmds {
		total += int(c.Val())
	}
	return total, nil
}

// Ping checks the connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the client.
func (q *RedisQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.client.Close()
}
