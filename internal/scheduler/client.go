// Package scheduler runs estimate delivery retries on a Redis-backed asynq queue.
package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"estimate_backend/internal/outbox"
	"estimate_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Config is what both the client and the worker read.
type Config interface {
	config.SchedulerConfig
	config.DeliveryConfig
}

// Client enqueues delivery retries. It implements outbox.Scheduler.
type Client struct {
	client      *asynq.Client
	queue       string
	baseDelay   time.Duration
	maxAttempts int
}

var _ outbox.Scheduler = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client:      asynq.NewClient(opt),
		queue:       queueName(cfg),
		baseDelay:   cfg.GetDeliveryRetryBaseDelay(),
		maxAttempts: max(cfg.GetDeliveryMaxAttempts(), 1),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Schedule enqueues a retry for the entry. A retry already queued for the same
// lead and identity is left in place.
func (c *Client) Schedule(ctx context.Context, entry outbox.Entry) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewDeliveryRetryTask(entry)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(taskID(entry)),
		asynq.ProcessIn(outbox.Backoff(c.baseDelay, 1)),
		asynq.MaxRetry(c.maxAttempts-1),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	if q := cfg.GetAsynqQueueName(); q != "" {
		return q
	}
	return "default"
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
