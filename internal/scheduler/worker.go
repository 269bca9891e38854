package scheduler

import (
	"context"
	"fmt"
	"time"

	"estimate_backend/internal/outbox"
	"estimate_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker consumes delivery retries and hands them to the reconciler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	deliverer outbox.Deliverer
	log       *logger.Logger
}

func NewWorker(cfg Config, deliverer outbox.Deliverer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	w := &Worker{
		mux:       asynq.NewServeMux(),
		deliverer: deliverer,
		log:       log,
	}

	base := cfg.GetDeliveryRetryBaseDelay()
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
		// n is the number of retries already done; the first run counted as attempt 1.
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return outbox.Backoff(base, n+2)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(w.handleError),
	})

	w.mux.HandleFunc(TaskDeliveryRetry, w.handleDeliveryRetry)
	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleDeliveryRetry(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDeliveryRetryPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.LeadID == "" || payload.Identity == "" {
		return fmt.Errorf("%w: incomplete payload", asynq.SkipRetry)
	}
	return w.deliverer.RetryDelivery(ctx, payload.LeadID, payload.Identity)
}

// handleError logs the final failure once asynq stops retrying. The identity
// stays pending so a later follow or message can still complete the delivery.
func (w *Worker) handleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry {
		w.log.Warn("delivery retry failed", "task", task.Type(), "attempt", retried+1, "error", err)
		return
	}
	payload, _ := ParseDeliveryRetryPayload(task)
	w.log.Error("delivery retries exhausted",
		"lead_id", payload.LeadID,
		"identity", payload.Identity,
		"attempts", retried+1,
		"error", err,
	)
}
