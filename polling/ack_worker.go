package polling

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-session-sync/core"
)

const ParamAcknowledgeAttempts = "_ack_attempts"

type AcknowledgeWorkerConfig struct {
	MaxAttempts int
	Backoff     core.BackoffScheduler
	Timeout     time.Duration
	Hook        core.JobWorkerHook
	Observer    *core.Observer
}

func DefaultAcknowledgeWorkerConfig() AcknowledgeWorkerConfig {
	return AcknowledgeWorkerConfig{
		MaxAttempts: 5,
		Backoff: core.ExponentialBackoffScheduler{
			Initial: 2 * time.Second,
			Max:     5 * time.Minute,
		},
	}
}

type WorkerStats struct {
	Processed    int
	Acknowledged int
	Retried      int
	DeadLettered int
	Ignored      int
}

// AcknowledgeWorker drains deferred acknowledge jobs and calls the remote
// acknowledger. Failed attempts are nacked with exponential backoff until the
// attempt budget is spent, then dead-lettered.
type AcknowledgeWorker struct {
	dequeuer core.JobDequeuer
	acker    core.NotificationAcknowledger
	config   AcknowledgeWorkerConfig
	observer *core.Observer
	now      func() time.Time

	// attempts tracks retries per idempotency key for queues that do not
	// carry mutated parameters across redeliveries.
	mu       sync.Mutex
	attempts map[string]int
}

func NewAcknowledgeWorker(
	dequeuer core.JobDequeuer,
	acker core.NotificationAcknowledger,
	config AcknowledgeWorkerConfig,
) (*AcknowledgeWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("polling: job dequeuer is required")
	}
	if acker == nil {
		return nil, fmt.Errorf("polling: notification acknowledger is required")
	}
	defaults := DefaultAcknowledgeWorkerConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Backoff == nil {
		config.Backoff = defaults.Backoff
	}
	observer := config.Observer
	if observer == nil {
		observer = core.NewObserver("", nil, nil)
	}
	return &AcknowledgeWorker{
		dequeuer: dequeuer,
		acker:    acker,
		config:   config,
		observer: observer,
		attempts: map[string]int{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// ProcessNext dequeues and handles a single delivery.
func (w *AcknowledgeWorker) ProcessNext(ctx context.Context) (WorkerStats, error) {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return WorkerStats{}, err
	}
	if delivery == nil {
		return WorkerStats{}, nil
	}
	return w.Handle(ctx, delivery)
}

// Run processes deliveries until ctx is done or the dequeuer fails.
func (w *AcknowledgeWorker) Run(ctx context.Context) (WorkerStats, error) {
	var total WorkerStats
	for {
		if err := ctx.Err(); err != nil {
			return total, nil
		}
		stats, err := w.ProcessNext(ctx)
		total = total.add(stats)
		if err != nil {
			if ctx.Err() != nil {
				return total, nil
			}
			return total, err
		}
	}
}

func (w *AcknowledgeWorker) Handle(ctx context.Context, delivery core.JobDelivery) (WorkerStats, error) {
	stats := WorkerStats{Processed: 1}
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) != AcknowledgeJobID {
		stats.Ignored = 1
		return stats, delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "unsupported job",
		})
	}

	id := strings.TrimSpace(fmt.Sprint(msg.Parameters[ParamNotificationID]))
	if id == "" || id == "<nil>" {
		stats.DeadLettered = 1
		return stats, delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "missing notification id",
		})
	}

	attempt := w.nextAttempt(msg)
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: w.now()}
	w.hook(func(h core.JobWorkerHook) { h.OnStart(ctx, event) })

	err := core.RunWithTimeout(ctx, w.config.Timeout, func(ctx context.Context) error {
		return w.acker.AcknowledgeNotification(ctx, id)
	})
	event.Duration = w.now().Sub(event.StartedAt)
	w.observer.ObserveOperation(ctx, event.StartedAt, "notification_acknowledge_job", err, map[string]any{
		"engine":          notificationsEngineName,
		"notification_id": id,
		"attempt":         attempt,
	})

	if err == nil {
		w.hook(func(h core.JobWorkerHook) { h.OnSuccess(ctx, event) })
		w.forget(msg)
		stats.Acknowledged = 1
		return stats, delivery.Ack(ctx)
	}

	event.Err = core.AcknowledgeError(err, id)
	if attempt >= w.config.MaxAttempts {
		w.hook(func(h core.JobWorkerHook) { h.OnFailure(ctx, event) })
		w.forget(msg)
		stats.DeadLettered = 1
		return stats, delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		})
	}

	event.Delay = w.config.Backoff.NextDelay(attempt)
	if msg.Parameters == nil {
		msg.Parameters = map[string]any{}
	}
	msg.Parameters[ParamAcknowledgeAttempts] = attempt
	w.hook(func(h core.JobWorkerHook) { h.OnRetry(ctx, event) })
	stats.Retried = 1
	return stats, delivery.Nack(ctx, core.JobNackOptions{
		Delay:   event.Delay,
		Requeue: true,
		Reason:  err.Error(),
	})
}

func (w *AcknowledgeWorker) hook(fn func(core.JobWorkerHook)) {
	if w.config.Hook != nil {
		fn(w.config.Hook)
	}
}

func (w *AcknowledgeWorker) nextAttempt(msg *core.JobExecutionMessage) int {
	attempt := acknowledgeAttempt(msg)
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key == "" {
		return attempt + 1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if seen := w.attempts[key]; seen > attempt {
		attempt = seen
	}
	attempt++
	w.attempts[key] = attempt
	return attempt
}

func (w *AcknowledgeWorker) forget(msg *core.JobExecutionMessage) {
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key == "" {
		return
	}
	w.mu.Lock()
	delete(w.attempts, key)
	w.mu.Unlock()
}

func acknowledgeAttempt(msg *core.JobExecutionMessage) int {
	if msg == nil || msg.Parameters == nil {
		return 0
	}
	switch value := msg.Parameters[ParamAcknowledgeAttempts].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return 0
}

func (s WorkerStats) add(other WorkerStats) WorkerStats {
	s.Processed += other.Processed
	s.Acknowledged += other.Acknowledged
	s.Retried += other.Retried
	s.DeadLettered += other.DeadLettered
	s.Ignored += other.Ignored
	return s
}
