package gojob

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/polling"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

// JobIDNotificationAcknowledge is the go-job id of deferred remote
// acknowledgements enqueued by the notification sync.
const JobIDNotificationAcknowledge = polling.AcknowledgeJobID

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a core job message to go-job.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

// FromExecutionMessage maps a go-job message into the core contract.
func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

func toNackOptions(opts core.JobNackOptions) queue.NackOptions {
	disposition := queue.NackDispositionFailed
	switch {
	case opts.DeadLetter:
		disposition = queue.NackDispositionDeadLetter
	case opts.Requeue:
		disposition = queue.NackDispositionRetry
	}
	return queue.NackOptions{
		Disposition: disposition,
		Delay:       opts.Delay,
		Reason:      opts.Reason,
	}
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return core.InternalError("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return core.BadInputError("gojob: execution message is required")
	}
	_, err := a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
	return err
}

type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy

	once sync.Once
	msg  *core.JobExecutionMessage
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy}
}

// Message maps the underlying message once so handlers can annotate it
// before nacking.
func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	d.once.Do(func() {
		d.msg = FromExecutionMessage(d.delivery.Message())
	})
	return d.msg
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return core.InternalError("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

// Nack applies the retry policy using the attempt count recorded on the
// message by the acknowledge worker.
func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	attempt := recordedAttempt(d.Message())
	if d != nil && d.delivery != nil && attempt > 0 {
		if raw := d.delivery.Message(); raw != nil {
			if raw.Parameters == nil {
				raw.Parameters = map[string]any{}
			}
			raw.Parameters[polling.ParamAcknowledgeAttempts] = attempt
		}
	}
	return d.NackForAttempt(ctx, opts, attempt)
}

func (d *DeliveryAdapter) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	if d == nil || d.delivery == nil {
		return core.InternalError("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, attempt)
	return d.delivery.Nack(ctx, toNackOptions(normalized))
}

func recordedAttempt(msg *core.JobExecutionMessage) int {
	if msg == nil {
		return 0
	}
	switch value := msg.Parameters[polling.ParamAcknowledgeAttempts].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, core.InternalError("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return NewDeliveryAdapter(delivery, a.policy), nil
}

// NewAcknowledgeWorker drains acknowledge jobs from a go-job dequeuer. The
// retry policy bounds the worker's attempt budget and nack delays.
func NewAcknowledgeWorker(
	dequeuer queue.Dequeuer,
	acker core.NotificationAcknowledger,
	policy RetryPolicy,
	config polling.AcknowledgeWorkerConfig,
) (*polling.AcknowledgeWorker, error) {
	if dequeuer == nil {
		return nil, core.InternalError("gojob: dequeuer is required")
	}
	if config.MaxAttempts <= 0 && policy.MaxAttempts > 0 {
		config.MaxAttempts = policy.MaxAttempts
	}
	if config.Backoff == nil && policy.MaxDelay > 0 {
		config.Backoff = core.ExponentialBackoffScheduler{Max: policy.MaxDelay}
	}
	return polling.NewAcknowledgeWorker(NewDequeuerAdapter(dequeuer, policy), acker, config)
}

// WorkerHookAdapter lets a go-job worker report acknowledge job lifecycle
// events to a core.JobWorkerHook.
type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, mapWorkerEvent(event))
}

func mapWorkerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer = (*DequeuerAdapter)(nil)
	_ worker.Hook      = (*WorkerHookAdapter)(nil)
)
