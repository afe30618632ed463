package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// IdentityProvider is the injected wallet/identity capability. The host wires
// exactly one instance per process.
type IdentityProvider interface {
	Init(ctx context.Context) error
	Connect(ctx context.Context) (Identity, error)
	Disconnect(ctx context.Context) error
	GetIdentity(ctx context.Context) (Identity, error)
	Connected() bool
}

type UserProvisioner interface {
	EnsureUser(ctx context.Context, email string, displayName string) (EnsureUserResult, error)
}

type UserResolver interface {
	// ResolveUserIDByEmail returns ErrUserNotResolved when no user exists.
	ResolveUserIDByEmail(ctx context.Context, email string) (string, error)
}

type NotificationReader interface {
	FetchUnreadNotifications(ctx context.Context, userID string) ([]Notification, error)
}

type NotificationAcknowledger interface {
	AcknowledgeNotification(ctx context.Context, id string) error
}

type BalanceReader interface {
	FetchBalance(ctx context.Context, userID string) (float64, error)
}

// RemoteGateway groups the remote operations consumed by the core.
type RemoteGateway interface {
	UserProvisioner
	UserResolver
	NotificationReader
	NotificationAcknowledger
	BalanceReader
}

// MarkerStore persists a single string value across process restarts. It is
// a rehydration hint, never a trust boundary.
type MarkerStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
}

type SignalHandler func(ctx context.Context, value float64)

type Subscription interface {
	Unsubscribe()
}

// SignalBus is the process-wide publish/subscribe channel for numeric events.
type SignalBus interface {
	Publish(ctx context.Context, event string, value float64) error
	Subscribe(event string, handler SignalHandler) (Subscription, error)
}

type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notice) {}

type NotifierFunc func(ctx context.Context, notice Notice)

func (f NotifierFunc) Notify(ctx context.Context, notice Notice) {
	if f != nil {
		f(ctx, notice)
	}
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// TickerFunc starts a ticker for the given interval and returns its channel and
// a stop function. Tests inject manual tickers.
type TickerFunc func(interval time.Duration) (<-chan time.Time, func())

func SystemTicker(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
