package gocommand

import (
	"context"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-session-sync/core"
)

func errRegistryNotConfigured() error {
	return core.InternalError("gocommand: registry is not configured")
}

// ValidateMessageContract checks that msg names its type and, when it has a
// Validate method, that it validates.
func ValidateMessageContract(msg any) error {
	m, ok := msg.(command.Message)
	if !ok {
		return core.BadInputError("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return core.BadInputError("gocommand: message type is required")
	}
	return command.ValidateMessage(msg)
}

// RegistryAdapter owns the go-command registry that session intents are
// registered on.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) configured() bool {
	return a != nil && a.registry != nil
}

func (a *RegistryAdapter) register(handler any) error {
	if !a.configured() {
		return errRegistryNotConfigured()
	}
	return a.registry.RegisterCommand(handler)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if !a.configured() {
		return errRegistryNotConfigured()
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors every registered command into a go-job queue
// registry so the same intent can run from a worker.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return core.InternalError("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	return a.configured() && a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if !a.configured() {
		return errRegistryNotConfigured()
	}
	return a.registry.Initialize()
}

// Binding registers one handler on a registry and subscribes it on the
// process dispatcher.
type Binding func(adapter *RegistryAdapter, runnerOpts ...runner.Option) (commanddispatcher.Subscription, error)

func CommandBinding[T any](cmd command.Commander[T]) Binding {
	return func(adapter *RegistryAdapter, runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
		return RegisterAndSubscribe(adapter, cmd, runnerOpts...)
	}
}

func QueryBinding[T any, R any](qry command.Querier[T, R]) Binding {
	return func(adapter *RegistryAdapter, runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
		return RegisterAndSubscribeQuery(adapter, qry, runnerOpts...)
	}
}

// Bind applies bindings in order. On the first failure every subscription
// made so far is released and the error is returned.
func Bind(adapter *RegistryAdapter, bindings []Binding, runnerOpts ...runner.Option) ([]commanddispatcher.Subscription, error) {
	if !adapter.configured() {
		return nil, errRegistryNotConfigured()
	}
	subs := make([]commanddispatcher.Subscription, 0, len(bindings))
	for _, bind := range bindings {
		if bind == nil {
			continue
		}
		sub, err := bind(adapter, runnerOpts...)
		if err != nil {
			Release(subs)
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func Release(subs []commanddispatcher.Subscription) {
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if !adapter.configured() {
		return nil, errRegistryNotConfigured()
	}
	if cmd == nil {
		return nil, core.InternalError("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.register(cmd); err != nil {
		Release([]commanddispatcher.Subscription{subscription})
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if !adapter.configured() {
		return nil, errRegistryNotConfigured()
	}
	if qry == nil {
		return nil, core.InternalError("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.register(qry); err != nil {
		Release([]commanddispatcher.Subscription{subscription})
		return nil, err
	}
	return subscription, nil
}

// Dispatch checks the message contract before handing msg to the dispatcher.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}
