package signal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-session-sync/core"
)

const MessageType = "sessionsync.signal"

// Message is the dispatcher payload for a named numeric signal.
type Message struct {
	Event string
	Value float64
}

func (Message) Type() string { return MessageType }

func (m Message) Validate() error {
	if strings.TrimSpace(m.Event) == "" {
		return fmt.Errorf("signal: event is required")
	}
	return nil
}

// DispatcherBus publishes signals through the process-wide go-command
// dispatcher, so any component subscribed to Message receives them.
type DispatcherBus struct {
	runnerOpts []runner.Option
}

func NewDispatcherBus(runnerOpts ...runner.Option) *DispatcherBus {
	return &DispatcherBus{runnerOpts: runnerOpts}
}

func (b *DispatcherBus) Publish(ctx context.Context, event string, value float64) error {
	msg := Message{Event: strings.TrimSpace(event), Value: value}
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

func (b *DispatcherBus) Subscribe(event string, handler core.SignalHandler) (core.Subscription, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, fmt.Errorf("signal: event is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("signal: handler is required")
	}
	sub := &subscription{}
	cmd := command.CommandFunc[Message](func(ctx context.Context, msg Message) error {
		if msg.Event != event || sub.closed() {
			return nil
		}
		handler(ctx, msg.Value)
		return nil
	})
	sub.release = commanddispatcher.SubscribeCommand(cmd, b.runnerOpts...).Unsubscribe
	return sub, nil
}

// LocalBus is an in-process bus for hosts that do not run a dispatcher.
// Handlers are invoked synchronously in subscription order.
type LocalBus struct {
	mu       sync.Mutex
	next     uint64
	handlers map[string]map[uint64]core.SignalHandler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: map[string]map[uint64]core.SignalHandler{}}
}

func (b *LocalBus) Publish(ctx context.Context, event string, value float64) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("signal: event is required")
	}
	b.mu.Lock()
	registered := b.handlers[event]
	ids := make([]uint64, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sortIDs(ids)
	handlers := make([]core.SignalHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, registered[id])
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, value)
	}
	return nil
}

func (b *LocalBus) Subscribe(event string, handler core.SignalHandler) (core.Subscription, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, fmt.Errorf("signal: event is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("signal: handler is required")
	}
	b.mu.Lock()
	b.next++
	id := b.next
	if b.handlers[event] == nil {
		b.handlers[event] = map[uint64]core.SignalHandler{}
	}
	b.handlers[event][id] = handler
	b.mu.Unlock()

	return &subscription{release: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[event], id)
		if len(b.handlers[event]) == 0 {
			delete(b.handlers, event)
		}
	}}, nil
}

// Subscribers reports how many handlers are registered for event.
func (b *LocalBus) Subscribers(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[strings.TrimSpace(event)])
}

type subscription struct {
	once    sync.Once
	mu      sync.Mutex
	done    bool
	release func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		if s.release != nil {
			s.release()
		}
	})
}

func (s *subscription) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

var (
	_ core.SignalBus    = (*DispatcherBus)(nil)
	_ core.SignalBus    = (*LocalBus)(nil)
	_ core.Subscription = (*subscription)(nil)
)
