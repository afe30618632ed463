package balance

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/signal"
)

type fakeBalanceGateway struct {
	mu      sync.Mutex
	users   map[string]string
	balance map[string]float64
	err     error
	gate    chan struct{}
	entered chan struct{}
	fetches int
}

func newFakeBalanceGateway() *fakeBalanceGateway {
	return &fakeBalanceGateway{
		users:   map[string]string{"user@example.com": "user-1", "other@example.com": "user-2"},
		balance: map[string]float64{"user-1": 10, "user-2": 3},
	}
}

func (g *fakeBalanceGateway) ResolveUserIDByEmail(_ context.Context, email string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.users[email]
	if !ok {
		return "", core.ErrUserNotResolved
	}
	return id, nil
}

func (g *fakeBalanceGateway) FetchBalance(_ context.Context, userID string) (float64, error) {
	g.mu.Lock()
	g.fetches++
	value := g.balance[userID]
	err := g.err
	gate := g.gate
	entered := g.entered
	g.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return value, err
}

func (g *fakeBalanceGateway) set(userID string, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balance[userID] = value
}

// countingBus wraps LocalBus and records subscribe/unsubscribe calls.
type countingBus struct {
	*signal.LocalBus
	mu           sync.Mutex
	subscribes   int
	unsubscribes int
}

type countingSubscription struct {
	inner core.Subscription
	bus   *countingBus
}

func (s *countingSubscription) Unsubscribe() {
	s.bus.mu.Lock()
	s.bus.unsubscribes++
	s.bus.mu.Unlock()
	s.inner.Unsubscribe()
}

func (b *countingBus) Subscribe(event string, handler core.SignalHandler) (core.Subscription, error) {
	sub, err := b.LocalBus.Subscribe(event, handler)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.subscribes++
	b.mu.Unlock()
	return &countingSubscription{inner: sub, bus: b}, nil
}

func (b *countingBus) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes, b.unsubscribes
}

var (
	_ Gateway        = (*fakeBalanceGateway)(nil)
	_ core.SignalBus = (*countingBus)(nil)
)

func newTestSync(t *testing.T, gateway *fakeBalanceGateway) (*Sync, *countingBus) {
	t.Helper()
	bus := &countingBus{LocalBus: signal.NewLocalBus()}
	s, err := NewSync(gateway, bus, Config{})
	if err != nil {
		t.Fatalf("new sync: %v", err)
	}
	return s, bus
}

func publish(t *testing.T, bus core.SignalBus, value float64) {
	t.Helper()
	if err := bus.Publish(context.Background(), core.DefaultBalanceEvent, value); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestSync_AuthoritativeOverridesAdvisory(t *testing.T) {
	gateway := newFakeBalanceGateway()
	s, bus := newTestSync(t, gateway)
	defer s.Deactivate()

	if err := s.Activate(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	s.Wait()
	if snap := s.Snapshot(); snap.Value != 10 || snap.Source != core.BalanceSourceAuthoritative {
		t.Fatalf("expected authoritative 10, got %+v", snap)
	}

	publish(t, bus, 42.5)
	advisory := s.Snapshot()
	if advisory.Value != 42.5 || advisory.Source != core.BalanceSourceAdvisory {
		t.Fatalf("expected advisory 42.5, got %+v", advisory)
	}

	if !s.Refresh(context.Background()) {
		t.Fatalf("expected refresh to start")
	}
	s.Wait()
	final := s.Snapshot()
	if final.Value != 10 || final.Source != core.BalanceSourceAuthoritative {
		t.Fatalf("expected authoritative refetch to win, got %+v", final)
	}
	if final.AsOf <= advisory.AsOf {
		t.Fatalf("expected logical version to advance, got %d after %d", final.AsOf, advisory.AsOf)
	}
}

func TestSync_RejectsInvalidAdvisoryPayloads(t *testing.T) {
	gateway := newFakeBalanceGateway()
	s, bus := newTestSync(t, gateway)
	defer s.Deactivate()

	if err := s.Activate(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	s.Wait()
	publish(t, bus, 12)

	for _, value := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		publish(t, bus, value)
		if snap := s.Snapshot(); snap.Value != 12 {
			t.Fatalf("expected snapshot to keep 12 after %v, got %+v", value, snap)
		}
	}
}

func TestSync_RejectsInvalidAuthoritativeValue(t *testing.T) {
	gateway := newFakeBalanceGateway()
	gateway.set("user-1", -5)
	s, _ := newTestSync(t, gateway)
	defer s.Deactivate()

	if err := s.Activate(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	s.Wait()
	if snap := s.Snapshot(); snap.Value != 0 || snap.Source != core.BalanceSourceNone {
		t.Fatalf("expected negative remote value to be rejected, got %+v", snap)
	}
}

func TestSync_IgnoresAdvisoryWhileInactive(t *testing.T) {
	gateway := newFakeBalanceGateway()
	s, bus := newTestSync(t, gateway)

	publish(t, bus, 5)
	if snap := s.Snapshot(); snap.Value != 0 {
		t.Fatalf("expected inactive sync to ignore signals, got %+v", snap)
	}
	if bus.Subscribers(core.DefaultBalanceEvent) != 0 {
		t.Fatalf("expected no subscription before activation")
	}
}

func TestSync_ResubscribesWithoutLeakingListeners(t *testing.T) {
	gateway := newFakeBalanceGateway()
	s, bus := newTestSync(t, gateway)

	for _, key := range []string{"user@example.com", "other@example.com", "user@example.com"} {
		if err := s.Activate(context.Background(), key); err != nil {
			t.Fatalf("activate %s: %v", key, err)
		}
		s.Wait()
		if got := bus.Subscribers(core.DefaultBalanceEvent); got != 1 {
			t.Fatalf("expected exactly one listener after activating %s, got %d", key, got)
		}
	}

	s.Deactivate()
	s.Deactivate()
	subscribes, unsubscribes := bus.counts()
	if subscribes != 3 || unsubscribes != 3 {
		t.Fatalf("expected each subscription released exactly once, got subscribes=%d unsubscribes=%d", subscribes, unsubscribes)
	}
	if bus.Subscribers(core.DefaultBalanceEvent) != 0 {
		t.Fatalf("expected no listeners after deactivate")
	}
}

func TestSync_DeactivateDiscardsInFlightFetch(t *testing.T) {
	gateway := newFakeBalanceGateway()
	gateway.gate = make(chan struct{})
	gateway.entered = make(chan struct{}, 1)
	s, _ := newTestSync(t, gateway)

	if err := s.Activate(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	<-gateway.entered
	s.Deactivate()
	s.Reset(context.Background())
	close(gateway.gate)
	s.Wait()

	if snap := s.Snapshot(); snap != (core.BalanceSnapshot{}) {
		t.Fatalf("expected zero snapshot after deactivate, got %+v", snap)
	}
}

func TestSync_FetchErrorKeepsLastValue(t *testing.T) {
	gateway := newFakeBalanceGateway()
	s, _ := newTestSync(t, gateway)
	defer s.Deactivate()

	if err := s.Activate(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	s.Wait()

	gateway.mu.Lock()
	gateway.err = errors.New("timeout")
	gateway.mu.Unlock()
	s.Refresh(context.Background())
	s.Wait()

	if snap := s.Snapshot(); snap.Value != 10 {
		t.Fatalf("expected last known value kept, got %+v", snap)
	}
}

func TestSync_KeySwitchResetsSnapshot(t *testing.T) {
	gateway := newFakeBalanceGateway()
	gateway.gate = make(chan struct{})
	s, _ := newTestSync(t, gateway)
	defer s.Deactivate()

	close(gateway.gate)
	if err := s.Activate(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	s.Wait()

	changes := 0
	s.OnChange(func(context.Context) { changes++ })
	if err := s.Activate(context.Background(), "other@example.com"); err != nil {
		t.Fatalf("activate other: %v", err)
	}
	s.Wait()
	if snap := s.Snapshot(); snap.Value != 3 {
		t.Fatalf("expected balance for the new key, got %+v", snap)
	}
	if changes < 2 {
		t.Fatalf("expected reset and merge notifications, got %d", changes)
	}
}

func TestSync_ActivateRequiresKey(t *testing.T) {
	s, _ := newTestSync(t, newFakeBalanceGateway())
	if err := s.Activate(context.Background(), " "); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input, got %v", err)
	}
}
