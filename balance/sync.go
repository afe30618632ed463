package balance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/polling"
)

const engineName = "balance"

type Gateway interface {
	core.UserResolver
	core.BalanceReader
}

type Config struct {
	Event string
	// VerifyInterval > 0 re-runs the authoritative fetch periodically.
	VerifyInterval time.Duration
	Timeout        time.Duration
	Ticker         core.TickerFunc
	Observer       *core.Observer
}

// Sync keeps the single reward BalanceSnapshot. The authoritative fetch wins
// over any advisory value received from the signal bus before it.
type Sync struct {
	gateway  Gateway
	bus      core.SignalBus
	event    string
	observer *core.Observer
	engine   *polling.Engine[float64]

	mu         sync.Mutex
	snapshot   core.BalanceSnapshot
	version    uint64
	active     bool
	key        string
	sub        core.Subscription
	subEpoch   uint64
	nextHandle uint64
	listeners  map[uint64]func(ctx context.Context)
}

func NewSync(gateway Gateway, bus core.SignalBus, cfg Config) (*Sync, error) {
	if gateway == nil {
		return nil, core.InternalError("balance: gateway is required")
	}
	if bus == nil {
		return nil, core.InternalError("balance: signal bus is required")
	}
	event := strings.TrimSpace(cfg.Event)
	if event == "" {
		event = core.DefaultBalanceEvent
	}
	observer := cfg.Observer
	if observer == nil {
		observer = core.NewObserver("", nil, nil)
	}
	s := &Sync{
		gateway:   gateway,
		bus:       bus,
		event:     event,
		observer:  observer,
		listeners: map[uint64]func(ctx context.Context){},
	}
	engine, err := polling.NewEngine(polling.EngineConfig[float64]{
		Name:       engineName,
		Fetch:      s.fetch,
		Merge:      s.mergeAuthoritative,
		Interval:   cfg.VerifyInterval,
		Timeout:    cfg.Timeout,
		Ticker:     cfg.Ticker,
		Observer:   observer,
		AfterMerge: func(ctx context.Context, _ string) { s.emit(ctx) },
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// Activate binds the sync to key: it replaces any previous bus subscription,
// then runs an authoritative fetch.
func (s *Sync) Activate(ctx context.Context, key string) error {
	key = core.NormalizeEmail(key)
	if key == "" {
		return core.BadInputError("balance: sync key is required")
	}

	s.mu.Lock()
	previous := s.sub
	s.sub = nil
	s.subEpoch++
	epoch := s.subEpoch
	switched := s.key != key
	if switched {
		s.snapshot = core.BalanceSnapshot{}
	}
	s.key = key
	s.active = true
	s.mu.Unlock()

	if previous != nil {
		previous.Unsubscribe()
	}
	if switched {
		s.emit(ctx)
	}

	sub, err := s.bus.Subscribe(s.event, func(ctx context.Context, value float64) {
		s.applyAdvisory(ctx, epoch, value)
	})
	if err != nil {
		return core.InternalError("balance: subscribe failed: " + err.Error())
	}

	s.mu.Lock()
	if s.subEpoch != epoch || !s.active {
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.engine.Start(ctx, key)
	return nil
}

// Deactivate stops the authoritative fetch and releases the bus subscription.
// It is idempotent.
func (s *Sync) Deactivate() {
	s.engine.Stop()

	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.active = false
	s.subEpoch++
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Reset returns the snapshot to its zero value.
func (s *Sync) Reset(ctx context.Context) {
	s.mu.Lock()
	s.snapshot = core.BalanceSnapshot{}
	s.key = ""
	s.mu.Unlock()
	s.emit(ctx)
}

// Refresh re-runs the authoritative fetch for the active key.
func (s *Sync) Refresh(ctx context.Context) bool {
	return s.engine.Refresh(ctx)
}

// Resync re-runs the authoritative fetch once any in-flight fetch returns.
func (s *Sync) Resync(ctx context.Context) bool {
	return s.engine.Resync(ctx)
}

func (s *Sync) Snapshot() core.BalanceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Sync) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Wait blocks until authoritative fetches started so far have returned.
func (s *Sync) Wait() {
	s.engine.Wait()
}

func (s *Sync) OnChange(fn func(ctx context.Context)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextHandle++
	handle := s.nextHandle
	s.listeners[handle] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, handle)
		s.mu.Unlock()
	}
}

func (s *Sync) fetch(ctx context.Context, key string) (float64, error) {
	userID, err := s.gateway.ResolveUserIDByEmail(ctx, key)
	if err != nil {
		return 0, err
	}
	return s.gateway.FetchBalance(ctx, userID)
}

func (s *Sync) mergeAuthoritative(key string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.key != key {
		return
	}
	if !core.ValidBalance(value) {
		s.observer.Count(context.Background(), "balance_rejected", map[string]string{
			"source": string(core.BalanceSourceAuthoritative),
		})
		return
	}
	s.commitLocked(value, core.BalanceSourceAuthoritative)
}

func (s *Sync) applyAdvisory(ctx context.Context, epoch uint64, value float64) {
	s.mu.Lock()
	if !s.active || s.subEpoch != epoch {
		s.mu.Unlock()
		return
	}
	if !core.ValidBalance(value) {
		s.mu.Unlock()
		s.observer.Count(ctx, "balance_rejected", map[string]string{
			"source": string(core.BalanceSourceAdvisory),
		})
		return
	}
	s.commitLocked(value, core.BalanceSourceAdvisory)
	s.mu.Unlock()

	s.observer.Debug(ctx, "balance advisory update applied", map[string]any{
		"engine": engineName,
		"value":  value,
	})
	s.emit(ctx)
}

func (s *Sync) commitLocked(value float64, source core.BalanceSource) {
	s.version++
	s.snapshot = core.BalanceSnapshot{
		Value:  value,
		AsOf:   s.version,
		Source: source,
	}
}

func (s *Sync) emit(ctx context.Context) {
	s.mu.Lock()
	handles := make([]uint64, 0, len(s.listeners))
	for handle := range s.listeners {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	listeners := make([]func(ctx context.Context), 0, len(handles))
	for _, handle := range handles {
		listeners = append(listeners, s.listeners[handle])
	}
	s.mu.Unlock()
	for _, listener := range listeners {
		listener(ctx)
	}
}
