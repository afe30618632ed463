package polling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-session-sync/core"
)

type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// MergeFunc applies a fetched value to the local cache. It runs while the
// engine lock is held and must not call back into the engine.
type MergeFunc[T any] func(key string, value T)

type EngineConfig[T any] struct {
	Name  string
	Fetch FetchFunc[T]
	Merge MergeFunc[T]
	// Interval <= 0 makes Start a one-shot fetch.
	Interval time.Duration
	Timeout  time.Duration
	Ticker   core.TickerFunc
	Observer *core.Observer
	// AfterMerge runs outside the engine lock once a result was committed.
	AfterMerge func(ctx context.Context, key string)
	OnError    func(ctx context.Context, key string, err error)
}

// Engine is an interval-driven fetch-and-merge loop keyed by a sync key.
// At most one fetch is in flight per engine, across restarts too; ticks that
// fire while a fetch is outstanding are skipped. Results that arrive after
// Stop, or after a restart, are discarded by epoch. A restart that finds a
// stale fetch still running defers its immediate fetch until that one
// returns.
type Engine[T any] struct {
	name       string
	fetch      FetchFunc[T]
	merge      MergeFunc[T]
	interval   time.Duration
	timeout    time.Duration
	ticker     core.TickerFunc
	observer   *core.Observer
	afterMerge func(ctx context.Context, key string)
	onError    func(ctx context.Context, key string, err error)

	mu         sync.Mutex
	idle       *sync.Cond
	epoch      uint64
	running    bool
	key        string
	stopTicker func()

	// outstanding is cleared only by run, so it outlives the epoch that
	// started the fetch.
	outstanding bool
	fetchEpoch  uint64
	pending     bool
	pendingCtx  context.Context
	active      int
}

func NewEngine[T any](cfg EngineConfig[T]) (*Engine[T], error) {
	if cfg.Fetch == nil {
		return nil, core.InternalError("polling: fetch function is required")
	}
	if cfg.Merge == nil {
		return nil, core.InternalError("polling: merge function is required")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "poll"
	}
	ticker := cfg.Ticker
	if ticker == nil {
		ticker = core.SystemTicker
	}
	observer := cfg.Observer
	if observer == nil {
		observer = core.NewObserver("", nil, nil)
	}
	e := &Engine[T]{
		name:       name,
		fetch:      cfg.Fetch,
		merge:      cfg.Merge,
		interval:   cfg.Interval,
		timeout:    cfg.Timeout,
		ticker:     ticker,
		observer:   observer,
		afterMerge: cfg.AfterMerge,
		onError:    cfg.OnError,
	}
	e.idle = sync.NewCond(&e.mu)
	return e, nil
}

// Start stops any previous run, performs an immediate fetch for key and, when
// an interval is configured, schedules further fetches until Stop or until
// ctx is done.
func (e *Engine[T]) Start(ctx context.Context, key string) {
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)

	e.mu.Lock()
	e.stopLocked()
	e.epoch++
	epoch := e.epoch
	e.running = true
	e.key = key
	if e.interval > 0 {
		ticks, stop := e.ticker(e.interval)
		done := make(chan struct{})
		var once sync.Once
		e.stopTicker = func() {
			once.Do(func() {
				stop()
				close(done)
			})
		}
		go e.loop(ctx, epoch, ticks, done)
	}
	e.mu.Unlock()

	e.observer.Debug(ctx, "poll engine started", map[string]any{
		"engine":   e.name,
		"key":      key,
		"interval": e.interval.String(),
	})
	e.trigger(ctx, epoch)
}

// Stop is idempotent. No fetch is initiated after it returns and results of
// fetches still in flight are discarded.
func (e *Engine[T]) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine[T]) stopLocked() {
	if e.stopTicker != nil {
		e.stopTicker()
		e.stopTicker = nil
	}
	if e.running {
		e.epoch++
	}
	e.running = false
	e.pending = false
	e.pendingCtx = nil
	e.key = ""
}

// Refresh requests an out-of-band fetch for the current run. It reports false
// when the engine is stopped or a fetch for the current run is already in
// flight.
func (e *Engine[T]) Refresh(ctx context.Context) bool {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()
	return e.trigger(ctx, epoch)
}

// Resync is Refresh that queues behind an outstanding fetch instead of being
// skipped. At most one queued fetch is kept. It reports false when the engine
// is stopped.
func (e *Engine[T]) Resync(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	if e.outstanding {
		if !e.pending {
			e.pending = true
			e.pendingCtx = ctx
		}
		return true
	}
	e.launchLocked(ctx)
	return true
}

func (e *Engine[T]) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine[T]) Key() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key
}

// Wait blocks until no fetch is running, including one deferred behind a
// stale fetch. Safe to call concurrently with Start and Refresh.
func (e *Engine[T]) Wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.active > 0 {
		e.idle.Wait()
	}
}

func (e *Engine[T]) loop(ctx context.Context, epoch uint64, ticks <-chan time.Time, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			e.mu.Lock()
			if e.epoch == epoch {
				e.stopLocked()
			}
			e.mu.Unlock()
			return
		case <-ticks:
			e.trigger(ctx, epoch)
		}
	}
}

func (e *Engine[T]) trigger(ctx context.Context, epoch uint64) bool {
	e.mu.Lock()
	if !e.running || e.epoch != epoch {
		e.mu.Unlock()
		return false
	}
	if e.outstanding {
		if e.fetchEpoch != epoch && !e.pending {
			e.pending = true
			e.pendingCtx = ctx
			e.mu.Unlock()
			return true
		}
		e.mu.Unlock()
		e.observer.Count(ctx, "poll_tick_skipped", map[string]string{"engine": e.name})
		return false
	}
	e.launchLocked(ctx)
	e.mu.Unlock()
	return true
}

func (e *Engine[T]) launchLocked(ctx context.Context) {
	e.outstanding = true
	e.fetchEpoch = e.epoch
	e.active++
	go e.run(ctx, e.epoch, e.key)
}

// finishLocked releases the outstanding slot and starts a fetch deferred
// behind it, if any.
func (e *Engine[T]) finishLocked() {
	e.outstanding = false
	if e.pending && e.running {
		ctx := e.pendingCtx
		e.pending = false
		e.pendingCtx = nil
		e.launchLocked(ctx)
	}
	e.active--
	if e.active == 0 {
		e.idle.Broadcast()
	}
}

func (e *Engine[T]) run(ctx context.Context, epoch uint64, key string) {
	startedAt := time.Now().UTC()

	value, err := core.CallWithTimeout(core.Detach(ctx), e.timeout, func(ctx context.Context) (T, error) {
		return e.fetch(ctx, key)
	})

	e.mu.Lock()
	if e.epoch != epoch {
		e.finishLocked()
		e.mu.Unlock()
		e.observer.Count(ctx, "poll_result_discarded", map[string]string{"engine": e.name})
		return
	}
	merged := false
	if err == nil {
		e.merge(key, value)
		merged = true
	}
	e.finishLocked()
	e.mu.Unlock()

	if errors.Is(err, core.ErrUserNotResolved) || core.HasTextCode(err, core.ErrorUserNotResolved) {
		e.observer.Debug(ctx, "poll skipped, user not resolved", map[string]any{
			"engine": e.name,
			"key":    key,
		})
		return
	}
	if err != nil {
		err = core.FetchError(err, e.name)
		if e.onError != nil {
			e.onError(ctx, key, err)
		}
	}
	e.observer.ObserveOperation(ctx, startedAt, "poll_fetch", err, map[string]any{
		"engine": e.name,
		"key":    key,
	})
	if merged && e.afterMerge != nil {
		e.afterMerge(ctx, key)
	}
}
