package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/goliatone/go-session-sync/adapters/gologger"
	"github.com/goliatone/go-session-sync/balance"
	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/polling"
	"github.com/goliatone/go-session-sync/session"
)

// State is the read-only view handed to the presentation layer. A state
// whose session is not logged in never carries notifications or a balance.
type State struct {
	Session       core.Session
	Notifications []core.Notification
	Balance       core.BalanceSnapshot
}

func (s State) UnreadCount() int {
	return len(s.Notifications)
}

// Coordinator composes the session manager, the notification poller and the
// balance sync, and owns their teardown.
type Coordinator struct {
	config        core.Config
	logger        core.Logger
	observer      *core.Observer
	manager       *session.Manager
	notifications *polling.NotificationSync
	balance       *balance.Sync

	ctx    context.Context
	cancel context.CancelFunc

	// publishMu keeps watcher callbacks ordered.
	publishMu sync.Mutex

	mu         sync.Mutex
	activeKey  string
	closed     bool
	nextHandle uint64
	watchers   map[uint64]func(State)
	detach     []func()
}

func New(provider core.IdentityProvider, gateway core.RemoteGateway, bus core.SignalBus, opts ...Option) (*Coordinator, error) {
	b := builder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&b)
	}

	loggers := gologger.Resolve(core.DefaultServiceName, b.loggerProvider, b.logger)
	logger := loggers.Logger
	if b.metrics == nil {
		b.metrics = core.NopMetricsRecorder{}
	}
	if gateway == nil {
		return nil, core.InternalError("coordinator: remote gateway is required")
	}
	if bus == nil {
		return nil, core.InternalError("coordinator: signal bus is required")
	}

	cfg, err := core.ResolveConfig(context.Background(), b.runtimeConfig, b.configProvider, b.optionsResolver)
	if err != nil {
		return nil, core.MapError(err)
	}
	observer := core.NewObserver(cfg.ServiceName, logger, b.metrics)

	manager, err := session.NewManager(provider, gateway,
		session.WithConfig(cfg),
		session.WithLogger(loggers.Component("session")),
		session.WithMetrics(b.metrics),
		session.WithMarkerStore(b.markers),
		session.WithNotifier(b.notifier),
	)
	if err != nil {
		return nil, err
	}
	notifications, err := polling.NewNotificationSync(gateway, polling.NotificationSyncConfig{
		Interval: cfg.Notifications.PollInterval,
		Timeout:  cfg.RequestTimeout,
		Ticker:   b.ticker,
		Observer: observer,
		Enqueuer: b.enqueuer,
	})
	if err != nil {
		return nil, err
	}
	balanceSync, err := balance.NewSync(gateway, bus, balance.Config{
		Event:          cfg.Balance.Event,
		VerifyInterval: cfg.Balance.VerifyInterval,
		Timeout:        cfg.RequestTimeout,
		Ticker:         b.ticker,
		Observer:       observer,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		config:        cfg,
		logger:        logger,
		observer:      observer,
		manager:       manager,
		notifications: notifications,
		balance:       balanceSync,
		ctx:           ctx,
		cancel:        cancel,
		watchers:      map[uint64]func(State){},
	}
	c.detach = append(c.detach,
		manager.OnChange(c.onSessionChange),
		manager.OnBeforeLogout(c.beforeLogout),
		manager.OnProvisioned(c.onProvisioned),
		notifications.OnChange(c.publish),
		balanceSync.OnChange(c.publish),
	)
	return c, nil
}

func (c *Coordinator) Config() core.Config {
	return c.config
}

// State returns the current composed view.
func (c *Coordinator) State() State {
	state := State{Session: c.manager.Session()}
	if !state.Session.LoggedIn() {
		return state
	}
	state.Notifications = c.notifications.Unread()
	state.Balance = c.balance.Snapshot()
	return state
}

// Watch registers fn to receive every state change. fn runs synchronously
// and must not invoke intents on the coordinator.
func (c *Coordinator) Watch(fn func(State)) (stop func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	c.nextHandle++
	handle := c.nextHandle
	c.watchers[handle] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, handle)
		c.mu.Unlock()
	}
}

// Start runs session initialization. Only a misconfigured provider is
// returned as an error; recoverable failures are logged and leave the
// session LoggedOut.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	err := c.manager.Initialize(ctx)
	if err == nil {
		return nil
	}
	if !core.IsRecoverable(err) {
		return err
	}
	c.observer.Warn(ctx, "session restore failed", map[string]any{"error": err.Error()})
	return nil
}

func (c *Coordinator) Login(ctx context.Context) (session.LoginResult, error) {
	if err := c.ensureOpen(); err != nil {
		return session.LoginResult{}, err
	}
	return c.manager.Login(ctx)
}

func (c *Coordinator) Logout(ctx context.Context) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.manager.Logout(ctx)
}

func (c *Coordinator) RefreshIdentity(ctx context.Context) (core.Identity, error) {
	if err := c.ensureOpen(); err != nil {
		return core.Identity{}, err
	}
	return c.manager.RefreshIdentity(ctx)
}

// AcknowledgeNotification removes id from the unread set at once. A remote
// failure is returned but never restores the item.
func (c *Coordinator) AcknowledgeNotification(ctx context.Context, id string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.notifications.Acknowledge(ctx, id)
}

// Refresh requests an immediate notification poll and balance refetch.
func (c *Coordinator) Refresh(ctx context.Context) {
	if c.ensureOpen() != nil {
		return
	}
	c.notifications.Refresh(ctx)
	c.balance.Refresh(ctx)
}

// Wait blocks until every fetch started so far has returned.
func (c *Coordinator) Wait() {
	c.notifications.Wait()
	c.balance.Wait()
}

// Close stops polling, releases the balance subscription and detaches all
// listeners. It is idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	detach := c.detach
	c.detach = nil
	c.watchers = map[uint64]func(State){}
	c.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	c.deactivate(c.ctx)
	c.cancel()
	c.observer.Debug(context.Background(), "coordinator closed", nil)
	return nil
}

func (c *Coordinator) onSessionChange(ctx context.Context, prev core.Session, next core.Session) {
	key, ok := next.SyncKey()
	if !ok {
		c.deactivate(ctx)
		c.publish(ctx)
		return
	}

	c.mu.Lock()
	unchanged := c.activeKey == key
	c.activeKey = key
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if unchanged && c.notifications.Running() && c.balance.Active() {
		c.publish(ctx)
		return
	}

	c.notifications.Stop()
	c.balance.Deactivate()
	c.notifications.Start(c.ctx, key)
	if err := c.balance.Activate(c.ctx, key); err != nil {
		c.observer.Error(ctx, "balance activation failed", map[string]any{
			"error": err.Error(),
			"key":   key,
		})
	}
	c.observer.Debug(ctx, "sync engines started", map[string]any{
		"key":     key,
		"version": next.Version,
		"from":    string(prev.State),
	})
	c.publish(ctx)
}

// onProvisioned re-reads both engines for a user created after they started,
// since their first reads could not resolve the user yet.
func (c *Coordinator) onProvisioned(ctx context.Context, email string, _ core.EnsureUserResult) {
	c.mu.Lock()
	current := c.activeKey == email && !c.closed
	c.mu.Unlock()
	if !current {
		return
	}
	c.notifications.Resync(c.ctx)
	c.balance.Resync(c.ctx)
	c.observer.Debug(ctx, "sync engines resynced after provisioning", map[string]any{"key": email})
}

func (c *Coordinator) beforeLogout(ctx context.Context, _ core.Session) {
	c.deactivate(ctx)
	c.publish(ctx)
}

// deactivate stops both engines and clears their caches.
func (c *Coordinator) deactivate(ctx context.Context) {
	c.notifications.Stop()
	c.balance.Deactivate()
	c.notifications.Reset(ctx)
	c.balance.Reset(ctx)

	c.mu.Lock()
	c.activeKey = ""
	c.mu.Unlock()
}

func (c *Coordinator) publish(context.Context) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	handles := make([]uint64, 0, len(c.watchers))
	for handle := range c.watchers {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	watchers := make([]func(State), 0, len(handles))
	for _, handle := range handles {
		watchers = append(watchers, c.watchers[handle])
	}
	c.mu.Unlock()
	if len(watchers) == 0 {
		return
	}

	state := c.State()
	for _, watcher := range watchers {
		watcher(state)
	}
}

func (c *Coordinator) ensureOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.InternalError("coordinator: closed")
	}
	return nil
}
