package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/session"
	"github.com/goliatone/go-session-sync/signal"
)

type stubProvider struct {
	mu            sync.Mutex
	initErr       error
	connected     bool
	identity      core.Identity
	disconnectErr error
}

func (p *stubProvider) Init(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initErr
}

func (p *stubProvider) Connect(context.Context) (core.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return p.identity, nil
}

func (p *stubProvider) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return p.disconnectErr
}

func (p *stubProvider) GetIdentity(context.Context) (core.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity, nil
}

func (p *stubProvider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

type stubGateway struct {
	mu            sync.Mutex
	users         map[string]string
	notifications []core.Notification
	balance       float64
	ensureCalls   map[string]int
	fetches       int
	balanceCalls  int
	acked         []string
	notifyGate    chan struct{}
	notifyEntered chan struct{}
	ensureGate    chan struct{}
	resolveCalls  int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		users:       map[string]string{},
		ensureCalls: map[string]int{},
		balance:     10,
		notifications: []core.Notification{
			{ID: "n1", Type: "reward", Message: "You earned 5 points", CreatedAt: time.Unix(100, 0)},
			{ID: "n2", Type: "reward", Message: "You earned 3 points", CreatedAt: time.Unix(200, 0)},
		},
	}
}

func (g *stubGateway) EnsureUser(_ context.Context, email string, _ string) (core.EnsureUserResult, error) {
	g.mu.Lock()
	gate := g.ensureGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureCalls[email]++
	if id, ok := g.users[email]; ok {
		return core.EnsureUserResult{UserID: id}, nil
	}
	id := "user-" + email
	g.users[email] = id
	return core.EnsureUserResult{UserID: id, Created: true}, nil
}

func (g *stubGateway) ResolveUserIDByEmail(_ context.Context, email string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolveCalls++
	id, ok := g.users[email]
	if !ok {
		return "", core.ErrUserNotResolved
	}
	return id, nil
}

func (g *stubGateway) FetchUnreadNotifications(context.Context, string) ([]core.Notification, error) {
	g.mu.Lock()
	g.fetches++
	items := append([]core.Notification(nil), g.notifications...)
	gate := g.notifyGate
	entered := g.notifyEntered
	g.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return items, nil
}

func (g *stubGateway) AcknowledgeNotification(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acked = append(g.acked, id)
	return nil
}

func (g *stubGateway) FetchBalance(context.Context, string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balanceCalls++
	return g.balance, nil
}

func (g *stubGateway) counts() (fetches int, balanceCalls int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches, g.balanceCalls
}

var (
	_ core.IdentityProvider = (*stubProvider)(nil)
	_ core.RemoteGateway    = (*stubGateway)(nil)
)

func idleTicker(time.Duration) (<-chan time.Time, func()) {
	return make(chan time.Time), func() {}
}

type fixture struct {
	coordinator *Coordinator
	provider    *stubProvider
	gateway     *stubGateway
	bus         *signal.LocalBus
}

func newFixture(t *testing.T, identity core.Identity) fixture {
	t.Helper()
	f := fixture{
		provider: &stubProvider{identity: identity},
		gateway:  newStubGateway(),
		bus:      signal.NewLocalBus(),
	}
	c, err := New(f.provider, f.gateway, f.bus, WithTicker(idleTicker))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	f.coordinator = c
	return f
}

func assertNoStaleData(t *testing.T, state State) {
	t.Helper()
	if state.Session.LoggedIn() {
		return
	}
	if len(state.Notifications) != 0 || state.Balance != (core.BalanceSnapshot{}) {
		t.Errorf("logged out state carries authenticated data: %+v", state)
	}
}

func TestCoordinator_LoginStartsSyncAndExposesState(t *testing.T) {
	f := newFixture(t, core.Identity{Email: "alice@example.com", DisplayName: "Alice"})
	ctx := context.Background()

	if err := f.coordinator.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := f.coordinator.Login(ctx)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Outcome != session.LoginNewUser {
		t.Fatalf("expected new user, got %s", result.Outcome)
	}
	f.coordinator.Wait()

	state := f.coordinator.State()
	if !state.Session.LoggedIn() {
		t.Fatalf("expected logged in state")
	}
	if state.UnreadCount() != 2 || state.Notifications[0].ID != "n2" {
		t.Fatalf("unexpected notifications %+v", state.Notifications)
	}
	if state.Balance.Value != 10 || state.Balance.Source != core.BalanceSourceAuthoritative {
		t.Fatalf("unexpected balance %+v", state.Balance)
	}
	if f.bus.Subscribers(core.DefaultBalanceEvent) != 1 {
		t.Fatalf("expected one balance subscription")
	}
}

func TestCoordinator_ResyncsWhenUserIsCreatedAfterEnginesStart(t *testing.T) {
	f := newFixture(t, core.Identity{Email: "erin@example.com"})
	ctx := context.Background()
	gate := make(chan struct{})
	f.gateway.ensureGate = gate

	type loginOutcome struct {
		result session.LoginResult
		err    error
	}
	done := make(chan loginOutcome, 1)
	go func() {
		result, err := f.coordinator.Login(ctx)
		done <- loginOutcome{result: result, err: err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.gateway.mu.Lock()
		resolves := f.gateway.resolveCalls
		f.gateway.mu.Unlock()
		if resolves >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("engines did not attempt their first reads")
		}
		time.Sleep(2 * time.Millisecond)
	}
	f.coordinator.Wait()
	if state := f.coordinator.State(); state.UnreadCount() != 0 || state.Balance.Value != 0 {
		t.Fatalf("expected empty sync state before provisioning, got %+v", state)
	}

	close(gate)
	outcome := <-done
	if outcome.err != nil || outcome.result.Outcome != session.LoginNewUser {
		t.Fatalf("expected new user login, got %+v", outcome)
	}
	f.coordinator.Wait()

	state := f.coordinator.State()
	if state.UnreadCount() != 2 {
		t.Fatalf("expected notifications after provisioning, got %+v", state.Notifications)
	}
	if state.Balance.Value != 10 || state.Balance.Source != core.BalanceSourceAuthoritative {
		t.Fatalf("expected balance after provisioning, got %+v", state.Balance)
	}
}

func TestCoordinator_LogoutClearsBeforeLoggedOutIsObservable(t *testing.T) {
	f := newFixture(t, core.Identity{Email: "bob@example.com"})
	ctx := context.Background()
	f.gateway.users["bob@example.com"] = "user-bob"

	if _, err := f.coordinator.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	f.coordinator.Wait()
	if f.coordinator.State().UnreadCount() == 0 {
		t.Fatalf("expected notifications before logout")
	}

	sawLoggedOut := false
	f.coordinator.Watch(func(state State) {
		assertNoStaleData(t, state)
		if state.Session.State == core.SessionLoggedOut {
			sawLoggedOut = true
			if f.coordinator.notifications.Count() != 0 {
				t.Errorf("notification cache not cleared before logged out was published")
			}
			if f.coordinator.balance.Snapshot() != (core.BalanceSnapshot{}) {
				t.Errorf("balance not cleared before logged out was published")
			}
			if f.coordinator.notifications.Running() || f.coordinator.balance.Active() {
				t.Errorf("engines still running when logged out was published")
			}
		}
	})

	if err := f.coordinator.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !sawLoggedOut {
		t.Fatalf("expected watcher to observe logged out")
	}
	if f.bus.Subscribers(core.DefaultBalanceEvent) != 0 {
		t.Fatalf("expected balance subscription released")
	}
	state := f.coordinator.State()
	if state.UnreadCount() != 0 || state.Balance.Value != 0 {
		t.Fatalf("expected empty state after logout, got %+v", state)
	}
}

func TestCoordinator_LogoutClearsEvenWhenDisconnectFails(t *testing.T) {
	f := newFixture(t, core.Identity{Email: "carol@example.com"})
	f.provider.disconnectErr = errors.New("provider offline")
	ctx := context.Background()

	if _, err := f.coordinator.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	f.coordinator.Wait()

	if err := f.coordinator.Logout(ctx); !core.HasTextCode(err, core.ErrorProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	state := f.coordinator.State()
	if state.Session.State != core.SessionLoggedOut {
		t.Fatalf("expected logged out, got %s", state.Session.State)
	}
	assertNoStaleData(t, state)
}

func TestCoordinator_IdentityWithoutEmailNeverStartsEngines(t *testing.T) {
	f := newFixture(t, core.Identity{ExternalID: "wallet-0xabc"})
	ctx := context.Background()

	result, err := f.coordinator.Login(ctx)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Outcome != session.LoginNoEmail {
		t.Fatalf("expected no-email outcome, got %s", result.Outcome)
	}
	f.coordinator.Wait()

	state := f.coordinator.State()
	if state.Session.State != core.SessionLoggedIn {
		t.Fatalf("expected logged in, got %s", state.Session.State)
	}
	if len(f.gateway.ensureCalls) != 0 {
		t.Fatalf("expected ensureUser never called, got %v", f.gateway.ensureCalls)
	}
	if fetches, balanceCalls := f.gateway.counts(); fetches != 0 || balanceCalls != 0 {
		t.Fatalf("expected no sync fetches, got notifications=%d balance=%d", fetches, balanceCalls)
	}
	if f.coordinator.notifications.Running() || f.coordinator.balance.Active() {
		t.Fatalf("expected engines idle")
	}
	if f.bus.Subscribers(core.DefaultBalanceEvent) != 0 {
		t.Fatalf("expected no balance subscription")
	}
}

func TestCoordinator_ImmediateLogoutNeverShowsNotifications(t *testing.T) {
	f := newFixture(t, core.Identity{Email: "dave@example.com"})
	f.gateway.users["dave@example.com"] = "user-dave"
	f.gateway.notifyGate = make(chan struct{})
	f.gateway.notifyEntered = make(chan struct{}, 1)
	ctx := context.Background()

	var mu sync.Mutex
	maxUnread := 0
	f.coordinator.Watch(func(state State) {
		mu.Lock()
		defer mu.Unlock()
		if state.UnreadCount() > maxUnread {
			maxUnread = state.UnreadCount()
		}
	})

	if _, err := f.coordinator.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	<-f.gateway.notifyEntered
	if err := f.coordinator.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(f.gateway.notifyGate)
	f.coordinator.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxUnread != 0 {
		t.Fatalf("expected notifications never rendered, saw %d", maxUnread)
	}
	if f.coordinator.State().UnreadCount() != 0 {
		t.Fatalf("expected empty notifications after late poll result")
	}
}

func TestCoordinator_AdvisoryBalanceThenAuthoritativeRefetch(t *testing.T) {
	f := newFixture(t, core.Identity{Email: "erin@example.com"})
	f.gateway.users["erin@example.com"] = "user-erin"
	ctx := context.Background()

	if _, err := f.coordinator.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	f.coordinator.Wait()
	if got := f.coordinator.State().Balance.Value; got != 10 {
		t.Fatalf("expected authoritative 10, got %v", got)
	}

	if err := f.bus.Publish(ctx, core.DefaultBalanceEvent, 42.5); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := f.coordinator.State().Balance.Value; got != 42.5 {
		t.Fatalf("expected advisory 42.5, got %v", got)
	}
	if err := f.bus.Publish(ctx, core.DefaultBalanceEvent, -3); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := f.coordinator.State().Balance.Value; got != 42.5 {
		t.Fatalf("expected negative payload rejected, got %v", got)
	}

	f.coordinator.Refresh(ctx)
	f.coordinator.Wait()
	if got := f.coordinator.State().Balance.Value; got != 10 {
		t.Fatalf("expected authoritative refetch to restore 10, got %v", got)
	}
}

func TestCoordinator_AcknowledgeNotification(t *testing.T) {
	f := newFixture(t, core.Identity{Email: "finn@example.com"})
	f.gateway.users["finn@example.com"] = "user-finn"
	ctx := context.Background()

	if _, err := f.coordinator.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	f.coordinator.Wait()

	if err := f.coordinator.AcknowledgeNotification(ctx, "n1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	state := f.coordinator.State()
	if state.UnreadCount() != 1 || state.Notifications[0].ID != "n2" {
		t.Fatalf("expected n1 removed, got %+v", state.Notifications)
	}
	if err := f.coordinator.AcknowledgeNotification(ctx, "n1"); err != nil {
		t.Fatalf("expected repeated acknowledge to be a no-op, got %v", err)
	}
	if len(f.gateway.acked) != 1 {
		t.Fatalf("expected one remote acknowledge, got %v", f.gateway.acked)
	}
}

func TestCoordinator_LoginLogoutCyclesNeverLeakState(t *testing.T) {
	f := newFixture(t, core.Identity{Email: "gail@example.com"})
	f.gateway.users["gail@example.com"] = "user-gail"
	ctx := context.Background()
	f.coordinator.Watch(func(state State) { assertNoStaleData(t, state) })

	for i := 0; i < 3; i++ {
		if _, err := f.coordinator.Login(ctx); err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
		f.coordinator.Wait()
		if !f.coordinator.State().Session.LoggedIn() {
			t.Fatalf("expected logged in on cycle %d", i)
		}
		if err := f.coordinator.Logout(ctx); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
		state := f.coordinator.State()
		if state.Session.LoggedIn() || state.UnreadCount() != 0 || state.Balance.Value != 0 {
			t.Fatalf("unexpected state after logout %d: %+v", i, state)
		}
		if f.bus.Subscribers(core.DefaultBalanceEvent) != 0 {
			t.Fatalf("leaked balance subscription on cycle %d", i)
		}
	}
	if got := f.gateway.ensureCalls["gail@example.com"]; got != 1 {
		t.Fatalf("expected one ensureUser call across cycles, got %d", got)
	}
}

func TestCoordinator_StartSurfacesMisconfiguration(t *testing.T) {
	provider := &stubProvider{initErr: core.ErrProviderMisconfigured}
	c, err := New(provider, newStubGateway(), signal.NewLocalBus(), WithTicker(idleTicker))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer c.Close()

	if err := c.Start(context.Background()); !core.IsMisconfigured(err) {
		t.Fatalf("expected misconfiguration, got %v", err)
	}
	if state := c.State(); state.Session.State != core.SessionLoggedOut {
		t.Fatalf("expected logged out, got %s", state.Session.State)
	}
}

func TestCoordinator_CloseIsIdempotentAndReleasesResources(t *testing.T) {
	f := newFixture(t, core.Identity{Email: "hal@example.com"})
	f.gateway.users["hal@example.com"] = "user-hal"
	ctx := context.Background()

	if _, err := f.coordinator.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	f.coordinator.Wait()

	if err := f.coordinator.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.coordinator.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if f.bus.Subscribers(core.DefaultBalanceEvent) != 0 {
		t.Fatalf("expected subscription released on close")
	}
	if f.coordinator.notifications.Running() {
		t.Fatalf("expected polling stopped on close")
	}
	if _, err := f.coordinator.Login(ctx); err == nil {
		t.Fatalf("expected intents to fail after close")
	}
}

func TestNew_ResolvesRuntimeConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Notifications.PollInterval = 5 * time.Second
	cfg.Balance.Event = "pointsChanged"
	c, err := New(&stubProvider{}, newStubGateway(), signal.NewLocalBus(), WithConfig(cfg), WithTicker(idleTicker))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer c.Close()

	resolved := c.Config()
	if resolved.Notifications.PollInterval != 5*time.Second {
		t.Fatalf("expected runtime poll interval, got %s", resolved.Notifications.PollInterval)
	}
	if resolved.Balance.Event != "pointsChanged" {
		t.Fatalf("expected runtime balance event, got %q", resolved.Balance.Event)
	}
	if resolved.MarkerKey != core.DefaultMarkerKey {
		t.Fatalf("expected default marker key, got %q", resolved.MarkerKey)
	}
}
