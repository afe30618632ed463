package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-session-sync/core"
)

type LoginOutcome string

const (
	LoginSkipped            LoginOutcome = "skipped"
	LoginNoEmail            LoginOutcome = "no_email"
	LoginExistingUser       LoginOutcome = "existing_user"
	LoginNewUser            LoginOutcome = "new_user"
	LoginProvisioningFailed LoginOutcome = "provisioning_failed"
)

const (
	NoticeWelcomeBack       = "Welcome back"
	NoticeUserCreated       = "User created successfully"
	NoticeLoginFailed       = "Error logging in"
	NoticeProvisionFailed   = "Error Creating User"
	NoticeLoggedOut         = "Logged out successfully"
	NoticeLogoutFailed      = "Error logging out"
	observerEngineComponent = "session"
)

// LoginResult describes how a Login call settled. ProvisioningErr is set only
// for LoginProvisioningFailed; the session is LoggedIn in that case.
type LoginResult struct {
	Identity        core.Identity
	Outcome         LoginOutcome
	ProvisioningErr error
}

type ChangeListener func(ctx context.Context, prev core.Session, next core.Session)

type BeforeLogoutHook func(ctx context.Context, current core.Session)

// ProvisionedHook observes a successful EnsureUser call for email.
type ProvisionedHook func(ctx context.Context, email string, result core.EnsureUserResult)

type Option func(*Manager)

func WithMarkerStore(store core.MarkerStore) Option {
	return func(m *Manager) {
		if store != nil {
			m.markers = store
		}
	}
}

func WithNotifier(notifier core.Notifier) Option {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func WithConfig(cfg core.Config) Option {
	return func(m *Manager) {
		m.cfg = cfg.WithDefaults()
	}
}

// Manager owns the identity lifecycle and the single Session of the process.
type Manager struct {
	provider core.IdentityProvider
	markers  core.MarkerStore
	notifier core.Notifier
	logger   core.Logger
	metrics  core.MetricsRecorder
	observer *core.Observer
	cfg      core.Config

	provisioner *provisioner

	initOnce sync.Once
	initErr  error

	// publishMu serializes transitions so listeners observe them in order.
	publishMu sync.Mutex

	mu             sync.Mutex
	session        core.Session
	loginInFlight  bool
	logoutInFlight bool
	nextHandle     uint64
	listeners      map[uint64]ChangeListener
	beforeLogout   map[uint64]BeforeLogoutHook
	provisioned    map[uint64]ProvisionedHook
}

func NewManager(provider core.IdentityProvider, provisioner core.UserProvisioner, opts ...Option) (*Manager, error) {
	if provider == nil {
		return nil, core.MisconfiguredError(nil, "new_manager")
	}
	if provisioner == nil {
		return nil, core.InternalError("session: user provisioner is required")
	}
	m := &Manager{
		provider:     provider,
		notifier:     core.NopNotifier{},
		cfg:          core.DefaultConfig(),
		session:      core.Session{State: core.SessionUninitialized},
		listeners:    map[uint64]ChangeListener{},
		beforeLogout: map[uint64]BeforeLogoutHook{},
		provisioned:  map[uint64]ProvisionedHook{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.observer = core.NewObserver(m.cfg.ServiceName, m.logger, m.metrics)
	m.provisioner = newProvisioner(provisioner, m.cfg.RequestTimeout)
	return m, nil
}

// Session returns a copy of the current session.
func (m *Manager) Session() core.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// OnChange registers a listener invoked after every transition, in
// transition order. Listeners must not call back into transitions.
func (m *Manager) OnChange(listener ChangeListener) (remove func()) {
	if listener == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextHandle++
	handle := m.nextHandle
	m.listeners[handle] = listener
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, handle)
		m.mu.Unlock()
	}
}

// OnBeforeLogout registers a hook run synchronously at the start of Logout,
// while the session is still LoggedIn.
func (m *Manager) OnBeforeLogout(hook BeforeLogoutHook) (remove func()) {
	if hook == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextHandle++
	handle := m.nextHandle
	m.beforeLogout[handle] = hook
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.beforeLogout, handle)
		m.mu.Unlock()
	}
}

// OnProvisioned registers a hook run after EnsureUser succeeds for an email
// that was not provisioned earlier in the process. It runs on the goroutine
// that provisioned, after the session is already LoggedIn.
func (m *Manager) OnProvisioned(hook ProvisionedHook) (remove func()) {
	if hook == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextHandle++
	handle := m.nextHandle
	m.provisioned[handle] = hook
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.provisioned, handle)
		m.mu.Unlock()
	}
}

// Initialize restores a prior provider session. It runs once; later and
// concurrent calls block until the first run settles and return its error.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.initErr = m.initialize(ctx)
	})
	return m.initErr
}

func (m *Manager) initialize(ctx context.Context) (err error) {
	startedAt := time.Now().UTC()
	defer func() {
		m.observer.ObserveOperation(ctx, startedAt, "session_initialize", err, map[string]any{
			"engine": observerEngineComponent,
			"state":  string(m.Session().State),
		})
	}()

	m.transition(ctx, func(s *core.Session) {
		s.State = core.SessionInitializing
		s.Identity = nil
	})

	if err := core.RunWithTimeout(ctx, m.cfg.ConnectTimeout, m.provider.Init); err != nil {
		m.settleLoggedOut(ctx)
		return core.ProviderError(err, "init")
	}

	if !m.provider.Connected() {
		m.settleLoggedOut(ctx)
		m.removeMarker(ctx)
		return nil
	}

	identity, err := core.CallWithTimeout(ctx, m.cfg.RequestTimeout, m.provider.GetIdentity)
	if err != nil {
		m.settleLoggedOut(ctx)
		return core.ProviderError(err, "get_identity")
	}

	m.settleLoggedIn(ctx, identity)
	m.notify(ctx, core.NoticeInfo, NoticeWelcomeBack, "")

	if identity.HasEmail() {
		if _, perr := m.provision(ctx, identity); perr != nil {
			m.notify(ctx, core.NoticeError, NoticeProvisionFailed, core.ErrorProvisioningFailed)
		}
	}
	return nil
}

// Login connects through the identity provider. A login issued while another
// login is running, or while already LoggedIn, is a no-op.
func (m *Manager) Login(ctx context.Context) (result LoginResult, err error) {
	if err := m.Initialize(ctx); err != nil && !core.IsRecoverable(err) {
		return LoginResult{}, err
	}

	m.mu.Lock()
	if m.session.State == core.SessionLoggedIn || m.loginInFlight {
		m.mu.Unlock()
		return LoginResult{Outcome: LoginSkipped}, nil
	}
	if m.session.State != core.SessionLoggedOut {
		state := m.session.State
		m.mu.Unlock()
		return LoginResult{}, core.InvalidTransitionError(state, "login")
	}
	m.loginInFlight = true
	m.mu.Unlock()

	startedAt := time.Now().UTC()
	defer func() {
		m.mu.Lock()
		m.loginInFlight = false
		m.mu.Unlock()
		m.observer.ObserveOperation(ctx, startedAt, "session_login", err, map[string]any{
			"engine":  observerEngineComponent,
			"outcome": string(result.Outcome),
		})
	}()

	identity, err := core.CallWithTimeout(ctx, m.cfg.ConnectTimeout, m.provider.Connect)
	if err != nil {
		m.notify(ctx, core.NoticeError, NoticeLoginFailed, core.ErrorProvider)
		return LoginResult{}, core.ProviderError(err, "connect")
	}
	if profile, perr := core.CallWithTimeout(ctx, m.cfg.RequestTimeout, m.provider.GetIdentity); perr == nil {
		identity = mergeIdentity(identity, profile)
	} else {
		m.observer.Warn(ctx, "session identity fetch after connect failed", map[string]any{
			"error": perr.Error(),
		})
	}

	m.settleLoggedIn(ctx, identity)
	result = LoginResult{Identity: identity.Clone()}

	if !identity.HasEmail() {
		result.Outcome = LoginNoEmail
		return result, nil
	}

	outcome, perr := m.provision(ctx, identity)
	switch {
	case perr != nil:
		result.Outcome = LoginProvisioningFailed
		result.ProvisioningErr = perr
		m.notify(ctx, core.NoticeError, NoticeProvisionFailed, core.ErrorProvisioningFailed)
	case outcome.result.Created && !outcome.cached:
		result.Outcome = LoginNewUser
		m.notify(ctx, core.NoticeInfo, NoticeUserCreated, "")
	default:
		result.Outcome = LoginExistingUser
		m.notify(ctx, core.NoticeInfo, NoticeWelcomeBack, "")
	}
	return result, nil
}

// Logout is allowed only from LoggedIn. The session always ends LoggedOut,
// even when the provider disconnect fails; that failure is still returned.
func (m *Manager) Logout(ctx context.Context) (err error) {
	m.mu.Lock()
	if m.logoutInFlight {
		m.mu.Unlock()
		return nil
	}
	if m.session.State != core.SessionLoggedIn {
		state := m.session.State
		m.mu.Unlock()
		return core.InvalidTransitionError(state, "logout")
	}
	m.logoutInFlight = true
	current := m.session.Clone()
	hooks := inHandleOrder(m.beforeLogout)
	m.mu.Unlock()

	startedAt := time.Now().UTC()
	defer func() {
		m.mu.Lock()
		m.logoutInFlight = false
		m.mu.Unlock()
		m.observer.ObserveOperation(ctx, startedAt, "session_logout", err, map[string]any{
			"engine": observerEngineComponent,
		})
	}()

	for _, hook := range hooks {
		hook(ctx, current)
	}

	if derr := core.RunWithTimeout(core.Detach(ctx), m.cfg.RequestTimeout, m.provider.Disconnect); derr != nil {
		err = core.ProviderError(derr, "disconnect")
	}

	m.settleLoggedOut(ctx)
	m.removeMarker(ctx)

	if err != nil {
		m.notify(ctx, core.NoticeError, NoticeLogoutFailed, core.ErrorProvider)
		return err
	}
	m.notify(ctx, core.NoticeInfo, NoticeLoggedOut, "")
	return nil
}

// RefreshIdentity re-reads the identity while LoggedIn. A changed identity is
// published as a new session version.
func (m *Manager) RefreshIdentity(ctx context.Context) (core.Identity, error) {
	current := m.Session()
	if current.State != core.SessionLoggedIn {
		return core.Identity{}, core.InvalidTransitionError(current.State, "refresh_identity")
	}

	identity, err := core.CallWithTimeout(ctx, m.cfg.RequestTimeout, m.provider.GetIdentity)
	if err != nil {
		return core.Identity{}, core.ProviderError(err, "get_identity")
	}

	changed := false
	m.transitionIf(ctx, func(s core.Session) bool {
		if s.State != core.SessionLoggedIn || s.Version != current.Version {
			return false
		}
		changed = s.Identity == nil || !s.Identity.Equal(identity)
		return changed
	}, func(s *core.Session) {
		cloned := identity.Clone()
		s.Identity = &cloned
	})
	if !changed {
		return identity, nil
	}
	m.storeMarker(ctx, identity)

	if identity.HasEmail() {
		if _, perr := m.provision(ctx, identity); perr != nil {
			m.notify(ctx, core.NoticeError, NoticeProvisionFailed, core.ErrorProvisioningFailed)
		}
	}
	return identity, nil
}

// LastSessionEmail returns the persisted rehydration hint, if any.
func (m *Manager) LastSessionEmail(ctx context.Context) (string, bool) {
	if m.markers == nil {
		return "", false
	}
	value, ok, err := m.markers.Get(ctx, m.cfg.MarkerKey)
	if err != nil {
		m.observer.Warn(ctx, "session marker read failed", map[string]any{"error": err.Error()})
		return "", false
	}
	return value, ok
}

func (m *Manager) provision(ctx context.Context, identity core.Identity) (provisionOutcome, error) {
	startedAt := time.Now().UTC()
	outcome, err := m.provisioner.ensure(ctx, identity.Email, identity.DisplayNameOr(m.cfg.DefaultDisplayName))
	m.observer.ObserveOperation(ctx, startedAt, "session_ensure_user", err, map[string]any{
		"engine":  observerEngineComponent,
		"email":   core.NormalizeEmail(identity.Email),
		"created": outcome.result.Created,
		"cached":  outcome.cached,
	})
	if err == nil && !outcome.cached {
		m.mu.Lock()
		hooks := inHandleOrder(m.provisioned)
		m.mu.Unlock()
		email := core.NormalizeEmail(identity.Email)
		for _, hook := range hooks {
			hook(ctx, email, outcome.result)
		}
	}
	return outcome, err
}

func (m *Manager) settleLoggedIn(ctx context.Context, identity core.Identity) {
	m.transition(ctx, func(s *core.Session) {
		cloned := identity.Clone()
		s.State = core.SessionLoggedIn
		s.Identity = &cloned
	})
	m.storeMarker(ctx, identity)
}

func (m *Manager) settleLoggedOut(ctx context.Context) {
	m.transition(ctx, func(s *core.Session) {
		s.State = core.SessionLoggedOut
		s.Identity = nil
	})
}

func (m *Manager) transition(ctx context.Context, apply func(*core.Session)) core.Session {
	next, _ := m.transitionIf(ctx, nil, apply)
	return next
}

func (m *Manager) transitionIf(ctx context.Context, guard func(core.Session) bool, apply func(*core.Session)) (core.Session, bool) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if guard != nil && !guard(m.session.Clone()) {
		current := m.session.Clone()
		m.mu.Unlock()
		return current, false
	}
	prev := m.session.Clone()
	apply(&m.session)
	m.session.Version++
	next := m.session.Clone()
	listeners := inHandleOrder(m.listeners)
	m.mu.Unlock()

	m.observer.Debug(ctx, "session transition", map[string]any{
		"from":    string(prev.State),
		"to":      string(next.State),
		"version": next.Version,
	})
	for _, listener := range listeners {
		listener(ctx, prev.Clone(), next.Clone())
	}
	return next, true
}

func (m *Manager) storeMarker(ctx context.Context, identity core.Identity) {
	if m.markers == nil || !identity.HasEmail() {
		return
	}
	if err := m.markers.Set(ctx, m.cfg.MarkerKey, core.NormalizeEmail(identity.Email)); err != nil {
		m.observer.Warn(ctx, "session marker write failed", map[string]any{"error": err.Error()})
	}
}

func (m *Manager) removeMarker(ctx context.Context) {
	if m.markers == nil {
		return
	}
	if err := m.markers.Remove(core.Detach(ctx), m.cfg.MarkerKey); err != nil {
		m.observer.Warn(ctx, "session marker remove failed", map[string]any{"error": err.Error()})
	}
}

func (m *Manager) notify(ctx context.Context, level core.NoticeLevel, message string, textCode string) {
	m.notifier.Notify(ctx, core.Notice{
		Level:    level,
		Message:  message,
		TextCode: strings.TrimSpace(textCode),
	})
}

// mergeIdentity prefers the fuller profile but keeps fields only the connect
// result carried.
func mergeIdentity(connected core.Identity, profile core.Identity) core.Identity {
	merged := profile.Clone()
	if strings.TrimSpace(merged.ExternalID) == "" {
		merged.ExternalID = connected.ExternalID
	}
	if strings.TrimSpace(merged.Email) == "" {
		merged.Email = connected.Email
	}
	if strings.TrimSpace(merged.DisplayName) == "" {
		merged.DisplayName = connected.DisplayName
	}
	if len(merged.Metadata) == 0 && len(connected.Metadata) > 0 {
		merged.Metadata = connected.Clone().Metadata
	}
	return merged
}

// inHandleOrder returns the values of in ordered by registration handle.
func inHandleOrder[V any](in map[uint64]V) []V {
	keys := make([]uint64, 0, len(in))
	for key := range in {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]V, 0, len(keys))
	for _, key := range keys {
		out = append(out, in[key])
	}
	return out
}
