package sessionsync

import (
	"github.com/goliatone/go-session-sync/adapters/gologger"
	"github.com/goliatone/go-session-sync/coordinator"
	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/signal"

	job "github.com/goliatone/go-job"
)

type Config = core.Config

type ProviderConfig = core.ProviderConfig
type NotificationsConfig = core.NotificationsConfig
type BalanceConfig = core.BalanceConfig

type Option = coordinator.Option

type Coordinator = coordinator.Coordinator
type State = coordinator.State

type IdentityProvider = core.IdentityProvider
type RemoteGateway = core.RemoteGateway
type SignalBus = core.SignalBus
type MarkerStore = core.MarkerStore
type Notifier = core.Notifier

type Identity = core.Identity
type Session = core.Session
type Notification = core.Notification
type BalanceSnapshot = core.BalanceSnapshot

var (
	WithConfig          = coordinator.WithConfig
	WithLogger          = coordinator.WithLogger
	WithLoggerProvider  = coordinator.WithLoggerProvider
	WithMetricsRecorder = coordinator.WithMetricsRecorder
	WithConfigProvider  = coordinator.WithConfigProvider
	WithOptionsResolver = coordinator.WithOptionsResolver
	WithMarkerStore     = coordinator.WithMarkerStore
	WithNotifier        = coordinator.WithNotifier
	WithJobEnqueuer     = coordinator.WithJobEnqueuer
	WithTicker          = coordinator.WithTicker
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewCoordinator(provider IdentityProvider, gateway RemoteGateway, bus SignalBus, opts ...Option) (*Coordinator, error) {
	return coordinator.New(provider, gateway, bus, opts...)
}

// Setup builds a coordinator and its command/query facade. A nil bus falls
// back to an in-process signal.LocalBus.
func Setup(provider IdentityProvider, gateway RemoteGateway, bus SignalBus, opts ...Option) (*Facade, error) {
	if bus == nil {
		bus = signal.NewLocalBus()
	}
	coord, err := coordinator.New(provider, gateway, bus, opts...)
	if err != nil {
		return nil, err
	}
	return NewFacade(coord)
}

// JobLoggers resolves the loggers handed to go-job workers that drain the
// acknowledge queue, using the same precedence as the coordinator.
func JobLoggers(provider core.LoggerProvider, logger core.Logger) (job.LoggerProvider, job.Logger) {
	return gologger.Resolve(core.DefaultServiceName, provider, logger).Job()
}
