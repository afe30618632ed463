package sessionsync

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-session-sync/adapters/gocommand"
	sessioncommand "github.com/goliatone/go-session-sync/command"
	"github.com/goliatone/go-session-sync/coordinator"
	"github.com/goliatone/go-session-sync/core"
	sessionquery "github.com/goliatone/go-session-sync/query"
)

// CommandQueryService is the surface the facade dispatches to.
// *coordinator.Coordinator satisfies it.
type CommandQueryService interface {
	sessioncommand.SessionService
	sessionquery.StateReader
}

type Commands struct {
	Login                   *sessioncommand.LoginCommand
	Logout                  *sessioncommand.LogoutCommand
	RefreshIdentity         *sessioncommand.RefreshIdentityCommand
	AcknowledgeNotification *sessioncommand.AcknowledgeNotificationCommand
	RefreshSync             *sessioncommand.RefreshSyncCommand
}

type Queries struct {
	GetState   *sessionquery.GetStateQuery
	ListUnread *sessionquery.ListUnreadQuery
	GetBalance *sessionquery.GetBalanceQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("sessionsync: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		Login:                   sessioncommand.NewLoginCommand(service),
		Logout:                  sessioncommand.NewLogoutCommand(service),
		RefreshIdentity:         sessioncommand.NewRefreshIdentityCommand(service),
		AcknowledgeNotification: sessioncommand.NewAcknowledgeNotificationCommand(service),
		RefreshSync:             sessioncommand.NewRefreshSyncCommand(service),
	}
	facade.queries = Queries{
		GetState:   sessionquery.NewGetStateQuery(service),
		ListUnread: sessionquery.NewListUnreadQuery(service),
		GetBalance: sessionquery.NewGetBalanceQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Register adds every command and query to the registry and subscribes them
// on the go-command dispatcher. On failure the subscriptions made so far are
// released.
func (f *Facade) Register(adapter *gocommand.RegistryAdapter, runnerOpts ...runner.Option) ([]commanddispatcher.Subscription, error) {
	if f == nil {
		return nil, fmt.Errorf("sessionsync: facade is required")
	}
	return gocommand.Bind(adapter, []gocommand.Binding{
		gocommand.CommandBinding[sessioncommand.LoginMessage](f.commands.Login),
		gocommand.CommandBinding[sessioncommand.LogoutMessage](f.commands.Logout),
		gocommand.CommandBinding[sessioncommand.RefreshIdentityMessage](f.commands.RefreshIdentity),
		gocommand.CommandBinding[sessioncommand.AcknowledgeNotificationMessage](f.commands.AcknowledgeNotification),
		gocommand.CommandBinding[sessioncommand.RefreshSyncMessage](f.commands.RefreshSync),
		gocommand.QueryBinding[sessionquery.GetStateMessage, coordinator.State](f.queries.GetState),
		gocommand.QueryBinding[sessionquery.ListUnreadMessage, []core.Notification](f.queries.ListUnread),
		gocommand.QueryBinding[sessionquery.GetBalanceMessage, core.BalanceSnapshot](f.queries.GetBalance),
	}, runnerOpts...)
}

var _ CommandQueryService = (*coordinator.Coordinator)(nil)
