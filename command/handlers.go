package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/session"
)

// SessionService is the intent surface the commands dispatch to. The
// coordinator implements it.
type SessionService interface {
	Login(ctx context.Context) (session.LoginResult, error)
	Logout(ctx context.Context) error
	RefreshIdentity(ctx context.Context) (core.Identity, error)
	AcknowledgeNotification(ctx context.Context, id string) error
	Refresh(ctx context.Context)
}

type LoginCommand struct {
	service SessionService
}

func NewLoginCommand(service SessionService) *LoginCommand {
	return &LoginCommand{service: service}
}

func (c *LoginCommand) Execute(ctx context.Context, _ LoginMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.Login(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type LogoutCommand struct {
	service SessionService
}

func NewLogoutCommand(service SessionService) *LogoutCommand {
	return &LogoutCommand{service: service}
}

func (c *LogoutCommand) Execute(ctx context.Context, _ LogoutMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	return c.service.Logout(ctx)
}

type RefreshIdentityCommand struct {
	service SessionService
}

func NewRefreshIdentityCommand(service SessionService) *RefreshIdentityCommand {
	return &RefreshIdentityCommand{service: service}
}

func (c *RefreshIdentityCommand) Execute(ctx context.Context, _ RefreshIdentityMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.RefreshIdentity(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AcknowledgeNotificationCommand struct {
	service SessionService
}

func NewAcknowledgeNotificationCommand(service SessionService) *AcknowledgeNotificationCommand {
	return &AcknowledgeNotificationCommand{service: service}
}

func (c *AcknowledgeNotificationCommand) Execute(ctx context.Context, msg AcknowledgeNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.AcknowledgeNotification(ctx, strings.TrimSpace(msg.NotificationID))
}

type RefreshSyncCommand struct {
	service SessionService
}

func NewRefreshSyncCommand(service SessionService) *RefreshSyncCommand {
	return &RefreshSyncCommand{service: service}
}

func (c *RefreshSyncCommand) Execute(ctx context.Context, _ RefreshSyncMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	c.service.Refresh(ctx)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
