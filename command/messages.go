package command

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	TypeLogin                   = "sessionsync.command.login"
	TypeLogout                  = "sessionsync.command.logout"
	TypeRefreshIdentity         = "sessionsync.command.identity.refresh"
	TypeAcknowledgeNotification = "sessionsync.command.notification.acknowledge"
	TypeRefreshSync             = "sessionsync.command.sync.refresh"

	maxNotificationIDLength = 128
)

type LoginMessage struct{}

func (LoginMessage) Type() string { return TypeLogin }

func (LoginMessage) Validate() error { return nil }

type LogoutMessage struct{}

func (LogoutMessage) Type() string { return TypeLogout }

func (LogoutMessage) Validate() error { return nil }

type RefreshIdentityMessage struct{}

func (RefreshIdentityMessage) Type() string { return TypeRefreshIdentity }

func (RefreshIdentityMessage) Validate() error { return nil }

type AcknowledgeNotificationMessage struct {
	NotificationID string
}

func (AcknowledgeNotificationMessage) Type() string { return TypeAcknowledgeNotification }

func (m AcknowledgeNotificationMessage) Validate() error {
	id := strings.TrimSpace(m.NotificationID)
	err := validation.Errors{
		"notification_id": validation.Validate(id,
			validation.Required,
			validation.RuneLength(1, maxNotificationIDLength),
		),
	}.Filter()
	return commandValidationError(err)
}

// RefreshSyncMessage asks for an immediate notification poll and balance
// refetch outside the regular schedule.
type RefreshSyncMessage struct{}

func (RefreshSyncMessage) Type() string { return TypeRefreshSync }

func (RefreshSyncMessage) Validate() error { return nil }
