package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[LoginMessage]                   = (*LoginCommand)(nil)
	_ gocmd.Commander[LogoutMessage]                  = (*LogoutCommand)(nil)
	_ gocmd.Commander[RefreshIdentityMessage]         = (*RefreshIdentityCommand)(nil)
	_ gocmd.Commander[AcknowledgeNotificationMessage] = (*AcknowledgeNotificationCommand)(nil)
	_ gocmd.Commander[RefreshSyncMessage]             = (*RefreshSyncCommand)(nil)
)
