package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-session-sync/coordinator"
	"github.com/goliatone/go-session-sync/core"
)

var (
	_ gocmd.Querier[GetStateMessage, coordinator.State]      = (*GetStateQuery)(nil)
	_ gocmd.Querier[ListUnreadMessage, []core.Notification]  = (*ListUnreadQuery)(nil)
	_ gocmd.Querier[GetBalanceMessage, core.BalanceSnapshot] = (*GetBalanceQuery)(nil)
	_ StateReader                                            = (*coordinator.Coordinator)(nil)
)
