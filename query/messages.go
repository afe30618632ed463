package query

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	TypeGetState      = "sessionsync.query.state"
	TypeListUnread    = "sessionsync.query.notifications.unread"
	TypeGetBalance    = "sessionsync.query.balance"
	maxUnreadPageSize = 500
)

type GetStateMessage struct{}

func (GetStateMessage) Type() string { return TypeGetState }

func (GetStateMessage) Validate() error { return nil }

// ListUnreadMessage pages through the cached unread notifications, newest
// first. A zero Limit returns everything.
type ListUnreadMessage struct {
	Offset int
	Limit  int
}

func (ListUnreadMessage) Type() string { return TypeListUnread }

func (m ListUnreadMessage) Validate() error {
	return queryValidationError(validation.ValidateStruct(&m,
		validation.Field(&m.Offset, validation.Min(0)),
		validation.Field(&m.Limit, validation.Min(0), validation.Max(maxUnreadPageSize)),
	))
}

type GetBalanceMessage struct{}

func (GetBalanceMessage) Type() string { return TypeGetBalance }

func (GetBalanceMessage) Validate() error { return nil }
