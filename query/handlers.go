package query

import (
	"context"

	"github.com/goliatone/go-session-sync/coordinator"
	"github.com/goliatone/go-session-sync/core"
)

type StateReader interface {
	State() coordinator.State
}

type GetStateQuery struct {
	reader StateReader
}

func NewGetStateQuery(reader StateReader) *GetStateQuery {
	return &GetStateQuery{reader: reader}
}

func (q *GetStateQuery) Query(_ context.Context, _ GetStateMessage) (coordinator.State, error) {
	if q == nil || q.reader == nil {
		return coordinator.State{}, queryDependencyError("query: state reader is required")
	}
	return q.reader.State(), nil
}

type ListUnreadQuery struct {
	reader StateReader
}

func NewListUnreadQuery(reader StateReader) *ListUnreadQuery {
	return &ListUnreadQuery{reader: reader}
}

// Query returns an empty page when the session is not logged in.
func (q *ListUnreadQuery) Query(_ context.Context, msg ListUnreadMessage) ([]core.Notification, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: state reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	items := q.reader.State().Notifications
	if msg.Offset >= len(items) {
		return []core.Notification{}, nil
	}
	items = items[msg.Offset:]
	if msg.Limit > 0 && msg.Limit < len(items) {
		items = items[:msg.Limit]
	}
	return append([]core.Notification(nil), items...), nil
}

type GetBalanceQuery struct {
	reader StateReader
}

func NewGetBalanceQuery(reader StateReader) *GetBalanceQuery {
	return &GetBalanceQuery{reader: reader}
}

func (q *GetBalanceQuery) Query(_ context.Context, _ GetBalanceMessage) (core.BalanceSnapshot, error) {
	if q == nil || q.reader == nil {
		return core.BalanceSnapshot{}, queryDependencyError("query: state reader is required")
	}
	return q.reader.State().Balance, nil
}
