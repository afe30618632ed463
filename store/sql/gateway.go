package sqlstore

import (
	"context"
	"fmt"

	"github.com/goliatone/go-session-sync/core"
)

// Gateway serves the remote operations from the SQL stores.
type Gateway struct {
	users         *UserStore
	notifications *NotificationStore
	rewards       *RewardStore
	resolver      core.UserResolver
}

type GatewayOption func(*Gateway)

// WithUserResolver routes user id lookups through resolver, typically a
// CachedUserResolver wrapping the user store.
func WithUserResolver(resolver core.UserResolver) GatewayOption {
	return func(g *Gateway) {
		if resolver != nil {
			g.resolver = resolver
		}
	}
}

func NewGateway(users *UserStore, notifications *NotificationStore, rewards *RewardStore, opts ...GatewayOption) (*Gateway, error) {
	if users == nil || notifications == nil || rewards == nil {
		return nil, fmt.Errorf("sqlstore: user, notification and reward stores are required")
	}
	g := &Gateway{
		users:         users,
		notifications: notifications,
		rewards:       rewards,
		resolver:      users,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *Gateway) EnsureUser(ctx context.Context, email string, displayName string) (core.EnsureUserResult, error) {
	return g.users.EnsureUser(ctx, email, displayName)
}

func (g *Gateway) ResolveUserIDByEmail(ctx context.Context, email string) (string, error) {
	return g.resolver.ResolveUserIDByEmail(ctx, email)
}

func (g *Gateway) FetchUnreadNotifications(ctx context.Context, userID string) ([]core.Notification, error) {
	return g.notifications.FetchUnreadNotifications(ctx, userID)
}

func (g *Gateway) AcknowledgeNotification(ctx context.Context, id string) error {
	return g.notifications.AcknowledgeNotification(ctx, id)
}

func (g *Gateway) FetchBalance(ctx context.Context, userID string) (float64, error) {
	return g.rewards.FetchBalance(ctx, userID)
}

var _ core.RemoteGateway = (*Gateway)(nil)
