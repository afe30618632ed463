package transport

import (
	"time"

	"github.com/goliatone/go-session-sync/core"
)

// Routes served by GatewayHandler and consumed by HTTPGateway.
const (
	RouteEnsureUser     = "/users/ensure"
	RouteResolveUser    = "/users/resolve"
	RouteUnread         = "/users/{user_id}/notifications/unread"
	RouteBalance        = "/users/{user_id}/balance"
	RouteAcknowledge    = "/notifications/{id}/acknowledge"
	contentTypeJSON     = "application/json"
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
)

type ensureUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type ensureUserResponse struct {
	UserID  string `json:"user_id"`
	Created bool   `json:"created"`
}

type resolveUserResponse struct {
	UserID string `json:"user_id"`
}

type notificationPayload struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type unreadResponse struct {
	Notifications []notificationPayload `json:"notifications"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

type errorPayload struct {
	Category string `json:"category"`
	Code     int    `json:"code"`
	TextCode string `json:"text_code"`
	Message  string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func toPayload(n core.Notification) notificationPayload {
	return notificationPayload{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UTC(),
	}
}

func (p notificationPayload) toDomain() core.Notification {
	return core.Notification{
		ID:        p.ID,
		UserID:    p.UserID,
		Type:      p.Type,
		Message:   p.Message,
		Read:      p.Read,
		CreatedAt: p.CreatedAt,
	}
}
