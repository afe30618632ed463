package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-session-sync/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type NotificationStore struct {
	db   *bun.DB
	repo repository.Repository[*notificationRecord]
}

func NewNotificationStore(db *bun.DB) (*NotificationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*notificationRecord](db, notificationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification repository wiring: %w", err)
		}
	}
	return &NotificationStore{db: db, repo: repo}, nil
}

// Create stores an unread notification for userID.
func (s *NotificationStore) Create(ctx context.Context, userID string, kind string, message string) (core.Notification, error) {
	if s == nil || s.repo == nil {
		return core.Notification{}, fmt.Errorf("sqlstore: notification store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.Notification{}, fmt.Errorf("sqlstore: user id is required")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return core.Notification{}, fmt.Errorf("sqlstore: notification type is required")
	}
	created, err := s.repo.Create(ctx, &notificationRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      kind,
		Message:   strings.TrimSpace(message),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return core.Notification{}, err
	}
	return created.toDomain(), nil
}

// FetchUnreadNotifications returns the unread notifications for userID,
// newest first.
func (s *NotificationStore) FetchUnreadNotifications(ctx context.Context, userID string) ([]core.Notification, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: notification store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("sqlstore: user id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("is_read = ?", false)
		}),
		repository.OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Notification, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// AcknowledgeNotification marks id as read. Unknown or already read ids are
// a no-op.
func (s *NotificationStore) AcknowledgeNotification(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: notification store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: notification id is required")
	}
	now := time.Now().UTC()
	_, err := s.db.NewUpdate().
		Model((*notificationRecord)(nil)).
		Set("is_read = ?", true).
		Set("read_at = ?", now).
		Where("id = ?", id).
		Where("is_read = ?", false).
		Exec(ctx)
	return err
}

func (r *notificationRecord) toDomain() core.Notification {
	if r == nil {
		return core.Notification{}
	}
	return core.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Type:      r.Type,
		Message:   r.Message,
		Read:      r.IsRead,
		CreatedAt: r.CreatedAt,
	}
}
