package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type userRecord struct {
	bun.BaseModel `bun:"table:sessionsync_users,alias:su"`

	ID          string    `bun:"id,pk"`
	Email       string    `bun:"email,notnull"`
	DisplayName string    `bun:"display_name,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type notificationRecord struct {
	bun.BaseModel `bun:"table:sessionsync_notifications,alias:sn"`

	ID        string     `bun:"id,pk"`
	UserID    string     `bun:"user_id,notnull"`
	Type      string     `bun:"type,notnull"`
	Message   string     `bun:"message,notnull"`
	IsRead    bool       `bun:"is_read,notnull"`
	ReadAt    *time.Time `bun:"read_at,nullzero"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type rewardTransactionRecord struct {
	bun.BaseModel `bun:"table:sessionsync_reward_transactions,alias:srt"`

	ID          string    `bun:"id,pk"`
	UserID      string    `bun:"user_id,notnull"`
	Kind        string    `bun:"kind,notnull"`
	Amount      float64   `bun:"amount,notnull"`
	Description string    `bun:"description,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type sessionMarkerRecord struct {
	bun.BaseModel `bun:"table:sessionsync_session_markers,alias:ssm"`

	Key       string    `bun:"marker_key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
