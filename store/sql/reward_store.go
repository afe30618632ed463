package sqlstore

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RewardKind string

const (
	RewardEarned   RewardKind = "earned"
	RewardRedeemed RewardKind = "redeemed"
)

type RewardStore struct {
	db   *bun.DB
	repo repository.Repository[*rewardTransactionRecord]
}

func NewRewardStore(db *bun.DB) (*RewardStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rewardTransactionRecord](db, rewardTransactionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid reward repository wiring: %w", err)
		}
	}
	return &RewardStore{db: db, repo: repo}, nil
}

func (s *RewardStore) Record(ctx context.Context, userID string, kind RewardKind, amount float64, description string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: reward store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("sqlstore: user id is required")
	}
	if kind != RewardEarned && kind != RewardRedeemed {
		return fmt.Errorf("sqlstore: invalid reward kind %q", kind)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return fmt.Errorf("sqlstore: reward amount must be positive")
	}
	_, err := s.repo.Create(ctx, &rewardTransactionRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        string(kind),
		Amount:      amount,
		Description: strings.TrimSpace(description),
		CreatedAt:   time.Now().UTC(),
	})
	return err
}

// FetchBalance returns earned minus redeemed rewards, never below zero.
func (s *RewardStore) FetchBalance(ctx context.Context, userID string) (float64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: reward store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("sqlstore: user id is required")
	}
	var totals []struct {
		Kind  string  `bun:"kind"`
		Total float64 `bun:"total"`
	}
	err := s.db.NewSelect().
		Model((*rewardTransactionRecord)(nil)).
		Column("kind").
		ColumnExpr("COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ?", userID).
		Group("kind").
		Scan(ctx, &totals)
	if err != nil {
		return 0, err
	}
	balance := 0.0
	for _, row := range totals {
		switch RewardKind(row.Kind) {
		case RewardEarned:
			balance += row.Total
		case RewardRedeemed:
			balance -= row.Total
		}
	}
	return math.Max(balance, 0), nil
}
