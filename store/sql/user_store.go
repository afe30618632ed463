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

type UserStore struct {
	db   *bun.DB
	repo repository.Repository[*userRecord]
}

func NewUserStore(db *bun.DB) (*UserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*userRecord](db, userHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid user repository wiring: %w", err)
		}
	}
	return &UserStore{db: db, repo: repo}, nil
}

// EnsureUser returns the user for email, creating it when missing. Concurrent
// callers racing on the unique email index all observe the same record.
func (s *UserStore) EnsureUser(ctx context.Context, email string, displayName string) (core.EnsureUserResult, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.EnsureUserResult{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	email = core.NormalizeEmail(email)
	if email == "" {
		return core.EnsureUserResult{}, fmt.Errorf("sqlstore: email is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = core.DefaultDisplayName
	}

	var result core.EnsureUserResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findUserByEmailTx(ctx, tx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			result = core.EnsureUserResult{UserID: existing.ID}
			return nil
		}
		now := time.Now().UTC()
		record := &userRecord{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: displayName,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, err := s.repo.CreateTx(ctx, tx, record)
		if err != nil {
			return err
		}
		result = core.EnsureUserResult{UserID: created.ID, Created: true}
		return nil
	})
	if err == nil {
		return result, nil
	}
	if !isUniqueViolation(err) {
		return core.EnsureUserResult{}, err
	}
	existing, findErr := s.GetByEmail(ctx, email)
	if findErr != nil {
		return core.EnsureUserResult{}, findErr
	}
	return core.EnsureUserResult{UserID: existing.ID}, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (core.UserRecord, error) {
	if s == nil || s.repo == nil {
		return core.UserRecord{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	email = core.NormalizeEmail(email)
	if email == "" {
		return core.UserRecord{}, fmt.Errorf("sqlstore: email is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("email", "=", email),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.UserRecord{}, err
	}
	if len(records) == 0 {
		return core.UserRecord{}, core.ErrUserNotResolved
	}
	return records[0].toDomain(), nil
}

// ResolveUserIDByEmail returns core.ErrUserNotResolved when no user exists.
func (s *UserStore) ResolveUserIDByEmail(ctx context.Context, email string) (string, error) {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func findUserByEmailTx(ctx context.Context, tx bun.Tx, email string) (*userRecord, error) {
	records := []*userRecord{}
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (r *userRecord) toDomain() core.UserRecord {
	if r == nil {
		return core.UserRecord{}
	}
	return core.UserRecord{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		CreatedAt:   r.CreatedAt,
	}
}
