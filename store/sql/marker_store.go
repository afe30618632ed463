package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-session-sync/core"
	"github.com/uptrace/bun"
)

// MarkerStore persists session markers in a key/value table.
type MarkerStore struct {
	db *bun.DB
}

func NewMarkerStore(db *bun.DB) (*MarkerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MarkerStore{db: db}, nil
}

func (s *MarkerStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: marker store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("sqlstore: marker key is required")
	}
	records := []*sessionMarkerRecord{}
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.marker_key = ?", key).
		Limit(1).
		Scan(ctx); err != nil {
		return "", false, err
	}
	if len(records) == 0 {
		return "", false, nil
	}
	return records[0].Value, true, nil
}

func (s *MarkerStore) Set(ctx context.Context, key string, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: marker store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: marker key is required")
	}
	record := &sessionMarkerRecord{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (marker_key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *MarkerStore) Remove(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: marker store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: marker key is required")
	}
	_, err := s.db.NewDelete().
		Model((*sessionMarkerRecord)(nil)).
		Where("marker_key = ?", key).
		Exec(ctx)
	return err
}

var _ core.MarkerStore = (*MarkerStore)(nil)
