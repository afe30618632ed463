package security

import (
	"context"
	"fmt"

	"github.com/goliatone/go-session-sync/core"
)

// SealedMarkerStore encrypts marker values before they reach the underlying
// store. The marker holds the last signed-in email, so hosts that persist it
// in shared storage can keep it unreadable at rest.
type SealedMarkerStore struct {
	store  core.MarkerStore
	cipher Cipher
}

func NewSealedMarkerStore(store core.MarkerStore, cipher Cipher) (*SealedMarkerStore, error) {
	if store == nil {
		return nil, fmt.Errorf("security: marker store is required")
	}
	if cipher == nil {
		return nil, fmt.Errorf("security: cipher is required")
	}
	return &SealedMarkerStore{store: store, cipher: cipher}, nil
}

// Get reports a value that cannot be opened as an error; the session manager
// then proceeds as if no marker were present.
func (s *SealedMarkerStore) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	value, err := s.cipher.Open(ctx, sealed)
	if err != nil {
		return "", false, fmt.Errorf("security: open marker %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SealedMarkerStore) Set(ctx context.Context, key string, value string) error {
	sealed, err := s.cipher.Seal(ctx, value)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, key, sealed)
}

func (s *SealedMarkerStore) Remove(ctx context.Context, key string) error {
	return s.store.Remove(ctx, key)
}

var _ core.MarkerStore = (*SealedMarkerStore)(nil)
