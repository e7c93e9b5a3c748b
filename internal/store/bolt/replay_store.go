package bolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// ReplayStore implements domain.ReplayStore.
type ReplayStore struct {
	db *bbolt.DB
}

// NewReplayStore creates a ReplayStore.
func NewReplayStore(db *bbolt.DB) *ReplayStore {
	return &ReplayStore{db: db}
}

var _ domain.ReplayStore = (*ReplayStore)(nil)

func (s *ReplayStore) IsConsumed(ctx context.Context, proofID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(replayBucket)).Get([]byte(proofID)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("bolt: is consumed %s: %w", proofID, err)
	}
	return found, nil
}

// Consume is a test-and-set inside one write transaction.
func (s *ReplayStore) Consume(ctx context.Context, proofID, commitmentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(replayBucket))
		if b.Get([]byte(proofID)) != nil {
			return domain.ErrAlreadyConsumed
		}
		return b.Put([]byte(proofID), []byte(commitmentID))
	})
	if err != nil {
		return fmt.Errorf("bolt: consume %s: %w", proofID, err)
	}
	return nil
}

func (s *ReplayStore) Owner(ctx context.Context, proofID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var owner string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(replayBucket)).Get([]byte(proofID))
		if v == nil {
			return domain.ErrNotFound
		}
		owner = string(v)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("bolt: replay owner %s: %w", proofID, err)
	}
	return owner, nil
}
