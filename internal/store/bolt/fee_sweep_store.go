package bolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// FeeSweepStore implements domain.FeeSweepStore keyed by creation time and
// id, so recording a sweep again overwrites it in place.
type FeeSweepStore struct {
	db *bbolt.DB
}

// NewFeeSweepStore creates a FeeSweepStore.
func NewFeeSweepStore(db *bbolt.DB) *FeeSweepStore {
	return &FeeSweepStore{db: db}
}

var _ domain.FeeSweepStore = (*FeeSweepStore)(nil)

func (s *FeeSweepStore) Record(ctx context.Context, sweep domain.FeeSweep) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := append(timeKey(sweep.CreatedAt), []byte(sweep.ID)...)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte(feeSweepsBucket)), key, sweep)
	})
	if err != nil {
		return fmt.Errorf("bolt: record fee sweep: %w", err)
	}
	return nil
}

func (s *FeeSweepStore) Last(ctx context.Context) (domain.FeeSweep, error) {
	if err := ctx.Err(); err != nil {
		return domain.FeeSweep{}, err
	}
	var sweep domain.FeeSweep
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket([]byte(feeSweepsBucket)).Cursor().Last()
		return decode(v, &sweep)
	})
	if err != nil {
		return domain.FeeSweep{}, fmt.Errorf("bolt: last fee sweep: %w", err)
	}
	return sweep, nil
}
