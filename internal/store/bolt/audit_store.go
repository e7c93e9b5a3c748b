package bolt

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// AuditStore implements domain.AuditStore as an append-only bucket keyed by
// sequence number.
type AuditStore struct {
	db *bbolt.DB
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(db *bbolt.DB) *AuditStore {
	return &AuditStore{db: db}
}

var _ domain.AuditStore = (*AuditStore)(nil)

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(auditBucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry := domain.AuditEntry{
			ID:        int64(seq), //nolint:gosec // sequence fits in int64
			Event:     event,
			Detail:    detail,
			CreatedAt: time.Now().UTC(),
		}
		return putJSON(b, seqKey(seq), entry)
	})
	if err != nil {
		return fmt.Errorf("bolt: audit log %s: %w", event, err)
	}
	return nil
}

// List returns matching entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []domain.AuditEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket([]byte(auditBucket)).Cursor()
		skipped := 0
		for k, v := cur.Last(); k != nil && len(out) < limit; k, v = cur.Prev() {
			var e domain.AuditEntry
			if err := decode(v, &e); err != nil {
				return err
			}
			if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
				break
			}
			if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
				continue
			}
			if !opts.Match(e) {
				continue
			}
			if skipped < opts.Offset {
				skipped++
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: audit list: %w", err)
	}
	return out, nil
}
