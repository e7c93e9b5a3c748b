// Package bolt implements domain store interfaces on an embedded bbolt
// database. It backs single-node deployments and the service tests.
package bolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aklo360/cc-sub001/internal/domain"
)

const (
	commitmentsBucket = "commitments"
	pendingBucket     = "pending_by_wallet"
	replayBucket      = "replay"
	walletsBucket     = "wallets"
	auditBucket       = "audit"
	taskRunsBucket    = "task_runs"
	feeSweepsBucket   = "fee_sweeps"
)

var buckets = []string{
	commitmentsBucket,
	pendingBucket,
	replayBucket,
	walletsBucket,
	auditBucket,
	taskRunsBucket,
	feeSweepsBucket,
}

// Client owns the bbolt database handle.
type Client struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Client, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bolt: storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("bolt: create data dir: %w", err)
		}
	}

	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", cleanPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Stores returns every domain store backed by this database.
func (c *Client) Stores() domain.Stores {
	return domain.Stores{
		Commitments: NewCommitmentStore(c.db),
		Replay:      NewReplayStore(c.db),
		Wallets:     NewWalletStore(c.db),
		Audit:       NewAuditStore(c.db),
		TaskRuns:    NewTaskRunStore(c.db),
		Sweeps:      NewFeeSweepStore(c.db),
	}
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return b.Put(key, payload)
}

func getJSON(b *bbolt.Bucket, key []byte, v any) error {
	return decode(b.Get(key), v)
}

func decode(payload []byte, v any) error {
	if payload == nil {
		return domain.ErrNotFound
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// timeKey encodes t so byte order matches chronological order.
func timeKey(t time.Time) []byte {
	buf := make([]byte, 8)
	//nolint:gosec // timestamps after 1970 are non-negative
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func seqKey(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}
