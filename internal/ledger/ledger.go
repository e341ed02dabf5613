// Package ledger records a local, per-replica audit trail of every message
// this process has emitted. It plays no role in distributed correctness —
// dispatch coordination lives entirely in the shared store — it exists so a
// replica can answer "what did I personally emit and when" without
// depending on the store retaining anything past cleanup.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketEmissions = []byte("emissions")

// Record is one emitted message, as recorded by this replica.
type Record struct {
	ID        string `json:"id"`
	ScoreMs   int64  `json:"score_ms"`
	Text      string `json:"text"`
	EmittedMs int64  `json:"emitted_ms"`
	NodeID    string `json:"node_id"`
}

// Ledger is a bbolt-backed append-mostly log of Records, keyed by a
// big-endian-timestamp prefix so that key order is chronological order —
// the same trick the node package uses to make ULIDs sortable, applied here
// to an explicit timestamp instead.
type Ledger struct {
	db *bbolt.DB
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEmissions)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: init bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Record appends r to the ledger under a key combining its emission time
// and ID, so that a bucket scan yields records in emission-time order and
// two records sharing a millisecond do not overwrite each other (those are
// ordered by ID).
func (l *Ledger) Record(r Record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("ledger: marshal record %s: %w", r.ID, err)
	}

	key := recordKey(r.EmittedMs, r.ID)
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmissions).Put(key, val)
	})
}

// Recent returns up to n of the most recently emitted records, newest
// first.
func (l *Ledger) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	var records []Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEmissions).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("ledger: unmarshal record at key %x: %w", k, err)
			}
			records = append(records, r)
		}
		return nil
	})
	return records, err
}

// Close closes the underlying bbolt database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func recordKey(emittedMs int64, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key[:8], uint64(emittedMs))
	copy(key[8:], id)
	return key
}
