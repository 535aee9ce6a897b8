package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
)

var (
	bucketDocs   = []byte("docs")   // docID -> json(Record)
	bucketDeltas = []byte("deltas") // docID\x00ts -> json(crdt.Delta), append-only
)

// BoltStore is a durable, single-file Store backed by bbolt — a
// concrete stand-in for "the KV store on the client" spec §1 names as
// an external collaborator, giving the Store interface one real
// on-disk implementation to exercise and test.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("persistence: open boltdb: %w", err)
	}
	s := &BoltStore{db: db}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) Init() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDocs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDeltas)
		return err
	})
}

func (s *BoltStore) Get(docID string) (Record, bool, error) {
	var rec Record
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(docID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("persistence: get %s: %w", docID, err)
	}
	return rec, found, nil
}

func (s *BoltStore) Put(docID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("persistence: marshal record: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).Put([]byte(docID), data)
	})
	if err != nil {
		return fmt.Errorf("persistence: put %s: %w", docID, err)
	}
	return nil
}

// deltaKey orders entries for one document within the shared bucket:
// docID, a NUL separator, then the zero-padded counter, another NUL and
// the producer client id, so a prefix scan yields them back in
// (counter, clientId) order.
func deltaKey(docID string, d crdt.Delta) []byte {
	return []byte(fmt.Sprintf("%s\x00%020d\x00%s", docID, d.Ts.Counter, d.Ts.ClientID))
}

// AppendDelta records one delta durably, in addition to whatever the
// last Put snapshot held. The coordinator does not call it; it
// persists by writing the full snapshot with Put.
func (s *BoltStore) AppendDelta(docID string, delta crdt.Delta) error {
	data, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("persistence: marshal delta: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDeltas).Put(deltaKey(docID, delta), data)
	})
	if err != nil {
		return fmt.Errorf("persistence: append delta for %s: %w", docID, err)
	}
	return nil
}

func (s *BoltStore) ListDocs() ([]string, error) {
	var docs []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			docs = append(docs, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: list docs: %w", err)
	}
	return docs, nil
}

func (s *BoltStore) Delete(docID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketDocs).Delete([]byte(docID)); err != nil {
			return err
		}
		prefix := append([]byte(docID), 0x00)
		c := tx.Bucket(bucketDeltas).Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persistence: delete %s: %w", docID, err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}
