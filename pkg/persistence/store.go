// Package persistence defines the external storage interface SyncKit's
// coordinator consumes (spec §6), plus two implementations: an
// in-memory store for tests and offline-only replicas, and a durable
// bbolt-backed store exercising the same interface for real.
//
// SyncKit itself treats storage as an external collaborator (spec §1:
// "storage backends ... referenced through a narrow persistence
// interface") — the KV store on the client and the relational store on
// the server are out of scope. boltstore exists to give the interface
// one concrete, durable implementation to be tested against rather
// than leaving Store entirely abstract.
package persistence

import (
	"time"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
)

// Record is the persisted shape of one document (spec §6: "Persisted
// state layout"). Awareness is never included — it's never persisted.
type Record struct {
	Snapshot  []byte            `json:"snapshot"`
	Clock     clock.VectorClock `json:"clock"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Store is the persistence interface consumed by the coordinator (spec
// §6), matched field-for-field. AppendDelta is optional: a Store that
// doesn't support it returns ErrAppendUnsupported. The coordinator
// persists snapshot-only through Put and never calls AppendDelta.
type Store interface {
	Init() error
	Get(docID string) (Record, bool, error)
	Put(docID string, rec Record) error
	AppendDelta(docID string, delta crdt.Delta) error
	ListDocs() ([]string, error)
	Delete(docID string) error
	Close() error
}

// ErrAppendUnsupported is returned by AppendDelta implementations that
// only support snapshot-at-a-time persistence.
var ErrAppendUnsupported = appendUnsupportedError{}

type appendUnsupportedError struct{}

func (appendUnsupportedError) Error() string {
	return "persistence: this store does not support incremental delta append"
}
