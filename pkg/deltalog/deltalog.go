// Package deltalog implements spec §4.3: given two peers' vector
// clocks, compute the minimal set of deltas the remote side has not
// observed yet, by scanning a per-client append-only log of produced
// deltas.
package deltalog

import (
	"sort"
	"sync"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
)

// TruncatedError is returned by Select when the log for a clientId has
// been truncated past what the remote needs — the caller must fall
// back to a full snapshot and signal SnapshotReset (spec §4.3 edge
// policy).
type TruncatedError struct {
	ClientID string
	Need     uint64 // lowest counter the remote still needs
	Have     uint64 // lowest counter retained in the log
}

func (e *TruncatedError) Error() string {
	return "deltalog: log for " + e.ClientID + " truncated below what remote needs"
}

// Log is a per-document, per-client append-only sequence of produced
// deltas, ordered by producer-counter (spec §4.3: "scan the document's
// delta log ... for every delta whose ts falls in one of those
// ranges"). It mirrors the append-only segment idiom of a write-ahead
// log: each client's sequence is its own monotonically growing segment.
type Log struct {
	mu       sync.RWMutex
	byClient map[string][]crdt.Delta // sorted by Ts.Counter ascending
	// truncatedBelow[client] is the highest counter discarded for that
	// client (everything at or below it is gone); 0 means nothing has
	// been truncated.
	truncatedBelow map[string]uint64
}

// New creates an empty delta log.
func New() *Log {
	return &Log{byClient: make(map[string][]crdt.Delta), truncatedBelow: make(map[string]uint64)}
}

// Append records delta in its producer's segment. Deltas must be
// appended in producer-counter order (the order a single replica's
// Clock.Tick issues them); Apply-time re-delivery is deduplicated by
// the CRDT layer, not here, so Append accepts duplicates without
// complaint — Select simply returns the same delta again.
func (l *Log) Append(d crdt.Delta) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byClient[d.Ts.ClientID] = append(l.byClient[d.Ts.ClientID], d)
}

// TruncateBelow discards this client's deltas with counter <= below,
// recording the truncation point so a later Select that needs one of
// them returns TruncatedError instead of silently omitting it.
func (l *Log) TruncateBelow(clientID string, below uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := l.byClient[clientID]
	cut := 0
	for cut < len(seq) && seq[cut].Ts.Counter <= below {
		cut++
	}
	l.byClient[clientID] = append([]crdt.Delta(nil), seq[cut:]...)
	if below > l.truncatedBelow[clientID] {
		l.truncatedBelow[clientID] = below
	}
}

// Scan returns, for one clientID, the deltas with Ts.Counter in
// (low, high], in producer order.
func (l *Log) Scan(clientID string, low, high uint64) ([]crdt.Delta, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if low < l.truncatedBelow[clientID] {
		return nil, &TruncatedError{ClientID: clientID, Need: low + 1, Have: l.truncatedBelow[clientID] + 1}
	}
	seq := l.byClient[clientID]
	// seq is sorted ascending by counter; binary-search the window.
	start := sort.Search(len(seq), func(i int) bool { return seq[i].Ts.Counter > low })
	end := sort.Search(len(seq), func(i int) bool { return seq[i].Ts.Counter > high })
	out := make([]crdt.Delta, end-start)
	copy(out, seq[start:end])
	return out, nil
}

// Select implements spec §4.3's algorithm: compute missingThere from
// local vs remote vector clocks, then scan the log for every delta in
// those ranges, returned grouped by clientId in producer order. An
// empty intersection returns an empty, non-nil slice (idempotent, per
// spec). If any client's range has been truncated, Select returns a
// *TruncatedError — the caller (coordinator) should fall back to a
// full snapshot and signal SnapshotReset instead of partial deltas.
func (l *Log) Select(local, remote clock.VectorClock) ([]crdt.Delta, error) {
	_, missingThere := local.DeltaAgainst(remote)
	out := make([]crdt.Delta, 0)
	for _, rng := range missingThere {
		if rng.Empty() {
			continue
		}
		ds, err := l.Scan(rng.ClientID, rng.Low, rng.High)
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, nil
}

// Validate rejects a delta whose vector is not consistent with having
// been produced causally (spec §4.3 edge policy: "Deltas carrying
// vector that is not <= localClock ⊔ {producer → producer.counter}
// indicate corruption"). localClock is the receiver's current view
// before applying delta.
func Validate(delta crdt.Delta, localClock clock.VectorClock) error {
	expected := localClock.WithIncrement(delta.Ts.ClientID, delta.Ts.Counter)
	if !delta.Vector.LessOrEqual(expected) {
		return &CausalViolationError{Delta: delta}
	}
	return nil
}

// CausalViolationError signals a remote delta whose claimed vector
// clock is inconsistent with anything this replica could have caused
// (spec §4.3/§7 CausalViolation).
type CausalViolationError struct {
	Delta crdt.Delta
}

func (e *CausalViolationError) Error() string {
	return "deltalog: causal violation in delta from " + e.Delta.Ts.ClientID
}
