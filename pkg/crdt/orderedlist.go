package crdt

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
)

// listEntry is one element's position in an OrderedList, LWW-resolved
// per element the same way Document resolves per-field (spec
// §4.2.1's tie-break: larger ClientID wins on a counter tie), so a
// move is a position overwrite rather than a structural list edit.
type listEntry struct {
	Index string                 `json:"index"`
	Ts    clock.LogicalTimestamp `json:"ts"`
}

func (e listEntry) wins(ts clock.LogicalTimestamp) bool {
	if ts.Counter != e.Ts.Counter {
		return ts.Counter > e.Ts.Counter
	}
	return ts.ClientID > e.Ts.ClientID
}

// OrderedList is the fractional-index ordered list CRDT spec §2 lists
// alongside LWW/Text/RichText/OR-Set/PN-Counter: each element carries
// a FractionalIndex position string, LWW-resolved the way Document
// resolves a field, so concurrent moves of the same element converge
// by the same counter/clientId tie-break without any structural
// merge.
type OrderedList struct {
	mu      sync.RWMutex
	entries map[string]listEntry // element id -> position
	vector  clock.VectorClock
	obs     observerList
}

// NewOrderedList creates an empty ordered list.
func NewOrderedList() *OrderedList {
	return &OrderedList{entries: make(map[string]listEntry), vector: clock.NewVectorClock()}
}

// Subscribe registers an observer for ChangeSets this list produces.
func (l *OrderedList) Subscribe(fn Observer) { l.obs.Subscribe(fn) }

// Vector returns the list's current vector clock.
func (l *OrderedList) Vector() clock.VectorClock {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.vector.Clone()
}

// LocalMove places element at a fresh FractionalIndex key generated
// strictly between before and after (either may be "" for "no
// bound"), minting a timestamp via clk.
func (l *OrderedList) LocalMove(clk *clock.Clock, element, before, after string) Delta {
	ts, vec := clk.Tick()
	index := Between(before, after, clk.ClientID())

	l.mu.Lock()
	l.setLocked(element, index, ts)
	l.vector = l.vector.Merge(vec)
	l.mu.Unlock()
	l.obs.notify(ChangeSet{Kind: ChangeListMoved, Element: element})

	return Delta{
		Kind:    KindListMove,
		Payload: encodePayload(ListMovePayload{Element: element, Index: index}),
		Ts:      ts,
		Vector:  vec,
	}
}

func (l *OrderedList) setLocked(element, index string, ts clock.LogicalTimestamp) {
	existing, ok := l.entries[element]
	if ok && !existing.wins(ts) {
		return
	}
	l.entries[element] = listEntry{Index: index, Ts: ts}
}

// Apply integrates a remote listMove delta.
func (l *OrderedList) Apply(delta Delta) (ChangeSet, error) {
	if delta.Kind != KindListMove {
		return ChangeSet{}, errUnsupportedKind(delta.Kind, "OrderedList")
	}
	var p ListMovePayload
	if err := json.Unmarshal(delta.Payload, &p); err != nil {
		return ChangeSet{}, err
	}

	l.mu.Lock()
	existing, ok := l.entries[p.Element]
	applied := !ok || existing.wins(delta.Ts)
	if applied {
		l.entries[p.Element] = listEntry{Index: p.Index, Ts: delta.Ts}
	}
	l.vector = l.vector.Merge(delta.Vector)
	l.mu.Unlock()

	if !applied {
		return Noop(), nil
	}
	cs := ChangeSet{Kind: ChangeListMoved, Element: p.Element}
	l.obs.notify(cs)
	return cs, nil
}

// Order returns every element currently in the list, sorted by its
// FractionalIndex position.
func (l *OrderedList) Order() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.entries))
	for el := range l.entries {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool {
		return l.entries[out[i]].Index < l.entries[out[j]].Index
	})
	return out
}

type listSnapshot struct {
	Entries map[string]listEntry `json:"entries"`
	Vector  clock.VectorClock    `json:"vector"`
}

// Snapshot serializes every element's position and the list's clock.
func (l *OrderedList) Snapshot() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(listSnapshot{Entries: l.entries, Vector: l.vector})
}

// Load replaces the list's state with a previously captured snapshot.
func (l *OrderedList) Load(data []byte) error {
	var s listSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.Entries == nil {
		s.Entries = make(map[string]listEntry)
	}
	l.entries = s.Entries
	if s.Vector == nil {
		s.Vector = clock.NewVectorClock()
	}
	l.vector = s.Vector
	return nil
}
