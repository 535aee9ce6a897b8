package crdt

import (
	"encoding/json"
	"sync"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
)

// NodeID identifies one character node in a Text CRDT arena, and (by
// extension) an anchor point in a RichText's formatting spans. The
// zero value is the synthetic root sentinel: "before the first
// character" (spec §9 Open Question on boundary anchors, resolved by
// treating the arena's root/tail sentinels as valid anchors).
type NodeID struct {
	Counter  uint64 `json:"counter"`
	ClientID string `json:"clientId"`
}

// tailNodeID is the synthetic sentinel meaning "after the last
// character" — the mirror of the zero-value root sentinel.
var tailNodeID = NodeID{ClientID: "$tail$"}

func (id NodeID) isRoot() bool { return id == (NodeID{}) }
func (id NodeID) isTail() bool { return id == tailNodeID }

// less gives NodeID a total order for tie-breaking: (Counter, ClientID).
func (id NodeID) less(o NodeID) bool {
	if id.Counter != o.Counter {
		return id.Counter < o.Counter
	}
	return id.ClientID < o.ClientID
}

// textNode is one character in the arena. Tombstones are retained
// forever in v1 (spec §4.2.2: "garbage collection is not performed").
type textNode struct {
	ID          NodeID `json:"id"`
	Char        rune   `json:"char"`
	LeftOrigin  NodeID `json:"leftOrigin"`
	RightOrigin NodeID `json:"rightOrigin"`
	Deleted     bool   `json:"deleted"`
}

// Text is a Fugue-style positional text CRDT (spec §3/§4.2.2). Nodes
// live in an arena slice kept in document order (including
// tombstones); an id→index map gives O(1) lookup by NodeID, so insert
// and delete are O(n) in the worst case (a linear scan to find an
// origin's current position) rather than the O(log n) an
// order-statistic tree would give — acceptable for the document sizes
// real-time collaborative text editing targets, and the simplest
// structure that preserves the arena-plus-index shape spec §9
// recommends.
type Text struct {
	mu     sync.RWMutex
	arena  []textNode
	index  map[NodeID]int
	vector clock.VectorClock
	obs    observerList
}

// NewText creates an empty text CRDT.
func NewText() *Text {
	return &Text{index: make(map[NodeID]int), vector: clock.NewVectorClock()}
}

// Subscribe registers an observer for ChangeSets this CRDT produces.
func (t *Text) Subscribe(fn Observer) { t.obs.Subscribe(fn) }

// String returns the current visible text (tombstones skipped).
func (t *Text) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sb []rune
	for _, n := range t.arena {
		if !n.Deleted {
			sb = append(sb, n.Char)
		}
	}
	return string(sb)
}

// Len returns the number of visible (non-tombstoned) characters.
func (t *Text) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, node := range t.arena {
		if !node.Deleted {
			n++
		}
	}
	return n
}

// Vector returns the CRDT's current vector clock.
func (t *Text) Vector() clock.VectorClock {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vector.Clone()
}

// visibleOriginAt returns the NodeID of the idx-th visible character,
// counting from 1 (0 = root sentinel, anything past Len() = tail
// sentinel), used to resolve a caller's string-index insert/delete
// into origin ids.
func (t *Text) visibleOriginAt(idx int) NodeID {
	if idx <= 0 {
		return NodeID{}
	}
	seen := 0
	for _, n := range t.arena {
		if n.Deleted {
			continue
		}
		seen++
		if seen == idx {
			return n.ID
		}
	}
	return tailNodeID
}

// siblingLess orders two nodes that share the same left origin —
// genuine concurrent competitors for the same slot — by (rightOrigin
// desc, id asc), the "maximal non-interleaving" tie-break (spec
// §4.2.2). It is only meaningful when a.LeftOrigin == b.LeftOrigin;
// insertIntoArena never calls it otherwise.
func siblingLess(a, b textNode) bool {
	if a.RightOrigin != b.RightOrigin {
		return b.RightOrigin.less(a.RightOrigin) // desc
	}
	return a.ID.less(b.ID)
}

// originIndexOr resolves id to its arena index, or def if id is the
// root/tail sentinel or otherwise not yet in the arena.
func (t *Text) originIndexOr(id NodeID, def int) int {
	if idx, ok := t.index[id]; ok {
		return idx
	}
	return def
}

// insertIntoArena finds the correct arena position for node and
// splices it in. The scan follows the Yjs/Fugue integrate algorithm:
// a node already in the window competes directly with the candidate
// only when it shares the candidate's left origin (siblingLess
// decides the order); anything else in the window is chained off a
// sibling that has already been placed — the tail of that sibling's
// own concurrent insert run — and must be skipped whole rather than
// compared against the candidate directly. Comparing run-internal
// nodes as if they were fresh competitors is what lets two concurrent
// multi-character inserts interleave with each other; skipping their
// subtrees keeps each run contiguous. Returns the arena index the
// node landed at.
func (t *Text) insertIntoArena(node textNode) int {
	leftIdx := -1
	if !node.LeftOrigin.isRoot() {
		leftIdx = t.originIndexOr(node.LeftOrigin, -1)
	}
	rightIdx := len(t.arena)
	if !node.RightOrigin.isTail() {
		rightIdx = t.originIndexOr(node.RightOrigin, len(t.arena))
	}

	pos := leftIdx + 1
scan:
	for pos < rightIdx && pos < len(t.arena) {
		existing := t.arena[pos]
		existingLeftIdx := -1
		if !existing.LeftOrigin.isRoot() {
			existingLeftIdx = t.originIndexOr(existing.LeftOrigin, -1)
		}
		switch {
		case existingLeftIdx < leftIdx:
			// existing anchors to a position before our own left
			// origin: it belongs to an earlier, already-resolved
			// block, not our window.
			break scan
		case existingLeftIdx > leftIdx:
			// existing is chained off a sibling inside our window —
			// part of that sibling's run. Skip over it whole.
			pos++
		default:
			// existing shares our left origin: a genuine concurrent
			// sibling competing for this slot.
			if !siblingLess(existing, node) {
				break scan
			}
			pos++
		}
	}

	t.arena = append(t.arena, textNode{})
	copy(t.arena[pos+1:], t.arena[pos:])
	t.arena[pos] = node
	t.reindexFrom(pos)
	return pos
}

func (t *Text) reindexFrom(start int) {
	for i := start; i < len(t.arena); i++ {
		t.index[t.arena[i].ID] = i
	}
}

// LocalInsert inserts s at visible string index, minting one
// LogicalTimestamp (and one Delta) per rune via clk. Returns the
// deltas in insertion order.
func (t *Text) LocalInsert(clk *clock.Clock, index int, s string) []Delta {
	runes := []rune(s)
	deltas := make([]Delta, 0, len(runes))

	for _, r := range runes {
		t.mu.Lock()
		left := t.visibleOriginAt(index)
		right := t.visibleOriginAt(index + 1)
		ts, vec := clk.Tick()
		id := NodeID{Counter: ts.Counter, ClientID: ts.ClientID}
		node := textNode{ID: id, Char: r, LeftOrigin: left, RightOrigin: right}
		t.insertIntoArena(node)
		t.vector = t.vector.Merge(vec)
		t.mu.Unlock()

		t.obs.notify(ChangeSet{Kind: ChangeTextInserted, Index: index, Length: 1})
		deltas = append(deltas, Delta{
			Kind: KindTextInsert,
			Payload: encodePayload(TextInsertPayload{
				ID: id, Char: r, LeftOrigin: left, RightOrigin: right,
			}),
			Ts:     ts,
			Vector: vec,
		})
		index++
	}
	return deltas
}

// LocalDelete tombstones the length characters starting at visible
// index. Returns one Delta per deleted character.
func (t *Text) LocalDelete(clk *clock.Clock, index, length int) []Delta {
	deltas := make([]Delta, 0, length)
	for i := 0; i < length; i++ {
		t.mu.Lock()
		target := t.visibleOriginAt(index + 1)
		if target.isTail() {
			t.mu.Unlock()
			break
		}
		pos := t.index[target]
		t.arena[pos].Deleted = true
		ts, vec := clk.Tick()
		t.vector = t.vector.Merge(vec)
		t.mu.Unlock()

		t.obs.notify(ChangeSet{Kind: ChangeTextDeleted, Index: index, Length: 1})
		deltas = append(deltas, Delta{
			Kind:    KindTextDelete,
			Payload: encodePayload(TextDeletePayload{ID: target}),
			Ts:      ts,
			Vector:  vec,
		})
	}
	return deltas
}

// Apply integrates a remote textInsert/textDelete delta.
func (t *Text) Apply(delta Delta) (ChangeSet, error) {
	switch delta.Kind {
	case KindTextInsert:
		var p TextInsertPayload
		if err := json.Unmarshal(delta.Payload, &p); err != nil {
			return ChangeSet{}, err
		}
		t.mu.Lock()
		if _, dup := t.index[p.ID]; dup {
			t.mu.Unlock()
			return Noop(), nil
		}
		pos := t.insertIntoArena(textNode{
			ID: p.ID, Char: p.Char, LeftOrigin: p.LeftOrigin, RightOrigin: p.RightOrigin,
		})
		t.vector = t.vector.Merge(delta.Vector)
		t.mu.Unlock()
		cs := ChangeSet{Kind: ChangeTextInserted, Index: pos, Length: 1}
		t.obs.notify(cs)
		return cs, nil

	case KindTextDelete:
		var p TextDeletePayload
		if err := json.Unmarshal(delta.Payload, &p); err != nil {
			return ChangeSet{}, err
		}
		t.mu.Lock()
		pos, ok := t.index[p.ID]
		if !ok {
			// delete arrived before its insert; nothing to tombstone
			// yet. Causally this shouldn't happen in-order delivery,
			// but apply is tolerant rather than poisoning state.
			t.mu.Unlock()
			return Noop(), nil
		}
		alreadyDeleted := t.arena[pos].Deleted
		t.arena[pos].Deleted = true
		t.vector = t.vector.Merge(delta.Vector)
		t.mu.Unlock()
		if alreadyDeleted {
			return Noop(), nil
		}
		cs := ChangeSet{Kind: ChangeTextDeleted, Index: pos, Length: 1}
		t.obs.notify(cs)
		return cs, nil

	default:
		return ChangeSet{}, errUnsupportedKind(delta.Kind, "Text")
	}
}

type textSnapshot struct {
	Arena  []textNode        `json:"arena"`
	Vector clock.VectorClock `json:"vector"`
}

// Snapshot serializes the full arena (tombstones included) and clock.
func (t *Text) Snapshot() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.Marshal(textSnapshot{Arena: t.arena, Vector: t.vector})
}

// Load replaces the CRDT's state with a previously captured snapshot.
func (t *Text) Load(data []byte) error {
	var s textSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arena = s.Arena
	t.index = make(map[NodeID]int, len(s.Arena))
	for i, n := range s.Arena {
		t.index[n.ID] = i
	}
	if s.Vector == nil {
		s.Vector = clock.NewVectorClock()
	}
	t.vector = s.Vector
	return nil
}

// NodeAt exposes the NodeID currently at visible string index, for
// RichText to anchor spans against.
func (t *Text) NodeAt(index int) NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.visibleOriginAt(index + 1)
}

// positionOf returns the arena index of id, and whether it was found.
// Used by RichText to sweep spans in document order.
func (t *Text) positionOf(id NodeID) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id.isRoot() {
		return -1, true
	}
	if id.isTail() {
		return len(t.arena), true
	}
	idx, ok := t.index[id]
	return idx, ok
}

// visibleRunes returns the arena indices (in order) of non-deleted
// nodes, paired with their runes.
func (t *Text) visibleRunes() ([]int, []rune) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idxs := make([]int, 0, len(t.arena))
	runes := make([]rune, 0, len(t.arena))
	for i, n := range t.arena {
		if !n.Deleted {
			idxs = append(idxs, i)
			runes = append(runes, n.Char)
		}
	}
	return idxs, runes
}
