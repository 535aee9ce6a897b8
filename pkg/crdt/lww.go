package crdt

import (
	"encoding/json"
	"sync"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/value"
)

// fieldEntry is one LWW-resolved field. Tombstones are retained: a
// deleted field stays in the map with Deleted=true rather than being
// removed, so a late-arriving older delta can never resurrect it.
type fieldEntry struct {
	Value   value.Value            `json:"value"`
	Ts      clock.LogicalTimestamp `json:"ts"`
	Deleted bool                   `json:"deleted"`
}

// wins reports whether a candidate timestamp should overwrite this
// entry, per spec §4.2.1's tie-break (larger ClientID wins on a tie).
func (e fieldEntry) wins(ts clock.LogicalTimestamp) bool {
	if ts.Counter != e.Ts.Counter {
		return ts.Counter > e.Ts.Counter
	}
	return ts.ClientID > e.Ts.ClientID
}

// Document is an LWW-per-field record (spec §3/§4.2.1).
type Document struct {
	mu     sync.RWMutex
	fields map[string]fieldEntry
	vector clock.VectorClock
	obs    observerList
}

// NewDocument creates an empty LWW document.
func NewDocument() *Document {
	return &Document{fields: make(map[string]fieldEntry), vector: clock.NewVectorClock()}
}

// Subscribe registers an observer for ChangeSets this document produces.
func (d *Document) Subscribe(fn Observer) { d.obs.Subscribe(fn) }

// Get returns a field's current value. ok is false if the field was
// never set or has been deleted.
func (d *Document) Get(field string) (value.Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, exists := d.fields[field]
	if !exists || e.Deleted {
		return value.Null(), false
	}
	return e.Value, true
}

// Fields returns the set of field names that currently have a
// non-deleted value.
func (d *Document) Fields() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.fields))
	for k, e := range d.fields {
		if !e.Deleted {
			out = append(out, k)
		}
	}
	return out
}

// Vector returns the document's current vector clock.
func (d *Document) Vector() clock.VectorClock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vector.Clone()
}

// LocalSetField produces the Delta for setting field to val, using c to
// mint a fresh timestamp, and applies it locally.
func (d *Document) LocalSetField(c *clock.Clock, field string, val value.Value) Delta {
	ts, vec := c.Tick()
	d.mu.Lock()
	d.setLocked(field, val, false, ts)
	d.vector = d.vector.Merge(vec)
	d.mu.Unlock()
	d.obs.notify(ChangeSet{Kind: ChangeFieldSet, Field: field})

	return Delta{
		Kind:    KindSetField,
		Payload: encodePayload(SetFieldPayload{Field: field, Value: val}),
		Ts:      ts,
		Vector:  vec,
	}
}

// LocalDeleteField produces the Delta for tombstoning field.
func (d *Document) LocalDeleteField(c *clock.Clock, field string) Delta {
	ts, vec := c.Tick()
	d.mu.Lock()
	d.setLocked(field, value.Null(), true, ts)
	d.vector = d.vector.Merge(vec)
	d.mu.Unlock()
	d.obs.notify(ChangeSet{Kind: ChangeFieldDeleted, Field: field})

	return Delta{
		Kind:    KindDeleteField,
		Payload: encodePayload(DeleteFieldPayload{Field: field}),
		Ts:      ts,
		Vector:  vec,
	}
}

func (d *Document) setLocked(field string, val value.Value, deleted bool, ts clock.LogicalTimestamp) {
	existing, ok := d.fields[field]
	if ok && !existing.wins(ts) {
		return
	}
	d.fields[field] = fieldEntry{Value: val, Ts: ts, Deleted: deleted}
}

// Apply integrates a remote delta, returning the ChangeSet describing
// its effect (Noop if it lost LWW resolution or was a duplicate).
func (d *Document) Apply(delta Delta) (ChangeSet, error) {
	switch delta.Kind {
	case KindSetField:
		var p SetFieldPayload
		if err := json.Unmarshal(delta.Payload, &p); err != nil {
			return ChangeSet{}, err
		}
		d.mu.Lock()
		existing, ok := d.fields[p.Field]
		applied := !ok || existing.wins(delta.Ts)
		if applied {
			d.fields[p.Field] = fieldEntry{Value: p.Value, Ts: delta.Ts, Deleted: false}
		}
		d.vector = d.vector.Merge(delta.Vector)
		d.mu.Unlock()
		if !applied {
			return Noop(), nil
		}
		cs := ChangeSet{Kind: ChangeFieldSet, Field: p.Field}
		d.obs.notify(cs)
		return cs, nil

	case KindDeleteField:
		var p DeleteFieldPayload
		if err := json.Unmarshal(delta.Payload, &p); err != nil {
			return ChangeSet{}, err
		}
		d.mu.Lock()
		existing, ok := d.fields[p.Field]
		applied := !ok || existing.wins(delta.Ts)
		if applied {
			d.fields[p.Field] = fieldEntry{Value: value.Null(), Ts: delta.Ts, Deleted: true}
		}
		d.vector = d.vector.Merge(delta.Vector)
		d.mu.Unlock()
		if !applied {
			return Noop(), nil
		}
		cs := ChangeSet{Kind: ChangeFieldDeleted, Field: p.Field}
		d.obs.notify(cs)
		return cs, nil

	default:
		return ChangeSet{}, errUnsupportedKind(delta.Kind, "Document")
	}
}

// docSnapshot is the serialized form produced by Snapshot/Load.
type docSnapshot struct {
	Fields map[string]fieldEntry  `json:"fields"`
	Vector clock.VectorClock      `json:"vector"`
}

// Snapshot serializes the full document state, tombstones included
// (spec §9: safe to always include full state in snapshots).
func (d *Document) Snapshot() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(docSnapshot{Fields: d.fields, Vector: d.vector})
}

// Load replaces the document's state with a previously captured
// snapshot.
func (d *Document) Load(data []byte) error {
	var s docSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.Fields == nil {
		s.Fields = make(map[string]fieldEntry)
	}
	d.fields = s.Fields
	if s.Vector == nil {
		s.Vector = clock.NewVectorClock()
	}
	d.vector = s.Vector
	return nil
}
