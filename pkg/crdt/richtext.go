package crdt

import (
	"encoding/json"
	"sync"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/value"
)

// spanAnchor is one end of a formatting span: a character id plus
// which side of it the anchor sits on (spec §4.2.3). anchorAfter=true
// means the span boundary is just after Node; false means just before
// it. This lets a span survive a concurrent insert landing exactly at
// Node without ambiguity about which side of the boundary it fell on.
type spanAnchor struct {
	Node  NodeID `json:"node"`
	After bool   `json:"after"`
}

// formatSpan is one formatting-attribute delta (spec §3 RichText).
// Unformat is expressed as a span whose Value is a null value.Value
// (tombstone), per spec §4.2.3.
type formatSpan struct {
	Start     spanAnchor             `json:"start"`
	End       spanAnchor             `json:"end"`
	Attribute string                 `json:"attribute"`
	Value     value.Value            `json:"value"`
	Ts        clock.LogicalTimestamp `json:"ts"`
}

// RichText pairs a Text CRDT with a set of formatting spans resolved
// by LWW on Ts within overlapping spans per attribute key (spec
// §3/§4.2.3, "Peritext-style").
type RichText struct {
	mu    sync.RWMutex
	text  *Text
	spans []formatSpan
	obs   observerList
}

// NewRichText wraps an existing Text CRDT with formatting spans.
func NewRichText(text *Text) *RichText {
	return &RichText{text: text}
}

// Text returns the underlying positional text CRDT.
func (rt *RichText) Text() *Text { return rt.text }

// Subscribe registers an observer for ChangeSets this CRDT produces.
func (rt *RichText) Subscribe(fn Observer) { rt.obs.Subscribe(fn) }

// LocalFormat applies attr=val to the visible range [startIdx, endIdx)
// and produces the corresponding delta. The start anchor sits just
// after the character at startIdx-1 (the root sentinel when startIdx
// is 0), so the span begins at the character at startIdx; the end
// anchor sits "before" the character at endIdx (the tail sentinel when
// endIdx is the text length), so [startIdx, endIdx) reads naturally as
// a half-open range.
func (rt *RichText) LocalFormat(clk *clock.Clock, startIdx, endIdx int, attr string, val value.Value) Delta {
	start := spanAnchor{Node: rt.text.NodeAt(startIdx - 1), After: startIdx > 0}
	end := spanAnchor{Node: rt.text.NodeAt(endIdx), After: false}
	ts, vec := clk.Tick()

	rt.mu.Lock()
	rt.spans = append(rt.spans, formatSpan{Start: start, End: end, Attribute: attr, Value: val, Ts: ts})
	rt.mu.Unlock()

	rt.obs.notify(ChangeSet{Kind: ChangeFormatted, Index: startIdx, Length: endIdx - startIdx, Field: attr})
	return Delta{
		Kind: KindFormatApply,
		Payload: encodePayload(FormatApplyPayload{
			Start: start.Node, End: end.Node, StartAfter: start.After, EndAfter: end.After,
			Attribute: attr, Value: val,
		}),
		Ts:     ts,
		Vector: vec,
	}
}

// Apply integrates a remote formatApply delta. Duplicate spans (same
// Ts) are tolerated — they resolve identically at read time regardless
// of how many times they're stored, so Apply still reports them as
// applied rather than tracking a dedup set; idempotence of the
// observable *rendering* holds even though the span list itself may
// grow, matching how the teacher's own ORSet/Document tolerate
// redundant storage in favor of simpler merge logic.
func (rt *RichText) Apply(delta Delta) (ChangeSet, error) {
	if delta.Kind != KindFormatApply {
		return ChangeSet{}, errUnsupportedKind(delta.Kind, "RichText")
	}
	var p FormatApplyPayload
	if err := json.Unmarshal(delta.Payload, &p); err != nil {
		return ChangeSet{}, err
	}
	span := formatSpan{
		Start:     spanAnchor{Node: p.Start, After: p.StartAfter},
		End:       spanAnchor{Node: p.End, After: p.EndAfter},
		Attribute: p.Attribute,
		Value:     p.Value,
		Ts:        delta.Ts,
	}
	rt.mu.Lock()
	rt.spans = append(rt.spans, span)
	rt.mu.Unlock()

	cs := ChangeSet{Kind: ChangeFormatted, Field: p.Attribute}
	rt.obs.notify(cs)
	return cs, nil
}

// AttributesAt resolves the formatting attributes in effect at visible
// character index idx: per attribute key, the span covering idx with
// the latest Ts wins (spec §4.2.3). A span whose Value is Null acts as
// an unformat tombstone and is itself eligible to win the LWW race,
// clearing the attribute if it has the latest Ts.
func (rt *RichText) AttributesAt(idx int) map[string]value.Value {
	rt.mu.RLock()
	spans := append([]formatSpan(nil), rt.spans...)
	rt.mu.RUnlock()

	pos, ok := rt.text.positionOf(rt.text.NodeAt(idx))
	if !ok {
		return nil
	}

	winners := make(map[string]formatSpan)
	for _, sp := range spans {
		if !rt.covers(sp, pos) {
			continue
		}
		cur, exists := winners[sp.Attribute]
		if !exists || sp.Ts.Counter > cur.Ts.Counter ||
			(sp.Ts.Counter == cur.Ts.Counter && sp.Ts.ClientID > cur.Ts.ClientID) {
			winners[sp.Attribute] = sp
		}
	}

	out := make(map[string]value.Value, len(winners))
	for attr, sp := range winners {
		if sp.Value.Kind() == value.KindNull {
			continue // tombstoned: attribute reads as unset
		}
		out[attr] = sp.Value
	}
	return out
}

// covers reports whether arena position pos falls within span sp,
// honoring each anchor's After bit.
func (rt *RichText) covers(sp formatSpan, pos int) bool {
	startPos, ok := rt.text.positionOf(sp.Start.Node)
	if !ok {
		return false
	}
	endPos, ok := rt.text.positionOf(sp.End.Node)
	if !ok {
		return false
	}
	lower := startPos
	if sp.Start.After {
		lower = startPos + 1
	}
	upper := endPos
	if !sp.End.After {
		upper = endPos - 1
	}
	return pos >= lower && pos <= upper
}

type richTextSnapshot struct {
	Spans []formatSpan `json:"spans"`
}

// Snapshot serializes only the span set; the underlying Text's own
// Snapshot/Load covers character state separately (spec §3: RichText
// "pairs" a Text CRDT rather than owning its storage).
func (rt *RichText) Snapshot() ([]byte, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return json.Marshal(richTextSnapshot{Spans: rt.spans})
}

// Load replaces the span set with a previously captured snapshot. The
// paired Text CRDT must be loaded separately.
func (rt *RichText) Load(data []byte) error {
	var s richTextSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.spans = s.Spans
	return nil
}
