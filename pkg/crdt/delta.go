package crdt

import (
	"encoding/json"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/value"
)

// Kind discriminates what a Delta does. Spec §3.
type Kind string

const (
	KindSetField    Kind = "setField"
	KindDeleteField Kind = "deleteField"
	KindTextInsert  Kind = "textInsert"
	KindTextDelete  Kind = "textDelete"
	KindFormatApply Kind = "formatApply"
	KindSetAdd      Kind = "setAdd"
	KindSetRemove   Kind = "setRemove"
	KindCounterInc  Kind = "counterInc"
	KindCounterDec  Kind = "counterDec"
	KindListMove    Kind = "listMove"
)

// Delta is a self-describing, immutable unit of change. Vector is the
// producing replica's clock *after* the operation (spec §3).
type Delta struct {
	Kind    Kind               `json:"kind"`
	Payload json.RawMessage    `json:"payload"`
	Ts      clock.LogicalTimestamp `json:"ts"`
	Vector  clock.VectorClock  `json:"vector"`
}

func encodePayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// payload types are all local structs under our control;
		// a marshal failure here is a programming error.
		panic("crdt: failed to encode delta payload: " + err.Error())
	}
	return b
}

// SetFieldPayload is the payload of a KindSetField delta.
type SetFieldPayload struct {
	Field string      `json:"field"`
	Value value.Value `json:"value"`
}

// DeleteFieldPayload is the payload of a KindDeleteField delta.
type DeleteFieldPayload struct {
	Field string `json:"field"`
}

// TextInsertPayload is the payload of a KindTextInsert delta: one
// character integrated relative to its origins.
type TextInsertPayload struct {
	ID          NodeID `json:"id"`
	Char        rune   `json:"char"`
	LeftOrigin  NodeID `json:"leftOrigin"`
	RightOrigin NodeID `json:"rightOrigin"`
}

// TextDeletePayload is the payload of a KindTextDelete delta.
type TextDeletePayload struct {
	ID NodeID `json:"id"`
}

// FormatApplyPayload is the payload of a KindFormatApply delta.
type FormatApplyPayload struct {
	Start     NodeID      `json:"start"`
	End       NodeID      `json:"end"`
	StartAfter bool       `json:"startAfter"`
	EndAfter   bool       `json:"endAfter"`
	Attribute string      `json:"attribute"`
	Value     value.Value `json:"value"`
}

// SetAddPayload is the payload of a KindSetAdd delta.
type SetAddPayload struct {
	Element string `json:"element"`
	Tag     AddTag `json:"tag"`
}

// SetRemovePayload is the payload of a KindSetRemove delta.
type SetRemovePayload struct {
	Element     string   `json:"element"`
	ObservedTags []AddTag `json:"observedTags"`
}

// CounterDeltaPayload is the payload of KindCounterInc/KindCounterDec.
// Total is the producing client's cumulative increment/decrement total
// *after* this operation (not just this op's amount), so that Apply can
// merge by componentwise max and stay idempotent under redelivery —
// the same state-based rule spec §3/§4.2.4 specifies for PN-Counter
// merge.
type CounterDeltaPayload struct {
	Amount int64  `json:"amount"`
	Total  uint64 `json:"total"`
}

// ListMovePayload is the payload of a KindListMove delta (fractional
// index assignment for one element).
type ListMovePayload struct {
	Element string `json:"element"`
	Index   string `json:"index"`
}
