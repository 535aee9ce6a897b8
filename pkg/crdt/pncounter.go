package crdt

import (
	"encoding/json"
	"sync"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
)

// PNCounter is a Positive-Negative counter (spec §3/§4.2.4): two
// clock-like maps of per-client cumulative increments and decrements,
// merged by componentwise max. Value = sum(P) - sum(N).
type PNCounter struct {
	mu  sync.RWMutex
	pos map[string]uint64
	neg map[string]uint64
	obs observerList
}

// NewPNCounter creates a zeroed PN-Counter.
func NewPNCounter() *PNCounter {
	return &PNCounter{pos: make(map[string]uint64), neg: make(map[string]uint64)}
}

// Subscribe registers an observer for ChangeSets this counter produces.
func (c *PNCounter) Subscribe(fn Observer) { c.obs.Subscribe(fn) }

// Value returns sum(P) - sum(N).
func (c *PNCounter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, v := range c.pos {
		total += int64(v)
	}
	for _, v := range c.neg {
		total -= int64(v)
	}
	return total
}

// LocalIncrement adds amount (must be >= 0) to this replica's running
// positive total and produces the corresponding delta.
func (c *PNCounter) LocalIncrement(clk *clock.Clock, amount int64) Delta {
	ts, vec := clk.Tick()
	c.mu.Lock()
	c.pos[ts.ClientID] += uint64(amount)
	total := c.pos[ts.ClientID]
	c.mu.Unlock()
	c.obs.notify(ChangeSet{Kind: ChangeCounter})
	return Delta{
		Kind:    KindCounterInc,
		Payload: encodePayload(CounterDeltaPayload{Amount: amount, Total: total}),
		Ts:      ts,
		Vector:  vec,
	}
}

// LocalDecrement adds amount (must be >= 0) to this replica's running
// negative total and produces the corresponding delta.
func (c *PNCounter) LocalDecrement(clk *clock.Clock, amount int64) Delta {
	ts, vec := clk.Tick()
	c.mu.Lock()
	c.neg[ts.ClientID] += uint64(amount)
	total := c.neg[ts.ClientID]
	c.mu.Unlock()
	c.obs.notify(ChangeSet{Kind: ChangeCounter})
	return Delta{
		Kind:    KindCounterDec,
		Payload: encodePayload(CounterDeltaPayload{Amount: amount, Total: total}),
		Ts:      ts,
		Vector:  vec,
	}
}

// Apply integrates a remote increment/decrement by raising the
// producer's running total to max(existing, p.Total) — componentwise
// max merge, so redelivery of the same (or a stale) delta is a no-op.
func (c *PNCounter) Apply(delta Delta) (ChangeSet, error) {
	var p CounterDeltaPayload
	if err := json.Unmarshal(delta.Payload, &p); err != nil {
		return ChangeSet{}, err
	}
	c.mu.Lock()
	var applied bool
	switch delta.Kind {
	case KindCounterInc:
		applied = bumpMax(c.pos, delta.Ts.ClientID, p.Total)
	case KindCounterDec:
		applied = bumpMax(c.neg, delta.Ts.ClientID, p.Total)
	default:
		c.mu.Unlock()
		return ChangeSet{}, errUnsupportedKind(delta.Kind, "PNCounter")
	}
	c.mu.Unlock()
	if !applied {
		return Noop(), nil
	}
	cs := ChangeSet{Kind: ChangeCounter}
	c.obs.notify(cs)
	return cs, nil
}

// bumpMax raises m[key] to target if target is higher, reporting
// whether it changed anything.
func bumpMax(m map[string]uint64, key string, target uint64) bool {
	if target > m[key] {
		m[key] = target
		return true
	}
	return false
}

type pnSnapshot struct {
	Pos map[string]uint64 `json:"pos"`
	Neg map[string]uint64 `json:"neg"`
}

// Snapshot serializes the full per-client positive/negative maps.
func (c *PNCounter) Snapshot() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(pnSnapshot{Pos: c.pos, Neg: c.neg})
}

// Load replaces the counter's state with a previously captured snapshot.
func (c *PNCounter) Load(data []byte) error {
	var s pnSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Pos == nil {
		s.Pos = make(map[string]uint64)
	}
	if s.Neg == nil {
		s.Neg = make(map[string]uint64)
	}
	c.pos, c.neg = s.Pos, s.Neg
	return nil
}

// Merge folds another counter's per-client totals in by componentwise
// max, per spec §3/§4.2.4.
func (c *PNCounter) Merge(pos, neg map[string]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range pos {
		bumpMax(c.pos, k, v)
	}
	for k, v := range neg {
		bumpMax(c.neg, k, v)
	}
}
