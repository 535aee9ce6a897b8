// Package coordinator implements SyncKit's per-document sync state
// machine (spec §4.4): it ties the CRDT layer, the delta log, the
// persistence interface and the awareness set together, the way the
// teacher's session.Hub/Document pair routed messages to the RGA
// except generalized to any CRDT kind and given full FSM, persistence
// and causality semantics the teacher's version only stubbed with
// TODOs.
package coordinator

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/matthewcorven/synckit-sub007/pkg/awareness"
	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
	"github.com/matthewcorven/synckit-sub007/pkg/deltalog"
	"github.com/matthewcorven/synckit-sub007/pkg/persistence"
	"github.com/matthewcorven/synckit-sub007/pkg/syncerr"
)

// State is one node of the coordinator FSM (spec §4.4): Idle → Loading
// → Ready → Syncing ⇄ Ready → Closed.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Syncing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Loading:
		return "Loading"
	case Ready:
		return "Ready"
	case Syncing:
		return "Syncing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Peer is a fanout target the coordinator pushes deltas/snapshots to.
// Transport packages implement this over a live connection; it keeps
// the coordinator decoupled from any particular wire encoding, the
// same separation the teacher's session.Sender drew between Session
// and the WebSocket transport.
type Peer interface {
	ID() string
	SendDelta(crdt.Delta) error
	SendSnapshot(snapshot []byte, vec clock.VectorClock) error
}

// OutboundSink enqueues a locally-produced delta for wire delivery.
// The coordinator itself never speaks to a transport directly — it
// hands deltas to the outbound queue, which the transport layer drains
// on reconnect (spec §4.5).
type OutboundSink interface {
	Enqueue(crdt.Delta) error
}

// Coordinator is the live FSM for one document.
type Coordinator struct {
	mu    sync.Mutex
	docID string
	state State

	doc   crdt.CRDT
	clock *clock.Clock
	log   *deltalog.Log
	store persistence.Store
	aware *awareness.Set
	sink  OutboundSink

	peers     map[string]Peer
	observers []crdt.Observer

	dirty       bool
	persistBoff backoff.BackOff

	logger *zap.Logger
}

// Option configures optional collaborators on New.
type Option func(*Coordinator)

// WithAwareness attaches an ephemeral presence set to the document.
func WithAwareness(set *awareness.Set) Option {
	return func(c *Coordinator) { c.aware = set }
}

// WithLogger attaches a structured logger scoped to this document.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithPersistBackoff overrides the retry policy persistDirty uses, e.g.
// to keep tests exercising exhausted-retries behavior fast.
func WithPersistBackoff(b backoff.BackOff) Option {
	return func(c *Coordinator) { c.persistBoff = b }
}

// New constructs a coordinator in the Idle state for docID, backed by
// doc (the CRDT instance for whichever kind this document holds —
// *crdt.Document, *crdt.Text, *crdt.RichText, ...), c (the replica's
// shared clock), log (this document's delta log segment), store
// (persistence) and sink (outbound transport queue).
func New(docID string, doc crdt.CRDT, c *clock.Clock, log *deltalog.Log, store persistence.Store, sink OutboundSink, opts ...Option) *Coordinator {
	co := &Coordinator{
		docID:       docID,
		state:       Idle,
		doc:         doc,
		clock:       c,
		log:         log,
		store:       store,
		sink:        sink,
		peers:       make(map[string]Peer),
		persistBoff: newPersistBackoff(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

func newPersistBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 5)
}

// State returns the current FSM state.
func (co *Coordinator) State() State {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.state
}

// Open transitions Idle → Loading → Ready, pulling the last persisted
// snapshot (spec §4.4: "open(docId): pulls last snapshot from
// persistence; on success → Ready").
func (co *Coordinator) Open() error {
	co.mu.Lock()
	co.state = Loading
	co.mu.Unlock()

	rec, found, err := co.store.Get(co.docID)
	if err != nil {
		return syncerr.Wrap(syncerr.PersistenceFailed, "load document snapshot", err).WithDoc(co.docID)
	}

	co.mu.Lock()
	defer co.mu.Unlock()
	if found {
		if err := co.doc.Load(rec.Snapshot); err != nil {
			co.state = Idle
			return syncerr.Wrap(syncerr.PersistenceFailed, "decode persisted snapshot", err).WithDoc(co.docID)
		}
		co.clock.MergeVector(rec.Clock)
	}
	co.state = Ready
	co.logger.Debug("document opened", zap.String("doc", co.docID), zap.Bool("restored", found))
	return nil
}

// ApplyLocal integrates a delta this replica just produced: Ready →
// Syncing, appends it to the delta log, hands it to the outbound sink,
// persists, fans it out to subscribed peers, then → Ready. The
// CRDT-specific LocalXxx call that minted delta has already happened
// by the time this is invoked (and notified that CRDT's own
// subscribers); ApplyLocal's job is the bookkeeping common to every
// CRDT kind. It does not call the observers registered through
// Observe: those only receive ChangeSets from ApplyRemote and error
// ChangeSets from failed persistence.
func (co *Coordinator) ApplyLocal(delta crdt.Delta) error {
	co.mu.Lock()
	if co.state == Closed {
		co.mu.Unlock()
		return syncerr.New(syncerr.Closed, "coordinator closed").WithDoc(co.docID)
	}
	co.state = Syncing
	co.log.Append(delta)
	peers := co.snapshotPeersLocked()
	co.mu.Unlock()

	if err := co.sink.Enqueue(delta); err != nil {
		co.logger.Warn("outbound enqueue failed", zap.String("doc", co.docID), zap.Error(err))
	}
	co.persistDirty()

	for _, p := range peers {
		if err := p.SendDelta(delta); err != nil {
			co.logger.Debug("peer send failed, will redeliver on reconnect", zap.String("peer", p.ID()), zap.Error(err))
		}
	}

	co.mu.Lock()
	if co.state == Syncing {
		co.state = Ready
	}
	co.mu.Unlock()
	return nil
}

// ApplyRemote integrates a delta received from a peer (spec §4.4:
// "Remote delta received: Ready → Syncing; validates ts/vector;
// applies to CRDT; updates clock; persists; notifies observers;
// acknowledges"). Returns the ChangeSet so the caller (transport
// layer) can build an ACK.
func (co *Coordinator) ApplyRemote(delta crdt.Delta) (crdt.ChangeSet, error) {
	co.mu.Lock()
	if co.state == Closed {
		co.mu.Unlock()
		return crdt.ChangeSet{}, syncerr.New(syncerr.Closed, "coordinator closed").WithDoc(co.docID)
	}
	co.state = Syncing
	localVec := co.clock.Snapshot()
	co.mu.Unlock()

	if err := deltalog.Validate(delta, localVec); err != nil {
		co.logger.Warn("causal violation", zap.String("doc", co.docID), zap.String("peer", delta.Ts.ClientID))
		co.mu.Lock()
		co.state = Ready
		co.mu.Unlock()
		return crdt.ChangeSet{}, syncerr.Wrap(syncerr.CausalViolation, "delta vector inconsistent with local clock", err).WithDoc(co.docID).WithPeer(delta.Ts.ClientID)
	}

	cs, err := co.doc.Apply(delta)
	if err != nil {
		co.mu.Lock()
		co.state = Ready
		co.mu.Unlock()
		return crdt.ChangeSet{}, syncerr.Wrap(syncerr.ProtocolError, "apply remote delta", err).WithDoc(co.docID)
	}

	co.clock.Observe(delta.Ts)
	co.clock.MergeVector(delta.Vector)
	co.log.Append(delta)
	co.persistDirty()

	co.mu.Lock()
	for _, fn := range co.observers {
		fn(cs)
	}
	co.state = Ready
	co.mu.Unlock()
	return cs, nil
}

// Subscribe adds peer to the fanout set and catches it up (spec §4.4:
// "sends initial state as snapshot or delta stream depending on
// peer's advertised clock").
func (co *Coordinator) Subscribe(peer Peer, peerClock clock.VectorClock) error {
	co.mu.Lock()
	co.peers[peer.ID()] = peer
	localVec := co.clock.Snapshot()
	co.mu.Unlock()

	deltas, err := co.log.Select(localVec, peerClock)
	if err != nil {
		snap, serr := co.doc.Snapshot()
		if serr != nil {
			return syncerr.Wrap(syncerr.PersistenceFailed, "snapshot fallback after truncated log", serr).WithDoc(co.docID)
		}
		return peer.SendSnapshot(snap, localVec)
	}
	for _, d := range deltas {
		if err := peer.SendDelta(d); err != nil {
			return syncerr.Wrap(syncerr.ConnectionFailed, "send catch-up delta", err).WithPeer(peer.ID())
		}
	}
	return nil
}

// Unsubscribe removes peer from the fanout set. If no peers and no
// observers remain, the document is evicted (spec §4.4: "if fanout
// empty and no local observers, → Closed (eviction)").
func (co *Coordinator) Unsubscribe(peerID string) {
	co.mu.Lock()
	delete(co.peers, peerID)
	empty := len(co.peers) == 0 && len(co.observers) == 0
	co.mu.Unlock()

	if empty {
		_ = co.Close()
	}
}

// Subscribe/Observe registers a local (in-process) observer of
// ChangeSets, e.g. a UI binding. Distinct from peer Subscribe, which
// fans out wire deltas.
func (co *Coordinator) Observe(fn crdt.Observer) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.observers = append(co.observers, fn)
}

// PeerCount reports the number of subscribed peers (diagnostic / test
// hook for eviction behavior).
func (co *Coordinator) PeerCount() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.peers)
}

func (co *Coordinator) snapshotPeersLocked() []Peer {
	out := make([]Peer, 0, len(co.peers))
	for _, p := range co.peers {
		out = append(out, p)
	}
	return out
}

// persistDirty writes the current snapshot, retrying with backoff on
// failure (spec §4.4 Failure semantics: "Persistence write failure →
// operation applied in memory, flagged dirty; retried with exponential
// backoff; if repeated failure exceeds threshold, surface
// PersistenceLost to observers"). Errors are logged and surfaced to
// observers, never panicked.
func (co *Coordinator) persistDirty() {
	snap, err := co.doc.Snapshot()
	if err != nil {
		co.logger.Error("snapshot for persistence failed", zap.String("doc", co.docID), zap.Error(err))
		return
	}
	rec := persistence.Record{Snapshot: snap, Clock: co.clock.Snapshot(), UpdatedAt: time.Now()}

	co.mu.Lock()
	co.dirty = true
	co.persistBoff.Reset()
	bo := co.persistBoff
	co.mu.Unlock()

	err = backoff.Retry(func() error {
		return co.store.Put(co.docID, rec)
	}, bo)

	co.mu.Lock()
	defer co.mu.Unlock()
	if err != nil {
		co.logger.Error("persistence exhausted retries", zap.String("doc", co.docID), zap.Error(err))
		lost := syncerr.Wrap(syncerr.PersistenceLost, "document failed to persist after retries", err).WithDoc(co.docID)
		for _, fn := range co.observers {
			fn(crdt.ErrorChangeSet(lost))
		}
		return
	}
	co.dirty = false
}

// Dirty reports whether the last persistence attempt failed and has
// not yet succeeded on retry.
func (co *Coordinator) Dirty() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.dirty
}

// Close flushes pending state to persistence and transitions to
// Closed (spec §4.4: "close(): flush pending deltas to persistence;
// release resources").
func (co *Coordinator) Close() error {
	co.mu.Lock()
	if co.state == Closed {
		co.mu.Unlock()
		return nil
	}
	co.mu.Unlock()

	co.persistDirty()

	co.mu.Lock()
	co.state = Closed
	co.mu.Unlock()
	co.logger.Debug("document closed", zap.String("doc", co.docID))
	return nil
}

// Awareness returns the document's presence set, or nil if none was
// attached.
func (co *Coordinator) Awareness() *awareness.Set {
	return co.aware
}

// DocID returns the document identifier this coordinator manages.
func (co *Coordinator) DocID() string { return co.docID }

// CRDT returns the underlying CRDT instance, so a caller (e.g. a
// transport handler decoding a locally-originated mutation request)
// can invoke its type-specific LocalXxx method before handing the
// resulting Delta to ApplyLocal.
func (co *Coordinator) CRDT() crdt.CRDT {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.doc
}
