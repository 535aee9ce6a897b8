package coordinator

import (
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
	"github.com/matthewcorven/synckit-sub007/pkg/deltalog"
	"github.com/matthewcorven/synckit-sub007/pkg/persistence"
	"github.com/matthewcorven/synckit-sub007/pkg/syncerr"
	"github.com/matthewcorven/synckit-sub007/pkg/value"
)

// failingStore always rejects Put, standing in for a persistence
// backend that's down.
type failingStore struct{}

func (failingStore) Init() error { return nil }
func (failingStore) Get(docID string) (persistence.Record, bool, error) {
	return persistence.Record{}, false, nil
}
func (failingStore) Put(docID string, rec persistence.Record) error {
	return errors.New("disk full")
}
func (failingStore) AppendDelta(docID string, delta crdt.Delta) error {
	return persistence.ErrAppendUnsupported
}
func (failingStore) ListDocs() ([]string, error) { return nil, nil }
func (failingStore) Delete(docID string) error   { return nil }
func (failingStore) Close() error                { return nil }

// fakeSink records every delta handed to it, standing in for the
// transport outbound queue.
type fakeSink struct {
	mu     sync.Mutex
	deltas []crdt.Delta
}

func (s *fakeSink) Enqueue(d crdt.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, d)
	return nil
}

// fakePeer records deltas and snapshots sent to it.
type fakePeer struct {
	id        string
	mu        sync.Mutex
	deltas    []crdt.Delta
	snapshots [][]byte
}

func (p *fakePeer) ID() string { return p.id }
func (p *fakePeer) SendDelta(d crdt.Delta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deltas = append(p.deltas, d)
	return nil
}
func (p *fakePeer) SendSnapshot(snap []byte, vec clock.VectorClock) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snap)
	return nil
}

func newTestCoordinator(t *testing.T, docID string) (*Coordinator, *clock.Clock, *fakeSink) {
	t.Helper()
	doc := crdt.NewDocument()
	c := clock.New("a")
	log := deltalog.New()
	store := persistence.NewMemStore()
	sink := &fakeSink{}
	co := New(docID, doc, c, log, store, sink)
	require.NoError(t, co.Open())
	return co, c, sink
}

func TestOpenTransitionsToReady(t *testing.T) {
	co, _, _ := newTestCoordinator(t, "doc1")
	assert.Equal(t, Ready, co.State())
}

func TestOpenRestoresPersistedSnapshot(t *testing.T) {
	doc := crdt.NewDocument()
	c := clock.New("a")
	delta := doc.LocalSetField(c, "title", value.Str("hello"))

	store := persistence.NewMemStore()
	snap, err := doc.Snapshot()
	require.NoError(t, err)
	require.NoError(t, store.Put("doc1", persistence.Record{Snapshot: snap, Clock: delta.Vector}))

	doc2 := crdt.NewDocument()
	c2 := clock.New("a")
	log := deltalog.New()
	co := New("doc1", doc2, c2, log, store, &fakeSink{})
	require.NoError(t, co.Open())

	got, ok := doc2.Get("title")
	require.True(t, ok)
	s, isStr := got.AsStr()
	require.True(t, isStr)
	assert.Equal(t, "hello", s)
}

func TestApplyLocalEnqueuesAndFansOut(t *testing.T) {
	co, c, sink := newTestCoordinator(t, "doc1")
	doc := co.doc.(*crdt.Document)

	peer := &fakePeer{id: "p1"}
	require.NoError(t, co.Subscribe(peer, clock.NewVectorClock()))

	delta := doc.LocalSetField(c, "title", value.Str("hi"))
	require.NoError(t, co.ApplyLocal(delta))

	assert.Equal(t, Ready, co.State())
	assert.Len(t, sink.deltas, 1)
	assert.Len(t, peer.deltas, 1)
}

func TestApplyRemoteUpdatesClockAndNotifiesObservers(t *testing.T) {
	coA, clockA, _ := newTestCoordinator(t, "doc1")
	docA := coA.doc.(*crdt.Document)
	delta := docA.LocalSetField(clockA, "title", value.Str("from-a"))

	coB, _, _ := newTestCoordinator(t, "doc1")
	var seen []crdt.ChangeSet
	coB.Observe(func(cs crdt.ChangeSet) { seen = append(seen, cs) })

	_, err := coB.ApplyRemote(delta)
	require.NoError(t, err)
	assert.Equal(t, Ready, coB.State())
	assert.Equal(t, delta.Ts.Counter, coB.clock.Snapshot()[delta.Ts.ClientID])
	require.Len(t, seen, 1)
	assert.Equal(t, crdt.ChangeFieldSet, seen[0].Kind)

	docB := coB.doc.(*crdt.Document)
	got, ok := docB.Get("title")
	require.True(t, ok)
	s, isStr := got.AsStr()
	require.True(t, isStr)
	assert.Equal(t, "from-a", s)
}

func TestApplyRemoteRejectsCausalViolation(t *testing.T) {
	co, _, _ := newTestCoordinator(t, "doc1")

	// A delta claiming a vector far ahead of anything locally observable.
	bogus := crdt.Delta{
		Kind:    crdt.KindSetField,
		Ts:      clock.LogicalTimestamp{Counter: 5, ClientID: "ghost"},
		Vector:  clock.VectorClock{"ghost": 5, "other": 99},
		Payload: nil,
	}
	_, err := co.ApplyRemote(bogus)
	assert.Error(t, err)
}

func TestUnsubscribeEvictsWhenEmpty(t *testing.T) {
	co, _, _ := newTestCoordinator(t, "doc1")
	peer := &fakePeer{id: "p1"}
	require.NoError(t, co.Subscribe(peer, clock.NewVectorClock()))
	assert.Equal(t, 1, co.PeerCount())

	co.Unsubscribe("p1")
	assert.Equal(t, 0, co.PeerCount())
	assert.Equal(t, Closed, co.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	co, _, _ := newTestCoordinator(t, "doc1")
	require.NoError(t, co.Close())
	require.NoError(t, co.Close())
	assert.Equal(t, Closed, co.State())
}

func TestPersistenceExhaustedRetriesNotifiesObserversWithErrorChangeSet(t *testing.T) {
	doc := crdt.NewDocument()
	c := clock.New("a")
	log := deltalog.New()
	fastBoff := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	co := New("doc1", doc, c, log, failingStore{}, &fakeSink{}, WithPersistBackoff(fastBoff))
	require.NoError(t, co.Open())

	var seen []crdt.ChangeSet
	co.Observe(func(cs crdt.ChangeSet) { seen = append(seen, cs) })

	delta := doc.LocalSetField(c, "title", value.Str("hi"))
	require.NoError(t, co.ApplyLocal(delta))

	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Equal(t, crdt.ChangeError, last.Kind)
	require.Error(t, last.Err)
	assert.True(t, errors.Is(last.Err, syncerr.New(syncerr.PersistenceLost, "")))
}
