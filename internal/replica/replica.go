// Package replica is SyncKit's composition root (spec §9: "no ambient
// singletons"): it owns the replica's Clock, its persistence.Store,
// the live set of per-document coordinators, and the cron-driven
// maintenance loop that sweeps awareness TTLs and evicts idle
// documents — the background work the teacher's session.Hub.Run left
// as a bare TODO.
package replica

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/matthewcorven/synckit-sub007/pkg/awareness"
	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/config"
	"github.com/matthewcorven/synckit-sub007/pkg/coordinator"
	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
	"github.com/matthewcorven/synckit-sub007/pkg/deltalog"
	"github.com/matthewcorven/synckit-sub007/pkg/persistence"
)

// DocFactory builds a fresh, empty CRDT instance for a document id —
// the replica doesn't hardcode a single CRDT kind (spec §3 lists six),
// so callers (e.g. the server binary) supply the mapping from docId to
// CRDT kind however their application layer decides it.
type DocFactory func(docID string) crdt.CRDT

// Replica is the root object one running process owns: exactly one
// per client or server instance (spec §9), never a package-level
// global.
type Replica struct {
	mu           sync.Mutex
	cfg          *config.Config
	clock        *clock.Clock
	store        persistence.Store
	logs         map[string]*deltalog.Log
	coordinators map[string]*coordinator.Coordinator
	awareness    map[string]*awareness.Set
	docFactory   DocFactory
	sink         coordinator.OutboundSink
	cron         *cron.Cron
	logger       *zap.Logger
}

// New wires a Replica from cfg: a Clock seeded with cfg.ClientID, the
// persistence backend selected by cfg.Storage.Kind ("memory" or
// "bolt"), and a maintenance cron that sweeps awareness/idle documents
// every 10s.
func New(cfg *config.Config, docFactory DocFactory, sink coordinator.OutboundSink, logger *zap.Logger) (*Replica, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("replica: init store: %w", err)
	}

	r := &Replica{
		cfg:          cfg,
		clock:        clock.New(cfg.ClientID),
		store:        store,
		logs:         make(map[string]*deltalog.Log),
		coordinators: make(map[string]*coordinator.Coordinator),
		awareness:    make(map[string]*awareness.Set),
		docFactory:   docFactory,
		sink:         sink,
		cron:         cron.New(),
		logger:       logger,
	}

	if _, err := r.cron.AddFunc("@every 10s", r.runMaintenance); err != nil {
		return nil, fmt.Errorf("replica: schedule maintenance: %w", err)
	}
	r.cron.Start()

	return r, nil
}

func openStore(sc config.StorageConfig) (persistence.Store, error) {
	switch sc.Kind {
	case "", "memory":
		return persistence.NewMemStore(), nil
	case "bolt":
		if sc.Path == "" {
			return nil, fmt.Errorf("replica: storage.path required for bolt store")
		}
		return persistence.OpenBoltStore(sc.Path)
	default:
		return nil, fmt.Errorf("replica: unknown storage kind %q", sc.Kind)
	}
}

// Open returns the coordinator for docID, creating and opening one on
// first use (spec §4.4 open()). Subsequent calls for the same docID
// return the same live coordinator.
func (r *Replica) Open(docID string) (*coordinator.Coordinator, error) {
	r.mu.Lock()
	if co, ok := r.coordinators[docID]; ok {
		r.mu.Unlock()
		return co, nil
	}
	log := deltalog.New()
	aware := awareness.New(r.cfg.Awareness.InactivityTimeout)
	r.logs[docID] = log
	r.awareness[docID] = aware
	r.mu.Unlock()

	co := coordinator.New(docID, r.docFactory(docID), r.clock, log, r.store, r.sink,
		coordinator.WithAwareness(aware),
		coordinator.WithLogger(r.logger.With(zap.String("doc", docID))),
	)
	if err := co.Open(); err != nil {
		r.mu.Lock()
		delete(r.logs, docID)
		delete(r.awareness, docID)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	r.coordinators[docID] = co
	r.mu.Unlock()
	return co, nil
}

// Clock returns the replica's shared logical clock.
func (r *Replica) Clock() *clock.Clock { return r.clock }

// Store returns the replica's persistence backend.
func (r *Replica) Store() persistence.Store { return r.store }

// DocIDs lists every document currently live in memory (diagnostic).
func (r *Replica) DocIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.coordinators))
	for id := range r.coordinators {
		out = append(out, id)
	}
	return out
}

// runMaintenance sweeps awareness TTLs and evicts documents with no
// subscribed peers (spec §3 Lifecycles: documents are "destroyed from
// memory when the subscriber set empties" — Coordinator.Unsubscribe
// already handles the common case of the last peer leaving explicitly,
// this sweep catches the case of a peer disappearing without a clean
// UNSUBSCRIBE, e.g. a dropped connection the transport hasn't reaped
// yet).
func (r *Replica) runMaintenance() {
	now := time.Now()
	r.mu.Lock()
	idle := make([]string, 0)
	for id, co := range r.coordinators {
		if set, ok := r.awareness[id]; ok {
			set.Sweep(now)
		}
		if co.PeerCount() == 0 {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	for _, id := range idle {
		r.mu.Lock()
		co, ok := r.coordinators[id]
		if ok {
			delete(r.coordinators, id)
			delete(r.logs, id)
			delete(r.awareness, id)
		}
		r.mu.Unlock()
		if ok {
			if err := co.Close(); err != nil {
				r.logger.Warn("idle document close failed", zap.String("doc", id), zap.Error(err))
			}
		}
	}
}

// Close stops the maintenance cron, closes every live coordinator
// (flushing dirty state to persistence), and closes the store.
func (r *Replica) Close() error {
	ctx := r.cron.Stop()
	<-ctx.Done()

	r.mu.Lock()
	coords := make([]*coordinator.Coordinator, 0, len(r.coordinators))
	for _, co := range r.coordinators {
		coords = append(coords, co)
	}
	r.coordinators = make(map[string]*coordinator.Coordinator)
	r.mu.Unlock()

	for _, co := range coords {
		if err := co.Close(); err != nil {
			r.logger.Warn("coordinator close failed", zap.String("doc", co.DocID()), zap.Error(err))
		}
	}
	return r.store.Close()
}
