package crdt

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
)

// AddTag uniquely identifies one add operation on an OR-Set element
// (spec §3: "uniqueAddTag"). A remove only affects the tags it has
// actually observed, so a concurrent add under a fresh tag always
// survives a remove that didn't know about it (spec §8 S4).
type AddTag struct {
	ClientID string `json:"clientId"`
	Counter  uint64 `json:"counter"`
}

func (t AddTag) less(o AddTag) bool {
	if t.Counter != o.Counter {
		return t.Counter < o.Counter
	}
	return t.ClientID < o.ClientID
}

// ORSet is an Observed-Remove Set (spec §3/§4.2.4): an element is
// present iff it has at least one add-tag that has not been removed.
type ORSet struct {
	mu      sync.RWMutex
	added   map[string]map[AddTag]struct{}
	removed map[AddTag]struct{}
	vector  clock.VectorClock
	obs     observerList
}

// NewORSet creates an empty OR-Set.
func NewORSet() *ORSet {
	return &ORSet{
		added:   make(map[string]map[AddTag]struct{}),
		removed: make(map[AddTag]struct{}),
		vector:  clock.NewVectorClock(),
	}
}

// Subscribe registers an observer for ChangeSets this set produces.
func (s *ORSet) Subscribe(fn Observer) { s.obs.Subscribe(fn) }

// Contains reports whether element currently has an unremoved add-tag.
func (s *ORSet) Contains(element string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasLiveTagLocked(element)
}

func (s *ORSet) hasLiveTagLocked(element string) bool {
	for tag := range s.added[element] {
		if _, gone := s.removed[tag]; !gone {
			return true
		}
	}
	return false
}

// Values returns the sorted list of currently-present elements.
func (s *ORSet) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.added))
	for e := range s.added {
		if s.hasLiveTagLocked(e) {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

// Vector returns the set's current vector clock.
func (s *ORSet) Vector() clock.VectorClock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vector.Clone()
}

// LocalAdd mints a fresh add-tag from c and integrates it locally.
func (s *ORSet) LocalAdd(c *clock.Clock, element string) Delta {
	ts, vec := c.Tick()
	tag := AddTag{ClientID: ts.ClientID, Counter: ts.Counter}

	s.mu.Lock()
	s.addLocked(element, tag)
	s.vector = s.vector.Merge(vec)
	s.mu.Unlock()
	s.obs.notify(ChangeSet{Kind: ChangeSetAdded, Element: element})

	return Delta{
		Kind:    KindSetAdd,
		Payload: encodePayload(SetAddPayload{Element: element, Tag: tag}),
		Ts:      ts,
		Vector:  vec,
	}
}

// LocalRemove removes every add-tag for element currently observed by
// this replica (spec §3: the remove only carries observed tags).
func (s *ORSet) LocalRemove(c *clock.Clock, element string) Delta {
	s.mu.Lock()
	observed := make([]AddTag, 0, len(s.added[element]))
	for tag := range s.added[element] {
		observed = append(observed, tag)
	}
	s.mu.Unlock()
	sort.Slice(observed, func(i, j int) bool { return observed[i].less(observed[j]) })

	ts, vec := c.Tick()
	s.mu.Lock()
	for _, tag := range observed {
		s.removed[tag] = struct{}{}
	}
	s.vector = s.vector.Merge(vec)
	s.mu.Unlock()
	s.obs.notify(ChangeSet{Kind: ChangeSetRemoved, Element: element})

	return Delta{
		Kind:    KindSetRemove,
		Payload: encodePayload(SetRemovePayload{Element: element, ObservedTags: observed}),
		Ts:      ts,
		Vector:  vec,
	}
}

func (s *ORSet) addLocked(element string, tag AddTag) {
	tags, ok := s.added[element]
	if !ok {
		tags = make(map[AddTag]struct{})
		s.added[element] = tags
	}
	tags[tag] = struct{}{}
}

// Apply integrates a remote add/remove delta.
func (s *ORSet) Apply(delta Delta) (ChangeSet, error) {
	switch delta.Kind {
	case KindSetAdd:
		var p SetAddPayload
		if err := json.Unmarshal(delta.Payload, &p); err != nil {
			return ChangeSet{}, err
		}
		s.mu.Lock()
		wasPresent := s.hasLiveTagLocked(p.Element)
		s.addLocked(p.Element, p.Tag)
		s.vector = s.vector.Merge(delta.Vector)
		nowPresent := s.hasLiveTagLocked(p.Element)
		s.mu.Unlock()
		if wasPresent == nowPresent {
			return Noop(), nil
		}
		cs := ChangeSet{Kind: ChangeSetAdded, Element: p.Element}
		s.obs.notify(cs)
		return cs, nil

	case KindSetRemove:
		var p SetRemovePayload
		if err := json.Unmarshal(delta.Payload, &p); err != nil {
			return ChangeSet{}, err
		}
		s.mu.Lock()
		wasPresent := s.hasLiveTagLocked(p.Element)
		for _, tag := range p.ObservedTags {
			s.removed[tag] = struct{}{}
		}
		s.vector = s.vector.Merge(delta.Vector)
		nowPresent := s.hasLiveTagLocked(p.Element)
		s.mu.Unlock()
		if wasPresent == nowPresent {
			return Noop(), nil
		}
		cs := ChangeSet{Kind: ChangeSetRemoved, Element: p.Element}
		s.obs.notify(cs)
		return cs, nil

	default:
		return ChangeSet{}, errUnsupportedKind(delta.Kind, "ORSet")
	}
}

type orSetSnapshot struct {
	Added   map[string][]AddTag `json:"added"`
	Removed []AddTag            `json:"removed"`
	Vector  clock.VectorClock   `json:"vector"`
}

// Snapshot serializes the full add-tag/remove-tag state. Per spec §9's
// resolution of the truncation Open Question, the full tag set is
// always included — no partial/compacted form.
func (s *ORSet) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	added := make(map[string][]AddTag, len(s.added))
	for e, tags := range s.added {
		list := make([]AddTag, 0, len(tags))
		for t := range tags {
			list = append(list, t)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].less(list[j]) })
		added[e] = list
	}
	removed := make([]AddTag, 0, len(s.removed))
	for t := range s.removed {
		removed = append(removed, t)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].less(removed[j]) })
	return json.Marshal(orSetSnapshot{Added: added, Removed: removed, Vector: s.vector})
}

// Load replaces the set's state with a previously captured snapshot.
func (s *ORSet) Load(data []byte) error {
	var snap orSetSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = make(map[string]map[AddTag]struct{}, len(snap.Added))
	for e, tags := range snap.Added {
		set := make(map[AddTag]struct{}, len(tags))
		for _, t := range tags {
			set[t] = struct{}{}
		}
		s.added[e] = set
	}
	s.removed = make(map[AddTag]struct{}, len(snap.Removed))
	for _, t := range snap.Removed {
		s.removed[t] = struct{}{}
	}
	if snap.Vector == nil {
		snap.Vector = clock.NewVectorClock()
	}
	s.vector = snap.Vector
	return nil
}
