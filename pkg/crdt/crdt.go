package crdt

import "fmt"

// CRDT is the shared shape every convergent type in this package
// exposes (spec §4.2): integrate a remote delta, snapshot/load full
// state, and notify observers of the effect. localChange operations are
// type-specific (Document.LocalSetField, Text.LocalInsert, ...) because
// their arguments differ per CRDT, so they are not part of this
// interface.
type CRDT interface {
	Apply(Delta) (ChangeSet, error)
	Snapshot() ([]byte, error)
	Load([]byte) error
}

func errUnsupportedKind(k Kind, crdtName string) error {
	return fmt.Errorf("crdt: %s does not support delta kind %q", crdtName, k)
}
