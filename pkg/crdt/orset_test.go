package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
)

// TestORSetAddRemoveRace matches spec §8 S4 exactly: A adds then
// removes "e" (observing its own tag); B concurrently adds "e" under a
// fresh tag A never observed. After sync, "e" is present.
func TestORSetAddRemoveRace(t *testing.T) {
	clkA := clock.New("a")
	clkB := clock.New("b")
	setA := NewORSet()
	setB := NewORSet()

	addA := setA.LocalAdd(clkA, "e")
	removeA := setA.LocalRemove(clkA, "e")
	assert.False(t, setA.Contains("e"))

	addB := setB.LocalAdd(clkB, "e")
	assert.True(t, setB.Contains("e"))

	_, err := setA.Apply(addB)
	require.NoError(t, err)
	_, err = setB.Apply(addA)
	require.NoError(t, err)
	_, err = setB.Apply(removeA)
	require.NoError(t, err)

	assert.True(t, setA.Contains("e"), "B's concurrently added tag must survive A's remove")
	assert.True(t, setB.Contains("e"), "B's concurrently added tag must survive A's remove")
}

func TestORSetApplyIsIdempotent(t *testing.T) {
	clk := clock.New("a")
	s := NewORSet()
	add := s.LocalAdd(clk, "e")

	_, err := s.Apply(add)
	require.NoError(t, err)
	cs, err := s.Apply(add)
	require.NoError(t, err)
	assert.Equal(t, ChangeNoop, cs.Kind)
}

func TestORSetSnapshotRoundTrip(t *testing.T) {
	clk := clock.New("a")
	s := NewORSet()
	s.LocalAdd(clk, "e1")
	s.LocalAdd(clk, "e2")
	s.LocalRemove(clk, "e1")

	snap, err := s.Snapshot()
	require.NoError(t, err)

	restored := NewORSet()
	require.NoError(t, restored.Load(snap))
	assert.ElementsMatch(t, []string{"e2"}, restored.Values())
}
