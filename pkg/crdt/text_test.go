package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
)

func TestTextLocalInsertAndDelete(t *testing.T) {
	clk := clock.New("a")
	text := NewText()
	text.LocalInsert(clk, 0, "Hello")
	assert.Equal(t, "Hello", text.String())

	text.LocalDelete(clk, 1, 3) // remove "ell"
	assert.Equal(t, "Ho", text.String())
}

// TestTextConcurrentInsertNonInterleaving matches spec §8 S3: both
// replicas start at "HI"; A inserts "X" and B inserts "Y" concurrently
// between H and I. After sync both converge to "HXYI" since "a" < "b".
func TestTextConcurrentInsertNonInterleaving(t *testing.T) {
	// "HI" is established by a third replica first, so both A and B
	// start their own per-client counter fresh at the point they each
	// make one concurrent local insert — matching spec §8 S3's worked
	// example where both new ids share the same counter n and only
	// differ by clientId.
	seedClock := clock.New("seed")
	seedText := NewText()
	seed := seedText.LocalInsert(seedClock, 0, "HI")

	textA := NewText()
	textB := NewText()
	for _, d := range seed {
		_, err := textA.Apply(d)
		require.NoError(t, err)
		_, err = textB.Apply(d)
		require.NoError(t, err)
	}
	require.Equal(t, "HI", textA.String())
	require.Equal(t, "HI", textB.String())

	clkA := clock.New("a")
	clkB := clock.New("b")
	insertX := textA.LocalInsert(clkA, 1, "X")
	insertY := textB.LocalInsert(clkB, 1, "Y")

	for _, d := range insertY {
		_, err := textA.Apply(d)
		require.NoError(t, err)
	}
	for _, d := range insertX {
		_, err := textB.Apply(d)
		require.NoError(t, err)
	}

	assert.Equal(t, textA.String(), textB.String())
	assert.Equal(t, "HXYI", textA.String())
}

// TestTextConcurrentMultiCharInsertNonInterleaving guards the "maximal
// non-interleaving" rule (spec §4.2.2, §8 property 6) for runs longer
// than one character: replica A inserts "AB" and replica B inserts
// "XY" concurrently between the same two seeded characters. Each run
// must stay contiguous in the converged result — "HABXYI" or
// "HXYABI" — never an interleaving like "HAXBYI".
func TestTextConcurrentMultiCharInsertNonInterleaving(t *testing.T) {
	seedClock := clock.New("seed")
	seedText := NewText()
	seed := seedText.LocalInsert(seedClock, 0, "HI")

	textA := NewText()
	textB := NewText()
	for _, d := range seed {
		_, err := textA.Apply(d)
		require.NoError(t, err)
		_, err = textB.Apply(d)
		require.NoError(t, err)
	}

	clkA := clock.New("a")
	for i := 0; i < 5; i++ {
		clkA.Tick() // advance past unrelated prior local history
	}
	clkB := clock.New("b")

	insertAB := textA.LocalInsert(clkA, 1, "AB")
	insertXY := textB.LocalInsert(clkB, 1, "XY")

	for _, d := range insertXY {
		_, err := textA.Apply(d)
		require.NoError(t, err)
	}
	for _, d := range insertAB {
		_, err := textB.Apply(d)
		require.NoError(t, err)
	}

	require.Equal(t, textA.String(), textB.String())
	assert.Contains(t, []string{"HABXYI", "HXYABI"}, textA.String())
}

func TestTextSnapshotRoundTrip(t *testing.T) {
	clk := clock.New("a")
	text := NewText()
	text.LocalInsert(clk, 0, "abc")
	text.LocalDelete(clk, 1, 1)

	snap, err := text.Snapshot()
	require.NoError(t, err)

	restored := NewText()
	require.NoError(t, restored.Load(snap))
	assert.Equal(t, text.String(), restored.String())
}

func TestTextApplyDuplicateInsertIsIdempotent(t *testing.T) {
	clk := clock.New("a")
	text := NewText()
	deltas := text.LocalInsert(clk, 0, "x")

	other := NewText()
	_, err := other.Apply(deltas[0])
	require.NoError(t, err)
	cs, err := other.Apply(deltas[0])
	require.NoError(t, err)
	assert.Equal(t, ChangeNoop, cs.Kind)
	assert.Equal(t, "x", other.String())
}
