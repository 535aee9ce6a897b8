package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorClockCompare(t *testing.T) {
	a := VectorClock{"a": 5, "b": 3}
	b := VectorClock{"a": 3, "b": 3, "c": 1}

	assert.Equal(t, Concurrent, a.Compare(b))
	assert.Equal(t, Concurrent, b.Compare(a))

	equalClock := VectorClock{"a": 5, "b": 3}
	assert.Equal(t, Equal, a.Compare(equalClock))

	before := VectorClock{"a": 1, "b": 1}
	assert.Equal(t, Before, before.Compare(a))
	assert.Equal(t, After, a.Compare(before))
}

func TestVectorClockMergeIsCommutativeAssociativeIdempotent(t *testing.T) {
	a := VectorClock{"a": 5, "b": 1}
	b := VectorClock{"a": 2, "c": 7}
	c := VectorClock{"b": 9}

	assert.Equal(t, a.Merge(b), b.Merge(a))

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))
	assert.Equal(t, left, right)

	assert.Equal(t, a.Merge(a), a)
}

// TestDeltaSelectionWorkedExample matches spec §8 S2 exactly.
func TestDeltaSelectionWorkedExample(t *testing.T) {
	a := VectorClock{"a": 5, "b": 3}
	b := VectorClock{"a": 3, "b": 3, "c": 1}

	missingHere, missingThere := a.DeltaAgainst(b)

	require.Len(t, missingThere, 1)
	assert.Equal(t, CounterRange{ClientID: "a", Low: 3, High: 5}, missingThere[0])

	require.Len(t, missingHere, 1)
	assert.Equal(t, CounterRange{ClientID: "c", Low: 0, High: 1}, missingHere[0])

	// Applying the missing ranges should converge both to {a:5,b:3,c:1}.
	merged := a.Merge(b)
	assert.Equal(t, uint64(5), merged["a"])
	assert.Equal(t, uint64(3), merged["b"])
	assert.Equal(t, uint64(1), merged["c"])
}

func TestDeltaAgainstEmptyIntersection(t *testing.T) {
	a := VectorClock{"a": 1}
	missingHere, missingThere := a.DeltaAgainst(a.Clone())
	assert.Empty(t, missingHere)
	assert.Empty(t, missingThere)
}

func TestClockTickMonotone(t *testing.T) {
	c := New("a")
	ts1, v1 := c.Tick()
	ts2, v2 := c.Tick()

	assert.True(t, ts1.Less(ts2))
	assert.Equal(t, uint64(1), ts1.Counter)
	assert.Equal(t, uint64(2), ts2.Counter)
	assert.Equal(t, uint64(1), v1["a"])
	assert.Equal(t, uint64(2), v2["a"])
}

func TestClockTickConcurrentCallers(t *testing.T) {
	c := New("a")
	const n = 200
	results := make(chan uint64, n)
	for i := 0; i < n; i++ {
		go func() {
			ts, _ := c.Tick()
			results <- ts.Counter
		}()
	}
	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		v := <-results
		require.False(t, seen[v], "duplicate counter issued: %d", v)
		seen[v] = true
	}
	assert.Equal(t, uint64(n), c.Counter())
}

func TestLogicalTimestampTieBreak(t *testing.T) {
	a := LogicalTimestamp{Counter: 1, ClientID: "a"}
	b := LogicalTimestamp{Counter: 1, ClientID: "b"}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}
