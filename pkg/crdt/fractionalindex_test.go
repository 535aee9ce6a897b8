package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFractionalIndexOrdersBetweenBounds(t *testing.T) {
	mid := Between("", "", "a")
	assert.Less(t, "", mid)

	lo := Between("", mid, "a")
	hi := Between(mid, "", "a")
	assert.Less(t, lo, mid)
	assert.Less(t, mid, hi)
}

func TestFractionalIndexRepeatedGenerationDoesNotCollideAcrossClients(t *testing.T) {
	a, b := "a0!x", "b0!x"
	seen := make(map[string]bool)
	for _, client := range []string{"c1", "c2", "c3", "c4", "c5"} {
		k := Between(a, b, client)
		assert.False(t, seen[k], "collision generating between (%q,%q) for client %q", a, b, client)
		seen[k] = true
		assert.Less(t, a, k)
		assert.Less(t, k, b)
	}
}

func TestFractionalIndexDenseInsertionStaysOrdered(t *testing.T) {
	keys := []string{Between("", "", "a")}
	for i := 0; i < 30; i++ {
		k := Between("", keys[0], "a")
		assert.Less(t, k, keys[0])
		keys = append([]string{k}, keys...)
	}
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}
