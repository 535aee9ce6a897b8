package syncerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCodeOnly(t *testing.T) {
	err := Wrap(Timeout, "sync request", errors.New("deadline exceeded"))
	assert.True(t, errors.Is(err, New(Timeout, "")))
	assert.False(t, errors.Is(err, New(QueueFull, "")))
}

func TestErrorUnwrapReachesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(PersistenceFailed, "write", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestWithDocAndPeerDoNotMutateOriginal(t *testing.T) {
	base := New(CausalViolation, "bad vector")
	annotated := base.WithDoc("doc-1").WithPeer("peer-2")

	assert.Empty(t, base.DocID)
	assert.Equal(t, "doc-1", annotated.DocID)
	assert.Equal(t, "peer-2", annotated.PeerID)
}
