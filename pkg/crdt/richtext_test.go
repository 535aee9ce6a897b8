package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/value"
)

func TestRichTextFormatResolvesAtRead(t *testing.T) {
	clk := clock.New("a")
	text := NewText()
	text.LocalInsert(clk, 0, "hello world")
	rt := NewRichText(text)

	rt.LocalFormat(clk, 0, 5, "bold", value.Bool(true))

	attrs := rt.AttributesAt(2)
	v, ok := attrs["bold"]
	require.True(t, ok)
	b, _ := v.AsBool()
	assert.True(t, b)

	attrs = rt.AttributesAt(7)
	_, ok = attrs["bold"]
	assert.False(t, ok)
}

func TestRichTextLatestTsWinsOverlappingSpans(t *testing.T) {
	clk := clock.New("a")
	text := NewText()
	text.LocalInsert(clk, 0, "hello")
	rt := NewRichText(text)

	rt.LocalFormat(clk, 0, 5, "color", value.Str("red"))
	rt.LocalFormat(clk, 0, 5, "color", value.Str("blue"))

	attrs := rt.AttributesAt(2)
	v, ok := attrs["color"]
	require.True(t, ok)
	s, _ := v.AsStr()
	assert.Equal(t, "blue", s)
}

func TestRichTextUnformatTombstone(t *testing.T) {
	clk := clock.New("a")
	text := NewText()
	text.LocalInsert(clk, 0, "hello")
	rt := NewRichText(text)

	rt.LocalFormat(clk, 0, 5, "italic", value.Bool(true))
	rt.LocalFormat(clk, 0, 5, "italic", value.Null())

	attrs := rt.AttributesAt(1)
	_, ok := attrs["italic"]
	assert.False(t, ok)
}

func TestRichTextSnapshotRoundTrip(t *testing.T) {
	clk := clock.New("a")
	text := NewText()
	text.LocalInsert(clk, 0, "hello")
	rt := NewRichText(text)
	rt.LocalFormat(clk, 0, 3, "bold", value.Bool(true))

	snap, err := rt.Snapshot()
	require.NoError(t, err)

	restoredText := NewText()
	textSnap, err := text.Snapshot()
	require.NoError(t, err)
	require.NoError(t, restoredText.Load(textSnap))

	restored := NewRichText(restoredText)
	require.NoError(t, restored.Load(snap))

	attrs := restored.AttributesAt(1)
	_, ok := attrs["bold"]
	assert.True(t, ok)
}
