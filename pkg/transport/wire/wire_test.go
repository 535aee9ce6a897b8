package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTrip(t *testing.T) {
	f := Frame{Type: TypeDelta, Timestamp: 1234567890, Payload: []byte(`{"kind":"setField"}`)}

	var buf bytes.Buffer
	require.NoError(t, EncodeBinary(&buf, f))

	got, err := DecodeBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.Type, got.Type)
	assert.Equal(t, f.Timestamp, got.Timestamp)
	assert.JSONEq(t, string(f.Payload), string(got.Payload))
}

func TestBinaryRoundTripEmptyPayload(t *testing.T) {
	f := Frame{Type: TypePing, Timestamp: 1}
	var buf bytes.Buffer
	require.NoError(t, EncodeBinary(&buf, f))

	got, err := DecodeBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypePing, got.Type)
	assert.Empty(t, got.Payload)
}

func TestJSONRoundTrip(t *testing.T) {
	f := Frame{Type: TypeAck, Timestamp: 42, Payload: []byte(`{"messageId":"m1"}`)}
	data, err := EncodeJSON(f)
	require.NoError(t, err)

	got, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, f.Type, got.Type)
	assert.Equal(t, f.Timestamp, got.Timestamp)
}

func TestSniffIsBinaryDistinguishesJSONFirstByte(t *testing.T) {
	assert.True(t, SniffIsBinary(byte(TypeDelta)))
	assert.False(t, SniffIsBinary('{'))
}

func TestDecodeBinaryRejectsOversizedLength(t *testing.T) {
	header := make([]byte, 13)
	header[0] = byte(TypeDelta)
	header[9], header[10], header[11], header[12] = 0xFF, 0xFF, 0xFF, 0xFF
	_, err := DecodeBinary(bytes.NewReader(header))
	assert.Error(t, err)
}
