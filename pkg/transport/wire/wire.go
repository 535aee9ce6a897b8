// Package wire implements SyncKit's binary frame codec (spec §4.5),
// bit-exact: [type:u8][timestamp:i64 big-endian][len:u32 big-endian]
// [payload:len bytes]. A JSON-fallback codec carries the same logical
// messages keyed by a "type" string for text-mode connections
// (negotiated per spec §4.5: "first inbound message chooses binary vs.
// text-JSON for the connection's lifetime").
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Type is the 1-byte frame discriminator (spec §4.5 table).
type Type byte

const (
	TypeAuth           Type = 0x01
	TypeAuthSuccess    Type = 0x02
	TypeAuthError      Type = 0x03
	TypeSubscribe      Type = 0x10
	TypeUnsubscribe    Type = 0x11
	TypeSyncRequest    Type = 0x20
	TypeSyncResponse   Type = 0x21
	TypeDelta          Type = 0x30
	TypeAck            Type = 0x31
	TypeAwareness      Type = 0x40
	TypePing           Type = 0x50
	TypePong           Type = 0x51
	TypeError          Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case TypeAuth:
		return "AUTH"
	case TypeAuthSuccess:
		return "AUTH_SUCCESS"
	case TypeAuthError:
		return "AUTH_ERROR"
	case TypeSubscribe:
		return "SUBSCRIBE"
	case TypeUnsubscribe:
		return "UNSUBSCRIBE"
	case TypeSyncRequest:
		return "SYNC_REQUEST"
	case TypeSyncResponse:
		return "SYNC_RESPONSE"
	case TypeDelta:
		return "DELTA"
	case TypeAck:
		return "ACK"
	case TypeAwareness:
		return "AWARENESS"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// Frame is one decoded wire message: a type, the producing side's
// millisecond timestamp, and a self-describing JSON payload.
type Frame struct {
	Type      Type
	Timestamp int64 // unix millis
	Payload   json.RawMessage
}

// maxPayloadLen guards against a corrupt/hostile length prefix causing
// an unbounded allocation; no real SyncKit message approaches this.
const maxPayloadLen = 64 << 20 // 64MiB

// EncodeBinary writes f in the bit-exact binary framing.
func EncodeBinary(w io.Writer, f Frame) error {
	header := make([]byte, 1+8+4)
	header[0] = byte(f.Type)
	binary.BigEndian.PutUint64(header[1:9], uint64(f.Timestamp))
	binary.BigEndian.PutUint32(header[9:13], uint32(len(f.Payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// DecodeBinary reads one frame in the bit-exact binary framing.
func DecodeBinary(r io.Reader) (Frame, error) {
	header := make([]byte, 1+8+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, fmt.Errorf("wire: read header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[9:13])
	if length > maxPayloadLen {
		return Frame{}, fmt.Errorf("wire: frame payload too large (%d bytes)", length)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	return Frame{
		Type:      Type(header[0]),
		Timestamp: int64(binary.BigEndian.Uint64(header[1:9])),
		Payload:   payload,
	}, nil
}

// jsonEnvelope is the text-mode wire shape: the same logical frame,
// keyed by a "type" string instead of a byte code (spec §4.5: "Text-
// JSON mode carries the same logical messages keyed by type string").
type jsonEnvelope struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

var jsonTypeNames = map[Type]string{
	TypeAuth: "AUTH", TypeAuthSuccess: "AUTH_SUCCESS", TypeAuthError: "AUTH_ERROR",
	TypeSubscribe: "SUBSCRIBE", TypeUnsubscribe: "UNSUBSCRIBE",
	TypeSyncRequest: "SYNC_REQUEST", TypeSyncResponse: "SYNC_RESPONSE",
	TypeDelta: "DELTA", TypeAck: "ACK", TypeAwareness: "AWARENESS",
	TypePing: "PING", TypePong: "PONG", TypeError: "ERROR",
}

var jsonNameTypes = func() map[string]Type {
	m := make(map[string]Type, len(jsonTypeNames))
	for t, name := range jsonTypeNames {
		m[name] = t
	}
	return m
}()

// EncodeJSON marshals f as a text-mode JSON envelope.
func EncodeJSON(f Frame) ([]byte, error) {
	name, ok := jsonTypeNames[f.Type]
	if !ok {
		return nil, fmt.Errorf("wire: unknown frame type 0x%02x", byte(f.Type))
	}
	return json.Marshal(jsonEnvelope{Type: name, Timestamp: f.Timestamp, Payload: f.Payload})
}

// DecodeJSON parses a text-mode JSON envelope into a Frame.
func DecodeJSON(data []byte) (Frame, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("wire: parse json frame: %w", err)
	}
	t, ok := jsonNameTypes[env.Type]
	if !ok {
		return Frame{}, fmt.Errorf("wire: unknown frame type %q", env.Type)
	}
	return Frame{Type: t, Timestamp: env.Timestamp, Payload: env.Payload}, nil
}

// SniffIsBinary reports whether the first byte of an inbound message
// looks like a valid binary frame type code, used to auto-detect
// binary vs. text-JSON mode on the first message of a connection (spec
// §4.5 protocol negotiation). A JSON text message always starts with
// '{' (0x7B), which is not one of the recognized type codes, so the
// two framings never collide.
func SniffIsBinary(firstByte byte) bool {
	_, known := jsonTypeNames[Type(firstByte)]
	return known
}
