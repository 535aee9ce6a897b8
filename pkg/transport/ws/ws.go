// Package ws implements SyncKit's WebSocket transport (spec §4.5) on
// top of github.com/gorilla/websocket, replacing the teacher's
// hand-rolled RFC 6455 framing (transport/ws.go's stubbed
// WSConn.ReadMessage/WriteMessage) with the library the rest of the
// pack reaches for. It negotiates binary-vs-text framing per
// connection from the first inbound message's websocket opcode, and
// routes SUBSCRIBE/SYNC_REQUEST/DELTA/AWARENESS/PING traffic to the
// coordinator the same way transport/ws.go's WSHandler fed
// session.Hub.Dispatch.
package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matthewcorven/synckit-sub007/pkg/awareness"
	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/coordinator"
	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
	"github.com/matthewcorven/synckit-sub007/pkg/transport/wire"
)

type framing int

const (
	framingUnset framing = iota
	framingBinary
	framingText
)

// Conn wraps a gorilla websocket.Conn and applies SyncKit's wire
// codec, remembering whichever framing (binary/JSON) the connection
// negotiated on its first message for the rest of its lifetime (spec
// §4.5: "First inbound message chooses binary vs. text-JSON for the
// connection's lifetime").
type Conn struct {
	mu      sync.Mutex
	ws      *websocket.Conn
	framing framing
}

// NewServerConn wraps an accepted connection; its framing is decided
// by the first message it receives.
func NewServerConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// NewClientConn wraps a dialed connection where the client decides the
// framing up front, since it writes first.
func NewClientConn(ws *websocket.Conn, binary bool) *Conn {
	f := framingText
	if binary {
		f = framingBinary
	}
	return &Conn{ws: ws, framing: f}
}

// ReadFrame reads and decodes the next frame, fixing this connection's
// framing on the first call if it was not already pinned.
func (c *Conn) ReadFrame() (wire.Frame, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		return wire.Frame{}, err
	}
	c.mu.Lock()
	if c.framing == framingUnset {
		if msgType == websocket.BinaryMessage {
			c.framing = framingBinary
		} else {
			c.framing = framingText
		}
	}
	f := c.framing
	c.mu.Unlock()

	if f == framingBinary {
		return wire.DecodeBinary(bytes.NewReader(data))
	}
	return wire.DecodeJSON(data)
}

// WriteFrame encodes and writes f using the connection's negotiated
// framing (binary by default if nothing has been negotiated yet, e.g.
// the server writing before it has read anything).
func (c *Conn) WriteFrame(f wire.Frame) error {
	c.mu.Lock()
	if c.framing == framingUnset {
		c.framing = framingBinary
	}
	mode := c.framing
	c.mu.Unlock()

	if mode == framingBinary {
		var buf bytes.Buffer
		if err := wire.EncodeBinary(&buf, f); err != nil {
			return err
		}
		return c.ws.WriteMessage(websocket.BinaryMessage, buf.Bytes())
	}
	data, err := wire.EncodeJSON(f)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the underlying connection.
func (c *Conn) Close() error {
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

func nowMillis() int64 { return time.Now().UnixMilli() }

// deltaEnvelope carries a messageId and docId alongside the delta so a
// DELTA frame can be acknowledged by id (spec §4.5 ACK: "messageId")
// and routed to the right coordinator on a connection subscribed to
// more than one document.
type deltaEnvelope struct {
	MessageID string     `json:"messageId"`
	DocID     string     `json:"docId"`
	Delta     crdt.Delta `json:"delta"`
}

type ackPayload struct {
	MessageID string `json:"messageId"`
}

type subscribePayload struct {
	DocID string `json:"docId"`
}

type syncRequestPayload struct {
	DocID string            `json:"docId"`
	Clock clock.VectorClock `json:"clock"`
}

type syncResponsePayload struct {
	DocID     string            `json:"docId"`
	Snapshot  []byte            `json:"snapshot,omitempty"`
	Clock     clock.VectorClock `json:"clock"`
}

// wsPeer adapts a Conn to coordinator.Peer, the same narrow-interface
// separation the teacher's wsSender drew between session.Sender and
// the transport.
type wsPeer struct {
	id    string
	docID string
	conn  *Conn
}

func (p *wsPeer) ID() string { return p.id }

func (p *wsPeer) SendDelta(d crdt.Delta) error {
	payload, err := json.Marshal(deltaEnvelope{MessageID: uuid.NewString(), DocID: p.docID, Delta: d})
	if err != nil {
		return err
	}
	return p.conn.WriteFrame(wire.Frame{Type: wire.TypeDelta, Timestamp: nowMillis(), Payload: payload})
}

func (p *wsPeer) SendSnapshot(snapshot []byte, vec clock.VectorClock) error {
	payload, err := json.Marshal(syncResponsePayload{DocID: p.docID, Snapshot: snapshot, Clock: vec})
	if err != nil {
		return err
	}
	return p.conn.WriteFrame(wire.Frame{Type: wire.TypeSyncResponse, Timestamp: nowMillis(), Payload: payload})
}

// DocOpener resolves a docID to a live, already-Opened coordinator,
// creating one (and its backing CRDT/log/store wiring) if this is the
// first time it's been requested — the role the teacher's
// Hub.GetOrCreate played for *session.Document.
type DocOpener func(docID string) (*coordinator.Coordinator, error)

// Server upgrades inbound HTTP connections to WebSocket and routes
// wire frames to the appropriate document coordinator.
type Server struct {
	upgrader websocket.Upgrader
	open     DocOpener
	logger   *zap.Logger
}

// NewServer creates a Server that resolves documents via open.
func NewServer(open DocOpener, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		open: open,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and runs the connection's read loop
// until it disconnects, at which point the peer is unsubscribed from
// every document it joined.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := NewServerConn(raw)
	peerID := fmt.Sprintf("%s-%d", raw.RemoteAddr().String(), time.Now().UnixNano())

	subscribed := make(map[string]*coordinator.Coordinator)
	defer func() {
		for _, co := range subscribed {
			co.Unsubscribe(peerID)
		}
		conn.Close()
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", zap.String("peer", peerID), zap.Error(err))
			}
			return
		}
		if err := s.dispatch(conn, peerID, frame, subscribed); err != nil {
			s.logger.Warn("dispatch failed", zap.String("peer", peerID), zap.Error(err))
		}
	}
}

func (s *Server) dispatch(conn *Conn, peerID string, frame wire.Frame, subscribed map[string]*coordinator.Coordinator) error {
	switch frame.Type {
	case wire.TypeSubscribe:
		var p subscribePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return err
		}
		co, err := s.open(p.DocID)
		if err != nil {
			return err
		}
		peer := &wsPeer{id: peerID, docID: p.DocID, conn: conn}
		if err := co.Subscribe(peer, clock.NewVectorClock()); err != nil {
			return err
		}
		subscribed[p.DocID] = co
		return nil

	case wire.TypeUnsubscribe:
		var p subscribePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return err
		}
		if co, ok := subscribed[p.DocID]; ok {
			co.Unsubscribe(peerID)
			delete(subscribed, p.DocID)
		}
		return nil

	case wire.TypeSyncRequest:
		var p syncRequestPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return err
		}
		co, err := s.open(p.DocID)
		if err != nil {
			return err
		}
		peer := &wsPeer{id: peerID, docID: p.DocID, conn: conn}
		if err := co.Subscribe(peer, p.Clock); err != nil {
			return err
		}
		subscribed[p.DocID] = co
		return nil

	case wire.TypeDelta:
		var env deltaEnvelope
		if err := json.Unmarshal(frame.Payload, &env); err != nil {
			return err
		}
		co, ok := subscribed[env.DocID]
		if !ok {
			return fmt.Errorf("ws: delta for unsubscribed document %q", env.DocID)
		}
		if _, err := co.ApplyRemote(env.Delta); err != nil {
			return err
		}
		ack, err := json.Marshal(ackPayload{MessageID: env.MessageID})
		if err != nil {
			return err
		}
		return conn.WriteFrame(wire.Frame{Type: wire.TypeAck, Timestamp: nowMillis(), Payload: ack})

	case wire.TypeAwareness:
		var entry awareness.Entry
		if err := json.Unmarshal(frame.Payload, &entry); err != nil {
			return err
		}
		for _, co := range subscribed {
			if set := co.Awareness(); set != nil {
				set.Update(entry, time.Now())
			}
		}
		return nil

	case wire.TypePing:
		return conn.WriteFrame(wire.Frame{Type: wire.TypePong, Timestamp: nowMillis()})

	case wire.TypePong:
		return nil

	default:
		return fmt.Errorf("ws: unhandled frame type %s", frame.Type)
	}
}

// Dial connects to a SyncKit WebSocket endpoint as a client, deciding
// framing up front since the client writes the first message.
func Dial(url string, binary bool) (*Conn, error) {
	raw, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return NewClientConn(raw, binary), nil
}
