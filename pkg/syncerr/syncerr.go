// Package syncerr defines SyncKit's external error taxonomy (spec §7):
// a small closed set of error *kinds*, not Go types per kind, so
// callers switch on Code rather than doing type assertions.
package syncerr

import "fmt"

// Code is one of the error kinds spec §7 surfaces externally.
type Code string

const (
	ConnectionFailed Code = "ConnectionFailed"
	ConnectionLost    Code = "ConnectionLost"
	AuthFailed        Code = "AuthFailed"
	QueueFull         Code = "QueueFull"
	Timeout           Code = "Timeout"
	CausalViolation   Code = "CausalViolation"
	SnapshotReset     Code = "SnapshotReset"
	PersistenceFailed Code = "PersistenceFailed"
	PersistenceLost   Code = "PersistenceLost"
	Closed            Code = "Closed"
	ProtocolError     Code = "ProtocolError"
)

// Error is SyncKit's external error shape: a kind, a human message,
// optional doc/peer context, and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	DocID   string
	PeerID  string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.DocID != "" {
		msg += fmt.Sprintf(" (doc=%s)", e.DocID)
	}
	if e.PeerID != "" {
		msg += fmt.Sprintf(" (peer=%s)", e.PeerID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, syncerr.New(SomeCode, "")) match any *Error
// sharing the same Code, regardless of message/cause — the taxonomy is
// the comparison key, not the full error value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an *Error of the given kind.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDoc returns a copy of e annotated with a document id.
func (e *Error) WithDoc(docID string) *Error {
	c := *e
	c.DocID = docID
	return &c
}

// WithPeer returns a copy of e annotated with a peer id.
func (e *Error) WithPeer(peerID string) *Error {
	c := *e
	c.PeerID = peerID
	return &c
}
