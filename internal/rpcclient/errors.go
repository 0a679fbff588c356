package rpcclient

import "fmt"

// ErrKind categorizes JSON-RPC call failures.
type ErrKind string

const (
	// KindTimeout means the per-call deadline was exceeded.
	KindTimeout ErrKind = "timeout"
	// KindTransport means a non-2xx HTTP response or connection failure.
	KindTransport ErrKind = "transport"
	// KindProtocol means the response was well-formed JSON-RPC but
	// carried an `error` object.
	KindProtocol ErrKind = "protocol"
	// KindUnknown covers anything else (malformed body, etc.).
	KindUnknown ErrKind = "unknown"
)

// Error is the typed error returned by Client.Call.
type Error struct {
	Kind    ErrKind
	Code    int // JSON-RPC error code, only set for KindProtocol
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Kind == KindProtocol {
		return fmt.Sprintf("rpc: protocol error %d: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("rpc: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("rpc: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newTimeoutErr(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "deadline exceeded", Err: err}
}

func newTransportErr(err error) *Error {
	return &Error{Kind: KindTransport, Message: "transport failure", Err: err}
}

func newProtocolErr(code int, message string) *Error {
	return &Error{Kind: KindProtocol, Code: code, Message: message}
}

func newUnknownErr(err error) *Error {
	return &Error{Kind: KindUnknown, Message: "unexpected error", Err: err}
}
