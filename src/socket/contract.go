package socket

import "github.com/orchestra-mcp/replication/src/types"

// Factory is the six-directive socket contract the replication engine
// drives. Implementations must return quickly and never block on I/O.
type Factory interface {
	// Open starts connecting to addr and returns the new session's handle
	// before the connection is established.
	Open(addr types.Address, options []byte) (types.Handle, error)

	// Write sends data as one whole message.
	Write(h types.Handle, data []byte)

	// CompletedReceive reports that the engine consumed n received bytes.
	CompletedReceive(h types.Handle, n int)

	// Close tears the connection down without a close handshake.
	Close(h types.Handle)

	// RequestClose sends status and message to the peer and closes once
	// the peer acknowledges.
	RequestClose(h types.Handle, status int, message string)

	// Dispose forgets h. No notification is delivered for it afterwards.
	Dispose(h types.Handle)
}

// Notifier receives connection state from the bridge. Notifications for
// a handle may arrive before the call that started its session returns.
type Notifier interface {
	Opened(h types.Handle)
	Received(h types.Handle, data []byte)
	// Closed reports the end of the connection; 0/0 is a clean close.
	Closed(h types.Handle, domain types.ErrorDomain, code int)
}

// EventSink receives transport events for one connection.
type EventSink interface {
	Opened()
	Message(data []byte)
	Failed(err error)
	Closed(code int, reason string)
}

// Conn is one duplex message connection.
type Conn interface {
	// Send enqueues data without blocking.
	Send(data []byte) error
	Close() error
	CloseWithStatus(code int, reason string) error
}

// AcceptedConn is an inbound connection waiting for its event sink.
type AcceptedConn interface {
	Conn
	Bind(sink EventSink)
}

// FlowController is implemented by connections that throttle reads
// until the engine has consumed received data.
type FlowController interface {
	CompletedReceive(n int)
}

// Transport opens outbound connections. Open validates synchronously and
// completes the connection asynchronously, reporting through sink.
type Transport interface {
	Open(addr types.Address, options []byte, sink EventSink) (Conn, error)
}
