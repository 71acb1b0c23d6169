package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorDomain namespaces error codes reported to the replication engine.
type ErrorDomain int

const (
	DomainNone      ErrorDomain = 0
	DomainLiteCore  ErrorDomain = 1
	DomainPOSIX     ErrorDomain = 2
	DomainSQLite    ErrorDomain = 4
	DomainFleece    ErrorDomain = 5
	DomainNetwork   ErrorDomain = 6
	DomainWebSocket ErrorDomain = 7
)

func (d ErrorDomain) String() string {
	switch d {
	case DomainNone:
		return "none"
	case DomainLiteCore:
		return "litecore"
	case DomainPOSIX:
		return "posix"
	case DomainSQLite:
		return "sqlite"
	case DomainFleece:
		return "fleece"
	case DomainNetwork:
		return "network"
	case DomainWebSocket:
		return "websocket"
	}
	return fmt.Sprintf("domain(%d)", int(d))
}

// LiteCore domain codes.
const (
	CodeUnexpected = 1
)

// Network domain codes.
const (
	NetErrUnknown     = 1
	NetErrTimeout     = 2
	NetErrUnknownHost = 3
	NetErrInvalidURL  = 4
	NetErrSendQueue   = 5
)

var (
	ErrHandleNotFound      = errors.New("handle not found")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrTooManyReplications = errors.New("too many replications")
	ErrInvalidSession      = errors.New("either a url or an inbound socket is required")
	ErrSessionStarted      = errors.New("session already started")
)

// TransportError is an open/write/close failure at the transport layer.
type TransportError struct {
	Domain ErrorDomain
	Code   int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport error %s/%d", e.Domain, e.Code)
	}
	return fmt.Sprintf("transport error %s/%d: %v", e.Domain, e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReplicationError is a session-level failure.
type ReplicationError struct {
	Op  string
	Err error
}

func (e *ReplicationError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *ReplicationError) Unwrap() error { return e.Err }

// ConflictResolutionError reports that the store refused a resolve or save step.
type ConflictResolutionError struct {
	DocID  string
	RevID  string
	Reason string
}

func (e *ConflictResolutionError) Error() string {
	if e.RevID == "" {
		return fmt.Sprintf("resolve conflicts in %q: %s", e.DocID, e.Reason)
	}
	return fmt.Sprintf("resolve conflicts in %q at %s: %s", e.DocID, e.RevID, e.Reason)
}

// ErrorCodes maps err onto the domain/code pair reported to the engine.
// A nil error maps to the clean-close pair 0/0.
func ErrorCodes(err error) (ErrorDomain, int) {
	if err == nil {
		return DomainNone, 0
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Domain, te.Code
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return DomainPOSIX, int(errno)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return DomainNetwork, NetErrUnknownHost
		}
		return DomainNetwork, NetErrUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return DomainNetwork, NetErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return DomainNetwork, NetErrTimeout
	}

	return DomainNetwork, NetErrUnknown
}
