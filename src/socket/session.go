package socket

import (
	"sync"
	"sync/atomic"

	"github.com/orchestra-mcp/replication/src/metrics"
	"github.com/orchestra-mcp/replication/src/types"
)

// closeNormal is the websocket status for a normal closure.
const closeNormal = 1000

// session is one bridged connection. It is the EventSink of its Conn.
type session struct {
	bridge *Bridge
	handle types.Handle
	role   types.Role

	mu       sync.Mutex
	conn     Conn
	closed   bool
	disposed atomic.Bool
}

func newSession(b *Bridge, role types.Role) *session {
	return &session{bridge: b, role: role}
}

func (s *session) setConn(c Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = c
}

func (s *session) state() (Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.closed
}

func (s *session) isClosed() bool {
	_, closed := s.state()
	return closed
}

// Opened implements EventSink.
func (s *session) Opened() {
	if s.isClosed() {
		return
	}
	s.notify("opened", func(n Notifier) { n.Opened(s.handle) })
}

// Message implements EventSink.
func (s *session) Message(data []byte) {
	if s.isClosed() {
		return
	}
	s.notify("message", func(n Notifier) { n.Received(s.handle, data) })
}

// Failed implements EventSink.
func (s *session) Failed(err error) {
	domain, code := types.ErrorCodes(err)
	if domain == types.DomainNone {
		domain, code = types.DomainNetwork, types.NetErrUnknown
	}
	s.bridge.logger.Debug().Err(err).Uint64("handle", uint64(s.handle)).Msg("transport error")
	s.finish("error", domain, code)
}

// Closed implements EventSink.
func (s *session) Closed(code int, reason string) {
	domain, mapped := types.DomainNone, 0
	if code != 0 && code != closeNormal {
		domain, mapped = types.DomainWebSocket, code
	}
	s.bridge.logger.Debug().
		Uint64("handle", uint64(s.handle)).
		Int("code", code).
		Str("reason", reason).
		Msg("transport closed")
	s.finish("closed", domain, mapped)
}

// fail closes the connection and reports the given error to the engine.
func (s *session) fail(domain types.ErrorDomain, code int) {
	if conn, _ := s.state(); conn != nil {
		_ = conn.Close()
	}
	s.finish("error", domain, code)
}

// finish delivers the single closed notification of this session.
func (s *session) finish(event string, domain types.ErrorDomain, code int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.notify(event, func(n Notifier) { n.Closed(s.handle, domain, code) })
}

func (s *session) dispose() {
	s.disposed.Store(true)

	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.closed = true
	s.mu.Unlock()

	if !closed && conn != nil {
		_ = conn.Close()
	}
}

func (s *session) notify(event string, fn func(Notifier)) {
	metrics.RecordTransportEvent(event)
	s.bridge.submit(func() {
		if s.disposed.Load() {
			return
		}
		n := s.bridge.currentNotifier()
		if n == nil {
			s.bridge.logger.Warn().Str("event", event).Msg("no notifier attached")
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.bridge.recordPanic(event, s.handle, r)
				if event == "opened" || event == "message" {
					s.fail(types.DomainLiteCore, types.CodeUnexpected)
				}
			}
		}()
		fn(n)
	})
}
