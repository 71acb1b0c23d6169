package socket

import (
	"fmt"
	"sync"

	"github.com/orchestra-mcp/replication/src/async"
	"github.com/orchestra-mcp/replication/src/metrics"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
)

// Bridge adapts the socket directive contract onto a Transport and turns
// transport events into engine notifications.
type Bridge struct {
	transport Transport
	registry  *Registry[*session]
	submit    async.Submitter

	notifier Notifier
	mu       sync.RWMutex
	logger   zerolog.Logger
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithSubmitter sets where notifications run. The default runs them on
// the transport goroutine that produced the event.
func WithSubmitter(s async.Submitter) Option {
	return func(b *Bridge) { b.submit = s }
}

// NewBridge creates a bridge over t.
func NewBridge(t Transport, logger zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		transport: t,
		registry:  NewRegistry[*session](),
		submit:    async.Inline,
		logger:    logger.With().Str("component", "socket-bridge").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetNotifier attaches the engine that receives notifications.
func (b *Bridge) SetNotifier(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifier = n
}

func (b *Bridge) currentNotifier() Notifier {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.notifier
}

// Open registers an initiator session and starts connecting to addr.
func (b *Bridge) Open(addr types.Address, options []byte) (h types.Handle, err error) {
	metrics.RecordDirective("open")
	defer func() {
		if r := recover(); r != nil {
			b.recordPanic("open", h, r)
			if h != 0 {
				b.release(h)
			}
			h, err = 0, &types.TransportError{
				Domain: types.DomainLiteCore,
				Code:   types.CodeUnexpected,
				Err:    fmt.Errorf("open %s: %v", addr, r),
			}
		}
	}()

	s := newSession(b, types.RoleInitiator)
	h = b.register(s)

	conn, err := b.transport.Open(addr, options, s)
	if err != nil {
		b.release(h)
		b.logger.Warn().Err(err).Str("address", addr.String()).Msg("open rejected")
		return 0, err
	}
	s.setConn(conn)

	b.logger.Debug().Uint64("handle", uint64(h)).Str("address", addr.String()).Msg("opening")
	return h, nil
}

// Accept registers an acceptor session for an inbound connection.
func (b *Bridge) Accept(conn AcceptedConn) types.Handle {
	metrics.RecordDirective("accept")
	s := newSession(b, types.RoleAcceptor)
	h := b.register(s)
	s.setConn(conn)
	conn.Bind(s)

	b.logger.Debug().Uint64("handle", uint64(h)).Msg("accepted")
	return h
}

// Write hands data to the transport as one message.
func (b *Bridge) Write(h types.Handle, data []byte) {
	metrics.RecordDirective("write")
	s, ok := b.lookup(h, "write")
	if !ok {
		return
	}
	defer b.guard(s, "write")

	conn, closed := s.state()
	if closed || conn == nil {
		b.logger.Debug().Uint64("handle", uint64(h)).Int("bytes", len(data)).Msg("write after close dropped")
		return
	}
	if err := conn.Send(data); err != nil {
		b.logger.Warn().Err(err).Uint64("handle", uint64(h)).Msg("write failed")
		s.Failed(err)
	}
}

// CompletedReceive forwards consumed byte counts to flow-controlled transports.
func (b *Bridge) CompletedReceive(h types.Handle, n int) {
	metrics.RecordDirective("completed_receive")
	s, ok := b.lookup(h, "completed_receive")
	if !ok {
		return
	}
	defer b.guard(s, "completed_receive")

	conn, _ := s.state()
	if fc, ok := conn.(FlowController); ok {
		fc.CompletedReceive(n)
	}
}

// Close begins a teardown without a close handshake.
func (b *Bridge) Close(h types.Handle) {
	metrics.RecordDirective("close")
	s, ok := b.lookup(h, "close")
	if !ok {
		return
	}
	defer b.guard(s, "close")

	if conn, _ := s.state(); conn != nil {
		if err := conn.Close(); err != nil {
			b.logger.Debug().Err(err).Uint64("handle", uint64(h)).Msg("close")
		}
	}
}

// RequestClose begins a graceful teardown with the given status.
func (b *Bridge) RequestClose(h types.Handle, status int, message string) {
	metrics.RecordDirective("request_close")
	s, ok := b.lookup(h, "request_close")
	if !ok {
		return
	}
	defer b.guard(s, "request_close")

	if conn, _ := s.state(); conn != nil {
		if err := conn.CloseWithStatus(status, message); err != nil {
			b.logger.Warn().Err(err).Uint64("handle", uint64(h)).Msg("request close failed")
			s.Failed(err)
		}
	}
}

// Dispose releases h. A connection that is still open is closed silently.
func (b *Bridge) Dispose(h types.Handle) {
	metrics.RecordDirective("dispose")
	s, ok := b.release(h)
	if !ok {
		return
	}
	defer b.guard(s, "dispose")

	s.dispose()
	b.logger.Debug().Uint64("handle", uint64(h)).Msg("disposed")
}

func (b *Bridge) register(s *session) types.Handle {
	h := b.registry.Register(s)
	s.handle = h
	metrics.SetLiveHandles(b.registry.Len())
	return h
}

func (b *Bridge) release(h types.Handle) (*session, bool) {
	s, ok := b.registry.Release(h)
	metrics.SetLiveHandles(b.registry.Len())
	return s, ok
}

func (b *Bridge) lookup(h types.Handle, directive string) (*session, bool) {
	s, err := b.registry.Resolve(h)
	if err != nil {
		b.logger.Warn().Uint64("handle", uint64(h)).Str("directive", directive).Msg("unknown handle")
		return nil, false
	}
	return s, true
}

// guard converts a panic in a directive handler into a closed notification.
func (b *Bridge) guard(s *session, directive string) {
	if r := recover(); r != nil {
		b.recordPanic(directive, s.handle, r)
		s.fail(types.DomainLiteCore, types.CodeUnexpected)
	}
}

func (b *Bridge) recordPanic(handler string, h types.Handle, r any) {
	metrics.RecordPanic(handler)
	b.logger.Error().
		Str("handler", handler).
		Uint64("handle", uint64(h)).
		Interface("panic", r).
		Msg("recovered panic")
}
