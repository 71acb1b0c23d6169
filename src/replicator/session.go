package replicator

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/replication/src/docstore"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
)

// Options describe the peer of a session. Exactly one of URL and Inbound is set.
type Options struct {
	URL           string
	Inbound       socket.AcceptedConn
	Parameters    *Parameters // defaults by role when nil
	SocketOptions []byte
}

// Session is one replication between a local store and a peer.
type Session struct {
	id            string
	role          types.Role
	url           string
	inbound       socket.AcceptedConn
	params        Parameters
	socketOptions []byte

	store   docstore.Store
	engine  Engine
	sockets Sockets
	logger  zerolog.Logger

	running atomic.Bool
	mu      sync.Mutex
	started bool
	handle  types.Handle
	repl    Replication
	stopped sync.Once
}

// NewSession validates opts and creates a stopped session. Nothing is
// allocated until Start.
func NewSession(store docstore.Store, engine Engine, sockets Sockets, opts Options, logger zerolog.Logger) (*Session, error) {
	if (opts.URL == "") == (opts.Inbound == nil) {
		return nil, &types.ReplicationError{Op: "new session", Err: types.ErrInvalidSession}
	}

	role := types.RoleInitiator
	if opts.Inbound != nil {
		role = types.RoleAcceptor
	}
	params := DefaultParameters(role)
	if opts.Parameters != nil {
		params = *opts.Parameters
	}

	id := uuid.New().String()
	return &Session{
		id:            id,
		role:          role,
		url:           opts.URL,
		inbound:       opts.Inbound,
		params:        params,
		socketOptions: opts.SocketOptions,
		store:         store,
		engine:        engine,
		sockets:       sockets,
		logger: logger.With().
			Str("component", "replication-session").
			Str("session_id", id).
			Str("role", role.String()).
			Logger(),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Role reports whether the session dialed out or was accepted.
func (s *Session) Role() types.Role { return s.role }

// Handle returns the bridge handle, or zero before Start.
func (s *Session) Handle() types.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Start obtains the socket and begins replicating.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return &types.ReplicationError{Op: "start", Err: types.ErrSessionStarted}
	}
	s.started = true

	var h types.Handle
	if s.role == types.RoleAcceptor {
		h = s.sockets.Accept(s.inbound)
	} else {
		addr, err := types.ParseAddress(s.url)
		if err != nil {
			return &types.ReplicationError{Op: "start", Err: err}
		}
		if h, err = s.sockets.Open(addr, s.socketOptions); err != nil {
			return &types.ReplicationError{Op: "start", Err: err}
		}
	}

	repl, err := s.engine.Replicate(Request{
		Store:      s.store,
		Socket:     h,
		Role:       s.role,
		Parameters: s.params,
	})
	if err != nil {
		s.sockets.Dispose(h)
		return &types.ReplicationError{Op: "start", Err: err}
	}

	s.handle = h
	s.repl = repl
	s.running.Store(true)
	s.logger.Info().
		Uint64("handle", uint64(h)).
		Str("push", s.params.Push.String()).
		Str("pull", s.params.Pull.String()).
		Msg("replication started")
	return nil
}

// Stop requests shutdown and returns immediately. It is idempotent.
func (s *Session) Stop() {
	s.running.Store(false)

	s.mu.Lock()
	repl := s.repl
	s.mu.Unlock()
	if repl == nil {
		return
	}
	s.stopped.Do(func() {
		repl.Stop()
		s.logger.Info().Msg("replication stop requested")
	})
}

// Status returns the latest known status. Before Start it is stopped.
func (s *Session) Status() types.Status {
	s.mu.Lock()
	repl := s.repl
	s.mu.Unlock()
	if repl == nil {
		return types.Status{Level: types.LevelStopped}
	}
	return repl.Status()
}

// Running reports whether the session was started, has not been asked to
// stop and the engine has not reported it stopped.
func (s *Session) Running() bool {
	return s.running.Load() && s.Status().Level != types.LevelStopped
}
