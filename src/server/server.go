// Package server accepts inbound replication requests over websocket
// upgrades and runs them under admission control.
package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/replication/src/admission"
	"github.com/orchestra-mcp/replication/src/docstore"
	"github.com/orchestra-mcp/replication/src/replicator"
	"github.com/orchestra-mcp/replication/src/transport"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// StoreResolver picks the document store an inbound request replicates with.
type StoreResolver func(ctx *fasthttp.RequestCtx) (docstore.Store, error)

// EventPublisher receives replication lifecycle events.
type EventPublisher interface {
	Publish(ev types.ReplicationEvent) error
}

// Server is a replication server bounded by an admission controller.
type Server struct {
	admission *admission.Controller
	sockets   replicator.Sockets
	engine    replicator.Engine
	resolve   StoreResolver

	transportCfg transport.Config
	upgrader     websocket.FastHTTPUpgrader
	publisher    EventPublisher
	params       *replicator.Parameters
	logger       zerolog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithPublisher sets where lifecycle events are published.
func WithPublisher(p EventPublisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithParameters overrides the acceptor's default replication parameters.
func WithParameters(p replicator.Parameters) Option {
	return func(s *Server) { s.params = &p }
}

// New creates a server. Sessions obtain sockets from sockets and run on engine.
func New(
	ctrl *admission.Controller,
	sockets replicator.Sockets,
	engine replicator.Engine,
	resolve StoreResolver,
	cfg transport.Config,
	logger zerolog.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		admission:    ctrl,
		sockets:      sockets,
		engine:       engine,
		resolve:      resolve,
		transportCfg: cfg,
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(*fasthttp.RequestCtx) bool { return true },
		},
		logger: logger.With().Str("component", "replication-server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle serves one inbound request. It writes the response and returns
// the reason the request was refused, if any.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) error {
	if !websocket.FastHTTPIsWebSocketUpgrade(ctx) {
		ctx.Error("Bad WebSocket Request", fasthttp.StatusBadRequest)
		return errors.New("not a websocket upgrade request")
	}

	store, err := s.resolve(ctx)
	if err != nil {
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return fmt.Errorf("resolve store for %s: %w", ctx.Path(), err)
	}

	conn := transport.NewAcceptedConn(s.transportCfg, s.logger)
	session, err := replicator.NewSession(store, s.engine, s.sockets, replicator.Options{
		Inbound:    conn,
		Parameters: s.params,
	}, s.logger)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return err
	}

	database := DatabaseFromPath(ctx)
	if err := s.admission.Admit(session, session.Start); err != nil {
		if errors.Is(err, types.ErrTooManyReplications) {
			s.publish(types.EventRejected, "", database)
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"too_many_replications","message":"replication capacity reached"}`)
			return err
		}
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return err
	}
	s.publish(types.EventStarted, session.ID(), database)

	err = s.upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
		conn.Serve(ws)
	})
	if err != nil {
		conn.Fail(err)
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	conn.ExpireUnattached(s.transportCfg.HandshakeTimeout)
	s.logger.Debug().
		Str("session_id", session.ID()).
		Str("database", database).
		Uint64("handle", uint64(session.Handle())).
		Msg("replication accepted")
	return nil
}

// Handler adapts Handle to a fasthttp handler.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if err := s.Handle(ctx); err != nil {
			s.logger.Debug().Err(err).Str("path", string(ctx.Path())).Msg("replication refused")
		}
	}
}

// Admission returns the controller bounding this server.
func (s *Server) Admission() *admission.Controller { return s.admission }

func (s *Server) publish(kind, sessionID, database string) {
	if s.publisher == nil {
		return
	}
	ev := types.ReplicationEvent{
		Kind:      kind,
		SessionID: sessionID,
		Database:  database,
		Active:    len(s.admission.Active()),
		Max:       s.admission.Max(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ev); err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("publish replication event")
	}
}

// DatabaseFromPath returns the last non-empty segment of the request path.
func DatabaseFromPath(ctx *fasthttp.RequestCtx) string {
	path := strings.Trim(string(ctx.Path()), "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
