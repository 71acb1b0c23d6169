package providers

import (
	"errors"
	"fmt"

	"github.com/orchestra-mcp/replication/config"
	"github.com/orchestra-mcp/replication/src/admission"
	"github.com/orchestra-mcp/replication/src/cluster"
	"github.com/orchestra-mcp/replication/src/conflict"
	"github.com/orchestra-mcp/replication/src/docstore"
	"github.com/orchestra-mcp/replication/src/metrics"
	"github.com/orchestra-mcp/replication/src/replicator"
	"github.com/orchestra-mcp/replication/src/server"
	"github.com/orchestra-mcp/replication/src/service"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/transport"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Deps are supplied by the host when the plugin is activated.
type Deps struct {
	Config *config.Config
	Logger zerolog.Logger

	// NewEngine builds the replication engine over the socket bridge. The
	// engine must register itself as the bridge's notifier.
	NewEngine func(b *socket.Bridge) replicator.Engine

	// ResolveStore overrides how inbound requests pick a store. By default
	// every request replicates with the plugin's own store.
	ResolveStore server.StoreResolver

	// DialerOptions customize the outbound websocket dialer.
	DialerOptions []transport.DialerOption

	// DisableRelay runs standalone without trying Redis.
	DisableRelay bool
}

// ReplicationPlugin wires the replication components together.
type ReplicationPlugin struct {
	active  bool
	cfg     *config.Config
	logger  zerolog.Logger
	store   *docstore.BadgerStore
	bridge  *socket.Bridge
	server  *server.Server
	service *service.Service
	relay   cluster.Relay
}

// NewReplicationPlugin creates a new replication plugin instance.
func NewReplicationPlugin() *ReplicationPlugin { return &ReplicationPlugin{} }

func (p *ReplicationPlugin) ID() string      { return "orchestra/replication" }
func (p *ReplicationPlugin) Name() string    { return "Replication" }
func (p *ReplicationPlugin) Version() string { return "0.1.0" }
func (p *ReplicationPlugin) IsActive() bool  { return p.active }

// Activate opens the store and builds the bridge, admission controller,
// server and service.
func (p *ReplicationPlugin) Activate(deps Deps) error {
	if deps.NewEngine == nil {
		return errors.New("replication engine is required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.cfg = cfg
	p.logger = deps.Logger
	metrics.RegisterMetrics()

	store, err := docstore.Open(cfg.Store(), deps.Logger)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	p.store = store

	dialer := transport.NewDialer(cfg.Transport(), deps.Logger, deps.DialerOptions...)
	p.bridge = socket.NewBridge(dialer, deps.Logger)
	engine := deps.NewEngine(p.bridge)

	ctrl := admission.New(cfg.MaxReplications, deps.Logger)
	p.service = service.New(service.Deps{
		Bridge:    p.bridge,
		Engine:    engine,
		Admission: ctrl,
		Store:     store,
		Resolver:  conflict.New(store, cfg.MaxRevTreeDepth, deps.Logger),
	}, deps.Logger)

	resolve := deps.ResolveStore
	if resolve == nil {
		resolve = func(*fasthttp.RequestCtx) (docstore.Store, error) { return store, nil }
	}
	p.server = server.New(ctrl, p.bridge, engine, resolve, cfg.Transport(), deps.Logger,
		server.WithPublisher(p.service))

	if !deps.DisableRelay {
		p.initRelay()
	}

	p.active = true
	p.logger.Info().
		Str("plugin", p.ID()).
		Int("max_replications", cfg.MaxReplications).
		Msg("replication plugin activated")
	return nil
}

// initRelay tries to start the Redis relay. Without Redis the server
// runs standalone.
func (p *ReplicationPlugin) initRelay() {
	cfg := p.cfg.Relay()
	relay := cluster.NewRedisRelay(cfg, p.service, p.logger)

	if err := relay.Start(); err != nil {
		p.logger.Warn().Err(err).Msg("redis relay unavailable, running standalone")
		_ = relay.Stop()
		return
	}

	p.relay = relay
	p.service.SetRelay(relay)
	p.logger.Info().Str("redis_addr", cfg.Addr).Msg("redis relay connected")
}

// Deactivate stops replications, the relay and the store.
func (p *ReplicationPlugin) Deactivate() error {
	if p.service != nil {
		for _, r := range p.service.ActiveReplications() {
			_ = p.service.StopReplication(r.ID)
		}
	}
	if p.relay != nil {
		if err := p.relay.Stop(); err != nil {
			p.logger.Error().Err(err).Msg("relay stop error")
		}
		p.relay = nil
	}
	var err error
	if p.store != nil {
		err = p.store.Close()
		p.store = nil
	}
	p.active = false
	return err
}

// Service exposes the replication service.
func (p *ReplicationPlugin) Service() *service.Service { return p.service }

// Store exposes the plugin's document store.
func (p *ReplicationPlugin) Store() *docstore.BadgerStore { return p.store }
