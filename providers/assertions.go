package providers

import (
	"github.com/orchestra-mcp/replication/src/admission"
	"github.com/orchestra-mcp/replication/src/cluster"
	"github.com/orchestra-mcp/replication/src/docstore"
	"github.com/orchestra-mcp/replication/src/replicator"
	"github.com/orchestra-mcp/replication/src/server"
	"github.com/orchestra-mcp/replication/src/service"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/transport"
)

// Compile-time interface assertions.
var (
	_ socket.Factory        = (*socket.Bridge)(nil)
	_ replicator.Sockets    = (*socket.Bridge)(nil)
	_ socket.Transport      = (*transport.Dialer)(nil)
	_ socket.AcceptedConn   = (*transport.Conn)(nil)
	_ admission.Session     = (*replicator.Session)(nil)
	_ docstore.Store        = (*docstore.BadgerStore)(nil)
	_ cluster.Relay         = (*cluster.RedisRelay)(nil)
	_ cluster.EventTarget   = (*service.Service)(nil)
	_ server.EventPublisher = (*service.Service)(nil)
)
