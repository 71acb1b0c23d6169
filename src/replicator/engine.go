package replicator

import (
	"github.com/orchestra-mcp/replication/src/docstore"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/types"
)

// Mode is how replication runs in one direction.
type Mode int

const (
	ModeDisabled Mode = iota
	ModePassive
	ModeOneShot
	ModeContinuous
)

var modeNames = [...]string{"disabled", "passive", "one-shot", "continuous"}

func (m Mode) String() string {
	if int(m) < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// Parameters configure one replication.
type Parameters struct {
	Push    Mode
	Pull    Mode
	Options []byte // opaque engine options
}

// DefaultParameters returns passive modes for acceptors and continuous
// modes for initiators.
func DefaultParameters(role types.Role) Parameters {
	if role == types.RoleAcceptor {
		return Parameters{Push: ModePassive, Pull: ModePassive}
	}
	return Parameters{Push: ModeContinuous, Pull: ModeContinuous}
}

// Request is everything the engine needs to run one replication.
type Request struct {
	Store      docstore.Store
	Socket     types.Handle
	Role       types.Role
	Parameters Parameters
}

// Engine is the native replication engine. It drives the socket bridge
// through socket.Factory and receives its notifications as a socket.Notifier.
type Engine interface {
	Replicate(req Request) (Replication, error)
}

// Replication is a replication running inside the engine.
type Replication interface {
	Status() types.Status
	// Stop requests shutdown and returns without waiting for it.
	Stop()
}

// Sockets is the part of the bridge a session uses to obtain its socket.
type Sockets interface {
	Open(addr types.Address, options []byte) (types.Handle, error)
	Accept(conn socket.AcceptedConn) types.Handle
	Dispose(h types.Handle)
}
