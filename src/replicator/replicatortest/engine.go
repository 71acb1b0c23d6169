// Package replicatortest provides an in-process replication engine that
// drives the socket bridge the way the native engine does, for tests and
// local development.
package replicatortest

import (
	"sync"

	"github.com/orchestra-mcp/replication/src/replicator"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/types"
)

// Engine is a fake replication engine. It tracks connection state per
// live handle and reports it as replication status. A handle's state is
// dropped once it closes; its replication keeps the final status.
type Engine struct {
	mu      sync.Mutex
	factory socket.Factory
	states  map[types.Handle]*state
	fail    error

	// OnReceived, when set, runs for every received message.
	OnReceived func(h types.Handle, data []byte)
}

type state struct {
	role     types.Role
	level    types.ActivityLevel
	err      types.Error
	received [][]byte
	opened   bool
	closed   bool
	repl     *replication
}

func (st *state) status() types.Status {
	return types.Status{
		Level:    st.level,
		Error:    st.err,
		Progress: types.Progress{DocumentCount: uint64(len(st.received))},
	}
}

// New creates an engine with no factory attached.
func New() *Engine {
	return &Engine{states: make(map[types.Handle]*state)}
}

// Attach wires the engine to a bridge: the bridge becomes the engine's
// socket factory and the engine becomes the bridge's notifier.
func (e *Engine) Attach(b *socket.Bridge) {
	e.mu.Lock()
	e.factory = b
	e.mu.Unlock()
	b.SetNotifier(e)
}

// FailNext makes the next Replicate call return err.
func (e *Engine) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

// state returns the entry for h, creating it when a notification arrives
// before Replicate. Callers hold e.mu.
func (e *Engine) state(h types.Handle) *state {
	st, ok := e.states[h]
	if !ok {
		st = &state{level: types.LevelConnecting}
		e.states[h] = st
	}
	return st
}

// Replicate implements replicator.Engine.
func (e *Engine) Replicate(req replicator.Request) (replicator.Replication, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		err := e.fail
		e.fail = nil
		return nil, err
	}

	st := e.state(req.Socket)
	st.role = req.Role
	r := &replication{engine: e, handle: req.Socket}
	if st.closed {
		final := st.status()
		r.final = &final
		delete(e.states, req.Socket)
		return r, nil
	}
	if req.Role == types.RoleAcceptor || st.opened {
		st.level = types.LevelBusy
	}
	st.repl = r
	return r, nil
}

// Opened implements socket.Notifier.
func (e *Engine) Opened(h types.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(h)
	st.opened = true
	if !st.closed {
		st.level = types.LevelBusy
	}
}

// Received implements socket.Notifier.
func (e *Engine) Received(h types.Handle, data []byte) {
	e.mu.Lock()
	st := e.state(h)
	st.received = append(st.received, append([]byte(nil), data...))
	hook := e.OnReceived
	factory := e.factory
	e.mu.Unlock()

	if factory != nil {
		factory.CompletedReceive(h, len(data))
	}
	if hook != nil {
		hook(h, data)
	}
}

// Closed implements socket.Notifier. The closure is recorded on the
// replication and the handle is disposed. A closure seen before Replicate
// is kept until Replicate picks it up.
func (e *Engine) Closed(h types.Handle, domain types.ErrorDomain, code int) {
	e.mu.Lock()
	st := e.state(h)
	st.closed = true
	st.level = types.LevelStopped
	st.err = types.Error{Domain: domain, Code: code}
	if st.repl != nil {
		final := st.status()
		st.repl.final = &final
		delete(e.states, h)
	}
	factory := e.factory
	e.mu.Unlock()

	if factory != nil {
		factory.Dispose(h)
	}
}

// Write sends data on h through the attached factory.
func (e *Engine) Write(h types.Handle, data []byte) {
	e.mu.Lock()
	factory := e.factory
	e.mu.Unlock()
	if factory != nil {
		factory.Write(h, data)
	}
}

// ReceivedOn returns a copy of the messages received on h.
func (e *Engine) ReceivedOn(h types.Handle) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[h]
	if !ok {
		return nil
	}
	return append([][]byte(nil), st.received...)
}

// Status returns the status tracked for h. Handles that are closed or
// unknown report stopped.
func (e *Engine) Status(h types.Handle) types.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[h]
	if !ok {
		return types.Status{Level: types.LevelStopped}
	}
	return st.status()
}

// Tracked returns the number of handles the engine holds state for.
func (e *Engine) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

type replication struct {
	engine *Engine
	handle types.Handle
	final  *types.Status // set under engine.mu once the handle closes
}

func (r *replication) Status() types.Status {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	if r.final != nil {
		return *r.final
	}
	if st, ok := r.engine.states[r.handle]; ok {
		return st.status()
	}
	return types.Status{Level: types.LevelStopped}
}

func (r *replication) Stop() {
	r.engine.mu.Lock()
	factory := r.engine.factory
	r.engine.mu.Unlock()
	if factory != nil {
		factory.RequestClose(r.handle, 1000, "replication stopped")
	}
}
