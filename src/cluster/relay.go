// Package cluster relays replication lifecycle events between server
// instances so each can report cluster-wide capacity.
package cluster

import "github.com/orchestra-mcp/replication/src/types"

// Relay broadcasts replication events to the other server instances.
type Relay interface {
	// Publish sends ev to all other instances.
	Publish(ev types.ReplicationEvent) error

	// Start begins receiving events from other instances.
	Start() error

	// Stop shuts the relay down.
	Stop() error

	// Available reports whether the relay is connected.
	Available() bool
}

// EventTarget receives events published by other instances.
type EventTarget interface {
	HandleRemote(instanceID string, ev types.ReplicationEvent)
}
