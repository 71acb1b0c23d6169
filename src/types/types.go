package types

import (
	"reflect"
	"time"
)

// Handle is an opaque integer token standing in for a bridge session
// across the engine/bridge boundary. Zero is never allocated.
type Handle uint64

// Role is the side of the connection a bridge session plays.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "initiator"
}

// ActivityLevel is the coarse state of a replication session.
type ActivityLevel int

const (
	LevelStopped ActivityLevel = iota
	// LevelOffline is never reported by the engine; reserved for layers above.
	LevelOffline
	LevelConnecting
	LevelIdle
	LevelBusy
)

var levelNames = [...]string{"stopped", "offline", "connecting", "idle", "busy"}

func (l ActivityLevel) String() string {
	if int(l) < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// Progress is a very rough measure of replication work.
// Divide UnitsCompleted by UnitsTotal for a fraction.
type Progress struct {
	UnitsCompleted uint64 `json:"units_completed"`
	UnitsTotal     uint64 `json:"units_total"`
	DocumentCount  uint64 `json:"document_count"`
}

// Error is a domain/code pair as understood by the replication engine.
type Error struct {
	Domain ErrorDomain `json:"domain"`
	Code   int         `json:"code"`
}

// IsZero reports whether e signals no error.
func (e Error) IsZero() bool { return e.Domain == 0 && e.Code == 0 }

// Status is a snapshot of a replication session.
type Status struct {
	Level    ActivityLevel `json:"level"`
	Progress Progress      `json:"progress"`
	Error    Error         `json:"error"`
}

// Body is a JSON document body.
type Body map[string]any

// Equal reports whether b and other hold the same content.
func (b Body) Equal(other Body) bool {
	if b == nil || other == nil {
		return b == nil && other == nil
	}
	return reflect.DeepEqual(b, other)
}

// ReplicationEvent describes a lifecycle change on one server instance.
type ReplicationEvent struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Database  string    `json:"database,omitempty"`
	Active    int       `json:"active"`
	Max       int       `json:"max"`
	Timestamp time.Time `json:"timestamp"`
}

// Replication event kinds.
const (
	EventStarted  = "started"
	EventRejected = "rejected"
)
