// Package service is the high-level replication API used by providers.
package service

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orchestra-mcp/replication/src/admission"
	"github.com/orchestra-mcp/replication/src/cluster"
	"github.com/orchestra-mcp/replication/src/conflict"
	"github.com/orchestra-mcp/replication/src/docstore"
	"github.com/orchestra-mcp/replication/src/replicator"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned for an unknown replication id.
var ErrSessionNotFound = errors.New("replication not found")

// Deps are the components a Service drives.
type Deps struct {
	Bridge    *socket.Bridge
	Engine    replicator.Engine
	Admission *admission.Controller
	Store     docstore.Store
	Resolver  *conflict.Resolver
}

// ReplicationInfo describes one admitted replication.
type ReplicationInfo struct {
	ID     string       `json:"id"`
	Role   string       `json:"role"`
	Handle types.Handle `json:"handle"`
	Status types.Status `json:"status"`
}

// Service provides replication, conflict and cluster queries.
type Service struct {
	deps   Deps
	logger zerolog.Logger

	mu    sync.RWMutex
	relay cluster.Relay
	peers map[string]types.ReplicationEvent
}

// New creates a service over deps.
func New(deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		deps:   deps,
		logger: logger.With().Str("component", "replication-service").Logger(),
		peers:  make(map[string]types.ReplicationEvent),
	}
}

// SetRelay attaches the relay events are forwarded to.
func (s *Service) SetRelay(r cluster.Relay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relay = r
}

// Replicate starts an outbound replication to url under admission control.
func (s *Service) Replicate(url string, params *replicator.Parameters, socketOptions []byte) (*replicator.Session, error) {
	session, err := replicator.NewSession(s.deps.Store, s.deps.Engine, s.deps.Bridge, replicator.Options{
		URL:           url,
		Parameters:    params,
		SocketOptions: socketOptions,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	var database string
	if addr, err := types.ParseAddress(url); err == nil {
		database = addr.DatabaseName()
	}
	if err := s.deps.Admission.Admit(session, session.Start); err != nil {
		if errors.Is(err, types.ErrTooManyReplications) {
			s.emit(types.EventRejected, "", database)
		}
		return nil, err
	}
	s.emit(types.EventStarted, session.ID(), database)
	return session, nil
}

// ActiveReplications lists the replications currently holding a slot.
func (s *Service) ActiveReplications() []ReplicationInfo {
	active := s.deps.Admission.Active()
	out := make([]ReplicationInfo, 0, len(active))
	for _, a := range active {
		rs, ok := a.(*replicator.Session)
		if !ok {
			continue
		}
		out = append(out, ReplicationInfo{
			ID:     rs.ID(),
			Role:   rs.Role().String(),
			Handle: rs.Handle(),
			Status: rs.Status(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// StopReplication asks the replication with the given id to stop.
func (s *Service) StopReplication(id string) error {
	for _, a := range s.deps.Admission.Active() {
		if rs, ok := a.(*replicator.Session); ok && rs.ID() == id {
			rs.Stop()
			return nil
		}
	}
	return fmt.Errorf("stop %s: %w", id, ErrSessionNotFound)
}

// Capacity returns the number of active replications and the limit.
func (s *Service) Capacity() (active, limit int) {
	return len(s.deps.Admission.Active()), s.deps.Admission.Max()
}

// Conflicts returns the conflicting leaf revisions of docID.
func (s *Service) Conflicts(docID string) ([]docstore.Snapshot, error) {
	return s.deps.Resolver.Conflicts(docID)
}

// ResolveConflicts resolves docID pair by pair with merge.
func (s *Service) ResolveConflicts(docID string, merge conflict.MergeFunc) error {
	return s.deps.Resolver.Resolve(docID, merge)
}

// ResolveConflictsWith collapses the listed revisions into merged.
func (s *Service) ResolveConflictsWith(docID string, revIDs []string, merged types.Body) error {
	return s.deps.Resolver.ResolveWith(docID, revIDs, merged)
}

// Publish implements server.EventPublisher by forwarding to the relay.
func (s *Service) Publish(ev types.ReplicationEvent) error {
	s.mu.RLock()
	relay := s.relay
	s.mu.RUnlock()
	if relay == nil || !relay.Available() {
		return nil
	}
	return relay.Publish(ev)
}

// HandleRemote implements cluster.EventTarget.
func (s *Service) HandleRemote(instanceID string, ev types.ReplicationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.peers[instanceID]; ok && prev.Timestamp.After(ev.Timestamp) {
		return
	}
	s.peers[instanceID] = ev
}

// ClusterView returns the latest event seen from each other instance.
func (s *Service) ClusterView() map[string]types.ReplicationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.ReplicationEvent, len(s.peers))
	for k, v := range s.peers {
		out[k] = v
	}
	return out
}

// Bridge returns the socket bridge.
func (s *Service) Bridge() *socket.Bridge { return s.deps.Bridge }

func (s *Service) emit(kind, sessionID, database string) {
	active, limit := s.Capacity()
	ev := types.ReplicationEvent{
		Kind:      kind,
		SessionID: sessionID,
		Database:  database,
		Active:    active,
		Max:       limit,
		Timestamp: time.Now().UTC(),
	}
	if err := s.Publish(ev); err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("publish replication event")
	}
}
