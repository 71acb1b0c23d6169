// Package admission caps the number of replications a server runs at once.
package admission

import (
	"fmt"
	"sync"

	"github.com/orchestra-mcp/replication/src/metrics"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
)

// DefaultMax is the capacity used when none is configured.
const DefaultMax = 100

// Session is anything the controller can ask whether it is still running.
type Session interface {
	Running() bool
}

// Controller admits sessions up to a fixed capacity. Sessions that stopped
// running are pruned at the next registration and free their slot.
type Controller struct {
	mu     sync.Mutex
	max    int
	active []Session
	logger zerolog.Logger
}

// New creates a controller admitting up to limit sessions. A non-positive
// limit uses DefaultMax.
func New(limit int, logger zerolog.Logger) *Controller {
	if limit <= 0 {
		limit = DefaultMax
	}
	return &Controller{
		max:    limit,
		logger: logger.With().Str("component", "admission").Logger(),
	}
}

// Register prunes stopped sessions and admits s if there is room.
// The check and the insertion happen under one lock.
func (c *Controller) Register(s Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.register(s)
}

func (c *Controller) register(s Session) error {
	c.prune()
	if len(c.active) >= c.max {
		metrics.RecordRejection()
		c.logger.Warn().Int("active", len(c.active)).Int("max", c.max).Msg("replication rejected")
		return &types.ReplicationError{
			Op:  "register",
			Err: fmt.Errorf("%w: %d of %d in use", types.ErrTooManyReplications, len(c.active), c.max),
		}
	}
	c.active = append(c.active, s)
	metrics.SetActiveReplications(len(c.active))
	return nil
}

// Admit registers s and runs start before any other caller can prune it.
// start must not block. If it fails, s gives its slot back and the error
// is returned.
func (c *Controller) Admit(s Session, start func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.register(s); err != nil {
		return err
	}
	if err := start(); err != nil {
		c.remove(s)
		return err
	}
	return nil
}

// Active prunes stopped sessions and returns the ones still running.
func (c *Controller) Active() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	return append([]Session(nil), c.active...)
}

// Max returns the capacity.
func (c *Controller) Max() int {
	return c.max
}

func (c *Controller) remove(s Session) {
	for i, a := range c.active {
		if a == s {
			c.active = append(c.active[:i], c.active[i+1:]...)
			break
		}
	}
	metrics.SetActiveReplications(len(c.active))
}

func (c *Controller) prune() {
	kept := c.active[:0]
	for _, s := range c.active {
		if s.Running() {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(c.active); i++ {
		c.active[i] = nil
	}
	c.active = kept
	metrics.SetActiveReplications(len(c.active))
}
