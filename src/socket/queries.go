package socket

import "github.com/orchestra-mcp/replication/src/types"

// Handles returns the live handles in allocation order.
func (b *Bridge) Handles() []types.Handle {
	return b.registry.Handles()
}

// SessionCount returns the number of live bridge sessions.
func (b *Bridge) SessionCount() int {
	return b.registry.Len()
}

// Role returns the role of the session behind h.
func (b *Bridge) Role(h types.Handle) (types.Role, error) {
	s, err := b.registry.Resolve(h)
	if err != nil {
		return 0, err
	}
	return s.role, nil
}

// Resolve reports whether h refers to a live session.
func (b *Bridge) Resolve(h types.Handle) error {
	_, err := b.registry.Resolve(h)
	return err
}
