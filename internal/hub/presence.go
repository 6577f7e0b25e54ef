package hub

import (
	"errors"
	"sort"
	"sync"

	"palaver/internal/models"
)

// ErrDuplicateBinding is returned when a connection that is already bound
// to one identity is bound to a different one. Re-binding the same
// identity is a no-op.
var ErrDuplicateBinding = errors.New("connection already bound")

// presenceRegistry owns the live set of authenticated connections. It is
// the source of truth for who is online.
type presenceRegistry struct {
	mu     sync.RWMutex
	byConn map[string]models.Identity
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{
		byConn: make(map[string]models.Identity),
	}
}

func (p *presenceRegistry) Bind(connID string, identity models.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byConn[connID]; ok {
		if existing == identity {
			return nil
		}
		return ErrDuplicateBinding
	}
	p.byConn[connID] = identity
	return nil
}

// Unbind removes and returns the prior binding. The second return is
// false when the connection was never bound.
func (p *presenceRegistry) Unbind(connID string) (models.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	identity, ok := p.byConn[connID]
	if ok {
		delete(p.byConn, connID)
	}
	return identity, ok
}

func (p *presenceRegistry) Get(connID string) (models.Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	identity, ok := p.byConn[connID]
	return identity, ok
}

// FindByUsername returns a connection currently bound to the username.
// With several connections for one user the lowest connection id wins,
// keeping resolution deterministic.
func (p *presenceRegistry) FindByUsername(username string) (string, models.Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var (
		foundConn string
		foundID   models.Identity
	)
	for connID, identity := range p.byConn {
		if identity.Username != username {
			continue
		}
		if foundConn == "" || connID < foundConn {
			foundConn = connID
			foundID = identity
		}
	}
	return foundConn, foundID, foundConn != ""
}

// ListActive returns a roster snapshot, sorted by username then
// connection id so repeated calls over the same state agree.
func (p *presenceRegistry) ListActive() []models.RosterEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	roster := make([]models.RosterEntry, 0, len(p.byConn))
	for connID, identity := range p.byConn {
		roster = append(roster, models.RosterEntry{
			Username:     identity.Username,
			ConnectionID: connID,
			UserID:       identity.UserID,
		})
	}

	sort.Slice(roster, func(i, j int) bool {
		if roster[i].Username != roster[j].Username {
			return roster[i].Username < roster[j].Username
		}
		return roster[i].ConnectionID < roster[j].ConnectionID
	})

	return roster
}
