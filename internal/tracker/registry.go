package tracker

import (
	"fmt"

	"github.com/iammorganparry/hive-sync/internal/models"
)

// Registry selects the client for an item's external system.
type Registry struct {
	clients map[models.System]Client
}

// NewRegistry builds a registry from the given clients. A later client for
// the same system replaces an earlier one.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[models.System]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.System()] = c
	}
	return r
}

// Get returns the client for system.
func (r *Registry) Get(system models.System) (Client, error) {
	c, ok := r.clients[system]
	if !ok {
		return nil, fmt.Errorf("no tracker client for system %q", system)
	}
	return c, nil
}

// Clients returns every registered client.
func (r *Registry) Clients() []Client {
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
