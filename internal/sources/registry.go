package sources

import (
	"fmt"
	"sync"

	"threatmesh/pkg/logger"
)

// Registry manages all external feed connectors
type Registry struct {
	connectors map[string]Connector
	order      []string
	mu         sync.RWMutex
	logger     *logger.Logger
}

// NewRegistry creates a new connector registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		logger:     log.WithComponent("source-registry"),
	}
}

// Register registers a connector
func (r *Registry) Register(connector Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slug := connector.Slug()
	if _, exists := r.connectors[slug]; exists {
		return fmt.Errorf("connector already registered: %s", slug)
	}

	r.connectors[slug] = connector
	r.order = append(r.order, slug)
	r.logger.Info().
		Str("slug", slug).
		Str("name", connector.Name()).
		Msg("registered connector")

	return nil
}

// Get returns a connector by slug
func (r *Registry) Get(slug string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connectors[slug]
	return conn, ok
}

// List returns all registered connectors in registration order
func (r *Registry) List() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connector, 0, len(r.order))
	for _, slug := range r.order {
		conns = append(conns, r.connectors[slug])
	}
	return conns
}

// ListEnabled returns all enabled connectors in registration order
func (r *Registry) ListEnabled() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connector, 0)
	for _, slug := range r.order {
		if conn := r.connectors[slug]; conn.IsEnabled() {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Count returns the number of registered connectors
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}

// Configure applies per-connector settings keyed by slug. Connectors
// not named keep their defaults.
func (r *Registry) Configure(settings map[string]ConnectorConfig) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for slug, cfg := range settings {
		conn, ok := r.connectors[slug]
		if !ok {
			r.logger.Warn().Str("slug", slug).Msg("config for unknown connector")
			continue
		}
		if err := conn.Configure(cfg); err != nil {
			r.logger.Warn().Err(err).Str("slug", slug).Msg("failed to configure connector")
		}
	}
}
