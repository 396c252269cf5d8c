package adapter

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// ConnectionFactory opens a new connection for a configured name.
type ConnectionFactory[C ResourceConnection] func(name string) (C, error)

// Registry caches connections by name for a single adapter type. Providers embed it.
type Registry[C ResourceConnection] struct {
	providerType string
	factory      ConnectionFactory[C]
	connections  map[string]C
	mu           sync.RWMutex
}

// NewRegistry creates a Registry that opens connections with factory.
func NewRegistry[C ResourceConnection](providerType string, factory ConnectionFactory[C]) *Registry[C] {
	return &Registry[C]{
		providerType: providerType,
		factory:      factory,
		connections:  make(map[string]C),
	}
}

// GetConnection returns the cached connection for name, opening it on first use.
func (r *Registry[C]) GetConnection(name string) (C, error) {
	r.mu.RLock()
	conn, ok := r.connections[name]
	r.mu.RUnlock()
	if ok {
		return conn, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok = r.connections[name]; ok {
		return conn, nil
	}
	return r.openLocked(name)
}

func (r *Registry[C]) openLocked(name string) (C, error) {
	conn, err := r.factory(name)
	if err != nil {
		var zero C
		return zero, fmt.Errorf("failed to open %s connection '%s': %w", r.providerType, name, err)
	}
	r.connections[name] = conn
	logger.Debugf("Opened %s connection '%s'.", r.providerType, name)
	return conn, nil
}

// ForceReconnect closes the cached connection for name (if any) and opens a new one.
func (r *Registry[C]) ForceReconnect(name string) (C, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.connections[name]; ok {
		if err := existing.Close(); err != nil {
			logger.Warnf("Failed to close %s connection '%s' before reconnect: %v", r.providerType, name, err)
		}
		delete(r.connections, name)
	}
	return r.openLocked(name)
}

// CloseAll closes every cached connection and reports all close failures.
func (r *Registry[C]) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result error
	for name, conn := range r.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close %s connection '%s': %w", r.providerType, name, err))
		}
		delete(r.connections, name)
	}
	return result
}

// Type returns the adapter type served by this registry.
func (r *Registry[C]) Type() string {
	return r.providerType
}
