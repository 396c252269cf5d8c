package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// ConnectionResolver dispatches a connection name to the provider registered for its configured type.
type ConnectionResolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

// ResolverParams collects every StorageProvider tagged into the "storage_providers" group.
type ResolverParams struct {
	fx.In
	Config    *config.Config
	Providers []StorageProvider `group:"storage_providers"`
}

// NewConnectionResolver indexes providers by type.
func NewConnectionResolver(p ResolverParams) *ConnectionResolver {
	return NewConnectionResolverFrom(p.Config, p.Providers...)
}

// NewConnectionResolverFrom is NewConnectionResolver without fx.
func NewConnectionResolverFrom(cfg *config.Config, providers ...StorageProvider) *ConnectionResolver {
	r := &ConnectionResolver{providers: make(map[string]StorageProvider, len(providers)), cfg: cfg}
	for _, p := range providers {
		r.providers[p.Type()] = p
	}
	return r
}

// ResolveConnection resolves a generic resource connection by name.
func (r *ConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveStorageConnection(ctx, name)
}

// ResolveStorageConnection looks up etl.adapter.storage.<name>.type and asks that provider for the connection.
func (r *ConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	providerType, err := r.cfg.AdapterType(config.AdapterStorage, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[providerType]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", providerType, name)
	}
	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage connection '%s' from provider '%s': %w", name, providerType, err)
	}
	return conn, nil
}

// CloseAll closes the connections of every provider.
func (r *ConnectionResolver) CloseAll() error {
	var firstErr error
	for t, p := range r.providers {
		if err := p.CloseAll(); err != nil {
			logger.Warnf("Failed to close %s storage connections: %v", t, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

var _ StorageConnectionResolver = (*ConnectionResolver)(nil)
