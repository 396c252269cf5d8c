package tablestore

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
)

// ConnectionResolver dispatches a table store name to the provider of its configured type.
type ConnectionResolver struct {
	providers map[string]TableStoreProvider
	cfg       *config.Config
}

// ResolverParams collects every provider of the "table_store_providers" group.
type ResolverParams struct {
	fx.In
	Config    *config.Config
	Providers []TableStoreProvider `group:"table_store_providers"`
}

func NewConnectionResolver(p ResolverParams) *ConnectionResolver {
	return NewConnectionResolverFrom(p.Config, p.Providers...)
}

// NewConnectionResolverFrom is NewConnectionResolver without fx.
func NewConnectionResolverFrom(cfg *config.Config, providers ...TableStoreProvider) *ConnectionResolver {
	r := &ConnectionResolver{providers: make(map[string]TableStoreProvider, len(providers)), cfg: cfg}
	for _, p := range providers {
		r.providers[p.Type()] = p
	}
	return r
}

func (r *ConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveTableStoreConnection(ctx, name)
}

// ResolveTableStoreConnection looks up etl.adapter.table_store.<name>.type and asks that provider.
func (r *ConnectionResolver) ResolveTableStoreConnection(ctx context.Context, name string) (TableStoreConnection, error) {
	providerType, err := r.cfg.AdapterType(config.AdapterTableStore, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[providerType]
	if !ok {
		return nil, fmt.Errorf("no table store provider found for type '%s' (connection '%s')", providerType, name)
	}
	return provider.GetConnection(name)
}

// CloseAll closes the connections of every provider.
func (r *ConnectionResolver) CloseAll() error {
	var result error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

var _ TableStoreConnectionResolver = (*ConnectionResolver)(nil)
