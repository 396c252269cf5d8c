package queue

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
)

// ConnectionResolver dispatches a queue name to the provider of its configured type.
type ConnectionResolver struct {
	providers map[string]QueueProvider
	cfg       *config.Config
}

type ResolverParams struct {
	fx.In
	Config    *config.Config
	Providers []QueueProvider `group:"queue_providers"`
}

func NewConnectionResolver(p ResolverParams) *ConnectionResolver {
	r := &ConnectionResolver{providers: make(map[string]QueueProvider, len(p.Providers)), cfg: p.Config}
	for _, provider := range p.Providers {
		r.providers[provider.Type()] = provider
	}
	return r
}

func (r *ConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveQueueConnection(ctx, name)
}

func (r *ConnectionResolver) ResolveQueueConnection(ctx context.Context, name string) (QueueConnection, error) {
	provider, err := r.provider(name)
	if err != nil {
		return nil, err
	}
	return provider.GetConnection(name)
}

func (r *ConnectionResolver) ReconnectQueueConnection(ctx context.Context, name string) (QueueConnection, error) {
	provider, err := r.provider(name)
	if err != nil {
		return nil, err
	}
	return provider.ForceReconnect(name)
}

func (r *ConnectionResolver) provider(name string) (QueueProvider, error) {
	queueType, err := r.cfg.AdapterType(config.AdapterQueue, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[queueType]
	if !ok {
		return nil, fmt.Errorf("no queue provider found for type '%s' (connection '%s')", queueType, name)
	}
	return provider, nil
}

func (r *ConnectionResolver) CloseAll() error {
	var result error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

var _ QueueConnectionResolver = (*ConnectionResolver)(nil)
