package gorm

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/citybike/pkg/etl/adapter/database"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// GormDBConnectionResolver is the gorm implementation of database.DBConnectionResolver.
type GormDBConnectionResolver struct {
	dbProviders map[string]database.DBProvider
	cfg         *config.Config
}

// ResolverParams collects every DBProvider of the "db_providers" group.
type ResolverParams struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}

// NewGormDBConnectionResolver indexes the providers by database type.
func NewGormDBConnectionResolver(p ResolverParams) *GormDBConnectionResolver {
	providerMap := make(map[string]database.DBProvider, len(p.DBProviders))
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
	}
	return &GormDBConnectionResolver{dbProviders: providerMap, cfg: p.Cfg}
}

// ResolveConnection resolves a generic resource connection by name.
func (r *GormDBConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveDBConnection(ctx, name)
}

// ResolveDBConnection returns the connection for name, reconnecting once if it no longer answers a ping.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	dbType, err := r.cfg.AdapterType(config.AdapterDatabase, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.dbProviders[dbType]
	if !ok {
		return nil, fmt.Errorf("no database provider registered for type '%s' (connection '%s')", dbType, name)
	}
	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.GetSQLDB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		logger.Warnf("Database connection '%s' is not usable (%v). Reconnecting.", name, err)
		return provider.ForceReconnect(name)
	}
	return conn, nil
}

// CloseAll closes the connections of every provider.
func (r *GormDBConnectionResolver) CloseAll() error {
	var lastErr error
	for _, p := range r.dbProviders {
		if err := p.CloseAll(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

var _ database.DBConnectionResolver = (*GormDBConnectionResolver)(nil)
