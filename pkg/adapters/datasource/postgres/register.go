package postgres

import (
	"context"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		Dialect: Dialect,
		PoolFactory: func(ctx context.Context, name string, b datasource.BackendConfig, mgr datasource.ConnectionManagerConfig) (datasource.PoolConnector, error) {
			cfg, err := FromBackendConfig(b)
			if err != nil {
				return nil, err
			}
			return NewPool(ctx, name, cfg, mgr)
		},
	})
}
