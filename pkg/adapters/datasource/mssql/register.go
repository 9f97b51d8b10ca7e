package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
)

// Dialect binds natively with @pN named parameters.
var Dialect = datasource.Dialect{Name: "mssql", Placeholder: datasource.AtPlaceholder}

// NewPool opens a database/sql pool for one SQL Server backend.
func NewPool(ctx context.Context, backend string, cfg *Config, mgr datasource.ConnectionManagerConfig) (*datasource.SQLDBPoolWrapper, error) {
	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open SQL auth connection: %w", err)
	}

	db.SetMaxOpenConns(int(mgr.PoolMaxConns))
	db.SetMaxIdleConns(int(mgr.PoolMinConns))
	db.SetConnMaxIdleTime(time.Duration(mgr.TTLMinutes) * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	return datasource.NewSQLDBPoolWrapper(db, datasource.SQLDBPoolOptions{
		Type:     "mssql",
		Backend:  backend,
		Dialect:  Dialect,
		Classify: classifyError,
		Convert:  convertValue,
	}), nil
}

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2019+, Azure SQL Database",
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
