package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// PersistenceConfig satisfies the go-persistence-bun client config.
type PersistenceConfig struct {
	Driver         string
	DSN            string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (c PersistenceConfig) GetDebug() bool {
	return c.Debug
}

func (c PersistenceConfig) GetDriver() string {
	return c.Driver
}

func (c PersistenceConfig) GetServer() string {
	return c.DSN
}

func (c PersistenceConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c PersistenceConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-session-sync"
	}
	return c.OtelIdentifier
}

// NewPersistenceClient opens the configured driver and wraps it in a
// go-persistence-bun client with the matching bun dialect.
func NewPersistenceClient(cfg PersistenceConfig) (*persistence.Client, error) {
	sqlDB, dialect, err := openSQL(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}

// OpenDB returns a bare bun.DB for driver without a persistence client.
func OpenDB(driver string, dsn string) (*bun.DB, error) {
	sqlDB, dialect, err := openSQL(driver, dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqlDB, dialect), nil
}

func openSQL(driver string, dsn string) (*sql.DB, schema.Dialect, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil, fmt.Errorf("sqlstore: dsn is required")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "sqlite":
		sqlDB, err := sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
		}
		// in-memory databases are per connection
		sqlDB.SetMaxOpenConns(1)
		return sqlDB, sqlitedialect.New(), nil
	case DriverPostgres, "pg", "postgresql":
		sqlDB, err := sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlstore: open postgres: %w", err)
		}
		return sqlDB, pgdialect.New(), nil
	default:
		return nil, nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}
