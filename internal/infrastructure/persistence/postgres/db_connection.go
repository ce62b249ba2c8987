// Package postgres provides the relational store behind the token and status
// history repositories. PostgreSQL is the production target; SQLite is
// accepted for single-node installs and tests.
package postgres

import (
	"context"
	"fmt"
	"time"

	gormpg "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBConnection owns the GORM handle and its pool.
type DBConnection struct {
	db     *gorm.DB
	driver string
	logger logger.Logger
}

// NewDBConnection opens the database for driver, applies pool settings and
// migrates the schema.
//
// Parameters:
//   - ctx: bounds the initial ping
//   - driver: "postgres" or "sqlite"
//   - cfg: connection and pool settings
//   - log: logger for lifecycle events
//
// Returns:
//   - *DBConnection: ready connection
//   - error: transport_error when unreachable, invalid_argument for an unknown driver
func NewDBConnection(ctx context.Context, driver string, cfg config.DatabaseConfig, log logger.Logger) (*DBConnection, error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	log = log.WithComponent("database")

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = gormpg.Open(cfg.GetDSN())
	case DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, errors.ErrInvalidArgument(fmt.Sprintf("unsupported database driver %q", driver))
	}

	log.Info(ctx, "Opening database",
		logger.String("driver", driver),
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database),
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		log.Error(ctx, "Failed to open database", err, logger.String("driver", driver))
		return nil, mapPgErr(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.ErrInternal("database handle unavailable").WithCause(err)
	}
	if driver == DriverSQLite {
		// One writer; also keeps an in-memory database on a single connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MinConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MinConns)
		}
		sqlDB.SetConnMaxLifetime(cfg.MaxConnLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}

	conn := &DBConnection{db: db, driver: driver, logger: log}
	if err := conn.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := conn.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	log.Info(ctx, "Database ready", logger.String("driver", driver))
	return conn, nil
}

// DB returns the GORM handle.
func (c *DBConnection) DB() *gorm.DB {
	return c.db
}

// Driver returns the driver name the connection was opened with.
func (c *DBConnection) Driver() string {
	return c.driver
}

// Migrate creates or updates the tables used by the repositories.
func (c *DBConnection) Migrate(ctx context.Context) error {
	if err := c.db.WithContext(ctx).AutoMigrate(&tokenRecord{}, &statusRecord{}); err != nil {
		c.logger.Error(ctx, "Schema migration failed", err)
		return mapPgErr(err)
	}
	return nil
}

// Ping verifies the database answers within five seconds.
func (c *DBConnection) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return errors.ErrInternal("database handle unavailable").WithCause(err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		c.logger.Error(ctx, "Database ping failed", err)
		return mapPgErr(err)
	}
	if latency := time.Since(start); latency > 100*time.Millisecond {
		c.logger.Warn(ctx, "High database latency detected", logger.Int64("latency_ms", latency.Milliseconds()))
	}
	return nil
}

// Close closes the pool.
func (c *DBConnection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	c.logger.Info(context.Background(), "Closing database")
	return sqlDB.Close()
}
