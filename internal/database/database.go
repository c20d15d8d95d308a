package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/config"
)

// Connections bundles writer and reader bun instances for the accounts ledger.
type Connections struct {
	Writer *bun.DB
	Reader *bun.DB
}

// Module registers the database connections with Fx.
var Module = fx.Module("database", fx.Provide(New))

// New establishes writer and reader pools backed by Bun. SQLite runs on a single
// connection because the ledger's conditional updates rely on serialized writes.
// Both pools carry a query hook that times ledger statements.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Connections, error) {
	dbCfg := cfg.Database
	dial, err := selectDialect(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	hook, err := newQueryHook(dbCfg.SlowQuery, logger.Named("ledger_db"))
	if err != nil {
		return nil, err
	}

	writer, err := openPool("writer", dbCfg, dbCfg.WriterDSN, dial, hook)
	if err != nil {
		return nil, err
	}
	reader := writer
	if dbCfg.ReaderDSN != dbCfg.WriterDSN {
		if reader, err = openPool("reader", dbCfg, dbCfg.ReaderDSN, dial, hook); err != nil {
			_ = writer.Close()
			return nil, err
		}
	}

	conns := &Connections{Writer: writer, Reader: reader}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := conns.ping(ctx); err != nil {
				return err
			}
			logger.Info("ledger database connected", zap.String("driver", dbCfg.Driver))
			return nil
		},
		OnStop: func(context.Context) error {
			return conns.Close()
		},
	})

	return conns, nil
}

func openPool(role string, cfg config.Database, dsn string, dial schema.Dialect, hook bun.QueryHook) (*bun.DB, error) {
	sqldb, err := openSQLDB(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", role, err)
	}
	applyPoolSettings(sqldb, cfg)
	if cfg.Driver == "sqlite" && role == "writer" {
		sqldb.SetMaxOpenConns(1)
	}
	db := bun.NewDB(sqldb, dial)
	db.AddQueryHook(hook)
	return db, nil
}

func (c *Connections) ping(ctx context.Context) error {
	if err := pingContext(ctx, c.Writer); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if c.Reader != c.Writer {
		if err := pingContext(ctx, c.Reader); err != nil {
			return fmt.Errorf("ping reader: %w", err)
		}
	}
	return nil
}

// Close releases both pools.
func (c *Connections) Close() error {
	var errs []error
	if err := c.Writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	if c.Reader != c.Writer {
		if err := c.Reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader: %w", err))
		}
	}
	return errors.Join(errs...)
}

func selectDialect(driver string) (schema.Dialect, error) {
	switch driver {
	case "postgres":
		return pgdialect.New(), nil
	case "mysql":
		return mysqldialect.New(), nil
	case "sqlite":
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func openSQLDB(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	switch driver {
	case "postgres":
		connector := pgdriver.NewConnector(pgdriver.WithDSN(dsn))
		return sql.OpenDB(connector), nil
	case "mysql":
		return sql.Open("mysql", dsn)
	case "sqlite":
		return sql.Open("sqlite", dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

func applyPoolSettings(db *sql.DB, cfg config.Database) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
}

func pingContext(ctx context.Context, db *bun.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.DB.PingContext(pingCtx)
}
