package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/bazaar/internal/config"
)

func sqliteConfig() config.Database {
	return config.Database{Driver: "sqlite", WriterDSN: ":memory:", ReaderDSN: ":memory:"}
}

func TestOpenPool_SQLiteWriterIsSerial(t *testing.T) {
	cfg := sqliteConfig()
	hook, err := newQueryHook(0, zap.NewNop())
	require.NoError(t, err)
	dial, err := selectDialect(cfg.Driver)
	require.NoError(t, err)

	db, err := openPool("writer", cfg, cfg.WriterDSN, dial, hook)
	require.NoError(t, err)
	conns := &Connections{Writer: db, Reader: db}
	t.Cleanup(func() { _ = conns.Close() })

	require.NoError(t, conns.ping(context.Background()))
	assert.Equal(t, 1, db.DB.Stats().MaxOpenConnections)
}

func TestQueryHook_WarnsOnSlowQueries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	hook, err := newQueryHook(time.Nanosecond, zap.New(core))
	require.NoError(t, err)

	cfg := sqliteConfig()
	dial, err := selectDialect(cfg.Driver)
	require.NoError(t, err)
	db, err := openPool("writer", cfg, cfg.WriterDSN, dial, hook)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(context.Background(), "SELECT 1")
	require.NoError(t, err)

	require.NotZero(t, logs.FilterMessage("slow ledger query").Len())
}

func TestSelectDialect_RejectsUnknownDriver(t *testing.T) {
	_, err := selectDialect("oracle")
	assert.Error(t, err)

	_, err = openSQLDB("sqlite", "")
	assert.Error(t, err)
}
