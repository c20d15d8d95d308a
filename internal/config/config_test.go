package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LedgerDefaults(t *testing.T) {
	t.Setenv("LEDGER_DATA_DIR", "/var/lib/bazaar")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 7*24*time.Hour, cfg.Ledger.RetentionPeriod)
	assert.Equal(t, int64(64), cfg.Ledger.MaxBatchSize)
	assert.Equal(t, 1000.0, cfg.Ledger.ListingFee)
	assert.Equal(t, -1, cfg.Ledger.MaxActiveOrders)
	assert.Equal(t, filepath.Join("/var/lib/bazaar", "journal"), cfg.Ledger.JournalDir)
	assert.Equal(t, filepath.Join("/var/lib/bazaar", "orders.yml"), cfg.Ledger.SnapshotPath())
}

func TestNew_LedgerOverrides(t *testing.T) {
	t.Setenv("LEDGER_RETENTION", "2h")
	t.Setenv("LEDGER_LISTING_FEE", "12.5")
	t.Setenv("LEDGER_MAX_ACTIVE_ORDERS", "3")
	t.Setenv("ACCESS_ELEVATED_COLLECTORS", " a , b ,")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Ledger.RetentionPeriod)
	assert.Equal(t, 12.5, cfg.Ledger.ListingFee)
	assert.Equal(t, 3, cfg.Ledger.MaxActiveOrders)
	assert.Equal(t, []string{"a", "b"}, cfg.Access.ElevatedCollectors)
}

func TestNew_RejectsInvalidBatchSize(t *testing.T) {
	t.Setenv("LEDGER_MAX_BATCH_SIZE", "0")

	_, err := New()
	assert.Error(t, err)
}

func TestNew_AmbientToggles(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 1.0, cfg.Observability.TraceSampling)

	t.Setenv("DB_AUTO_MIGRATE", "true")
	t.Setenv("OBS_TRACE_SAMPLE_RATIO", "0.25")

	cfg, err = New()
	require.NoError(t, err)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 0.25, cfg.Observability.TraceSampling)
}
