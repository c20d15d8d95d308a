package snapshot

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/config"
	orderrepo "github.com/Additional-Code/bazaar/internal/repository/order"
)

// Module provides the persister.
var Module = fx.Provide(New)

// Lifecycle restores the store on start and writes a final snapshot on stop. List it
// before any server module so requests are only accepted once orders are restored.
var Lifecycle = fx.Module("snapshot_lifecycle", fx.Invoke(Register))

// New builds the persister for the configured snapshot path.
func New(repo *orderrepo.Repository, cfg config.Config, logger *zap.Logger) *Persister {
	return NewPersister(repo, cfg.Ledger.SnapshotPath(), logger.Named("snapshot"))
}

// Register hooks restore and final save into the application lifecycle.
func Register(lc fx.Lifecycle, p *Persister) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := p.RestoreAll(ctx)
			return err
		},
		OnStop: func(ctx context.Context) error {
			p.Wait()
			return p.SaveNow(ctx)
		},
	})
}
