package journal

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/config"
)

// Module provides the reconciliation journal.
var Module = fx.Provide(New)

// New opens the journal under the configured directory and closes it on shutdown.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Journal, error) {
	j, err := Open(cfg.Ledger.JournalDir)
	if err != nil {
		return nil, err
	}
	logger.Info("reconciliation journal opened", zap.String("dir", cfg.Ledger.JournalDir))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return j.Close()
		},
	})
	return j, nil
}
