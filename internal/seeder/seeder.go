package seeder

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/repository/account"
)

// Module provides the seeder for CLI commands.
var Module = fx.Provide(New)

// Seeder opens demo ledger accounts for local/dev setups.
type Seeder struct {
	accounts *account.Repository
	logger   *zap.Logger
}

// New constructs a Seeder backed by the account repository.
func New(accounts *account.Repository, logger *zap.Logger) *Seeder {
	return &Seeder{accounts: accounts, logger: logger}
}

// Accounts opens each account with the given balance, skipping ones that already exist.
func (s *Seeder) Accounts(ctx context.Context, ids []uuid.UUID, balance float64) (int, error) {
	opened := 0
	for _, id := range ids {
		ok, err := s.accounts.Open(ctx, id, balance)
		if err != nil {
			return opened, err
		}
		if ok {
			opened++
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded accounts",
			zap.Int("requested", len(ids)),
			zap.Int("opened", opened),
			zap.Float64("balance", balance),
		)
	}
	return opened, nil
}
