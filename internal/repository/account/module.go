package account

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/bazaar/internal/ledger"
)

// Module provides the account repository and exposes it as the currency ledger.
var Module = fx.Provide(
	NewRepository,
	func(r *Repository) ledger.Service { return r },
)
