package order

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/bazaar/internal/access"
	"github.com/Additional-Code/bazaar/internal/journal"
	"github.com/Additional-Code/bazaar/internal/snapshot"
)

// Module provides the fulfillment engine and binds its collaborators.
var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(
		func(g *access.Grants) Authorizer { return g },
		func(p *snapshot.Persister) SaveRequester { return p },
		func(j *journal.Journal) Journal { return j },
	),
)
