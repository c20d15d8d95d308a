package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/bazaar/internal/access"
	"github.com/Additional-Code/bazaar/internal/cache"
	"github.com/Additional-Code/bazaar/internal/clock"
	"github.com/Additional-Code/bazaar/internal/config"
	"github.com/Additional-Code/bazaar/internal/database"
	"github.com/Additional-Code/bazaar/internal/journal"
	"github.com/Additional-Code/bazaar/internal/logger"
	"github.com/Additional-Code/bazaar/internal/messaging"
	"github.com/Additional-Code/bazaar/internal/migration"
	"github.com/Additional-Code/bazaar/internal/observability"
	repositoryaccount "github.com/Additional-Code/bazaar/internal/repository/account"
	repositoryorder "github.com/Additional-Code/bazaar/internal/repository/order"
	"github.com/Additional-Code/bazaar/internal/scheduler"
	grpcserver "github.com/Additional-Code/bazaar/internal/server/grpc"
	httpserver "github.com/Additional-Code/bazaar/internal/server/http"
	serviceorder "github.com/Additional-Code/bazaar/internal/service/order"
	"github.com/Additional-Code/bazaar/internal/snapshot"
	transporthttp "github.com/Additional-Code/bazaar/internal/transport/http"
	"github.com/Additional-Code/bazaar/internal/worker"
	workerorder "github.com/Additional-Code/bazaar/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	logger.Module,
	clock.Module,
	observability.Module,
	cache.Module,
	database.Module,
	messaging.Module,
)

// Ledger is the order ledger itself: store, persistence, and the fulfillment engine.
var Ledger = fx.Options(
	Core,
	repositoryorder.Module,
	repositoryaccount.Module,
	access.Module,
	journal.Module,
	snapshot.Module,
	serviceorder.Module,
)

// HTTP wires the transports on top of the ledger. Module order matters: Fx starts
// hooks in registration order and stops them in reverse, so the engine and its
// dependencies are built first, the snapshot restore runs before the servers
// listen, and the final save runs after they stop.
var HTTP = fx.Options(
	Ledger,
	fx.Module("ledger_engine", fx.Invoke(func(*serviceorder.Service) {})),
	migration.AutoMigrate,
	snapshot.Lifecycle,
	grpcserver.Module,
	httpserver.Module,
	transporthttp.Module,
	fx.Provide(
		func(s *serviceorder.Service) scheduler.Sweeper { return s },
		func(p *snapshot.Persister) scheduler.SaveRequester { return p },
	),
	scheduler.Module,
)

// Worker consumes ledger events. It does not open the order store or the journal.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring.
var Module = HTTP
