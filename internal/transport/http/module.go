package http

import (
	"go.uber.org/fx"

	accesstransport "github.com/Additional-Code/bazaar/internal/transport/http/access"
	ordertransport "github.com/Additional-Code/bazaar/internal/transport/http/order"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	accesstransport.Module,
)
