package order

import (
	"github.com/Additional-Code/bazaar/internal/snapshot"
	"github.com/Additional-Code/bazaar/pkg/errorbank"
)

// Domain failures. Match with errors.Is; derived errors carry details and causes.
var (
	ErrOrderInactive          = errorbank.Conflict("order is no longer active", errorbank.WithCode("order_inactive"))
	ErrNothingToDeliver       = errorbank.Unprocessable("nothing left to deliver", errorbank.WithCode("nothing_to_deliver"))
	ErrNotFound               = errorbank.NotFound("order not found")
	ErrUnauthorized           = errorbank.Forbidden("not allowed to act on this order", errorbank.WithCode("unauthorized"))
	ErrPersistenceFailure     = snapshot.ErrPersistenceFailure
	ErrExternalServiceFailure = errorbank.Unavailable("currency service call failed", errorbank.WithCode("external_service_failure"))
	ErrInsufficientFunds      = errorbank.Unprocessable("insufficient funds", errorbank.WithCode("insufficient_funds"))
	ErrInvalidInput           = errorbank.BadRequest("invalid input", errorbank.WithCode("invalid_input"))
	ErrOrderLimit             = errorbank.Conflict("active order limit reached", errorbank.WithCode("order_limit"))
)
