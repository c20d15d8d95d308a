// Package ledger defines the currency service the order ledger escrows and pays out through.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientFunds is returned by Debit when the account cannot cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for non-positive or non-finite amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Service is the external currency ledger. Calls are synchronous and authoritative;
// callers bound them with a context deadline and never retry.
//
//go:generate mockgen -source=ledger.go -destination=mock/ledger.go -package=mock
type Service interface {
	HasFunds(ctx context.Context, account uuid.UUID, amount float64) (bool, error)
	Debit(ctx context.Context, account uuid.UUID, amount float64) error
	Credit(ctx context.Context, account uuid.UUID, amount float64) error
}
