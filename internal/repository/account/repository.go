package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bazaar/internal/database"
	"github.com/Additional-Code/bazaar/internal/entity"
	"github.com/Additional-Code/bazaar/internal/ledger"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/bazaar/repository/account")

// ErrNotFound is returned when an account does not exist.
var ErrNotFound = errors.New("account not found")

// Repository implements ledger.Service on top of the accounts table.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
	now    func() time.Time
}

var _ ledger.Service = (*Repository)(nil)

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Balance returns the current balance of an account.
func (r *Repository) Balance(ctx context.Context, id uuid.UUID) (float64, error) {
	ctx, span := repoTracer.Start(ctx, "AccountRepository.Balance", trace.WithAttributes(attribute.String("account.id", id.String())))
	defer span.End()

	acc := new(entity.Account)
	err := r.reader.NewSelect().Model(acc).Where("id = ?", id.String()).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return 0, err
	}
	return acc.Balance, nil
}

// HasFunds reports whether the account balance covers amount. Unknown accounts have no funds.
func (r *Repository) HasFunds(ctx context.Context, id uuid.UUID, amount float64) (bool, error) {
	if err := validAmount(amount); err != nil {
		return false, err
	}
	balance, err := r.Balance(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// Debit withdraws amount in a single conditional update so concurrent debits cannot overdraw.
func (r *Repository) Debit(ctx context.Context, id uuid.UUID, amount float64) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	ctx, span := repoTracer.Start(ctx, "AccountRepository.Debit", trace.WithAttributes(
		attribute.String("account.id", id.String()),
		attribute.Float64("amount", amount),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().
		Model((*entity.Account)(nil)).
		Set("balance = balance - ?", amount).
		Set("updated_at = ?", r.now()).
		Where("id = ?", id.String()).
		Where("balance >= ?", amount).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return fmt.Errorf("debit account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		span.SetStatus(codes.Error, "insufficient funds")
		return ledger.ErrInsufficientFunds
	}
	return nil
}

// Credit deposits amount, opening the account when it does not exist yet.
func (r *Repository) Credit(ctx context.Context, id uuid.UUID, amount float64) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	ctx, span := repoTracer.Start(ctx, "AccountRepository.Credit", trace.WithAttributes(
		attribute.String("account.id", id.String()),
		attribute.Float64("amount", amount),
	))
	defer span.End()

	now := r.now()
	q := r.writer.NewInsert().Model(&entity.Account{
		ID:        id.String(),
		Balance:   amount,
		CreatedAt: now,
		UpdatedAt: now,
	})
	// Single upsert: concurrent first credits to a new account must all land.
	if r.writer.Dialect().Name() == dialect.MySQL {
		q = q.On("DUPLICATE KEY UPDATE").
			Set("balance = balance + VALUES(balance)").
			Set("updated_at = VALUES(updated_at)")
	} else {
		q = q.On("CONFLICT (id) DO UPDATE").
			Set("balance = ?TableAlias.balance + EXCLUDED.balance").
			Set("updated_at = EXCLUDED.updated_at")
	}
	_, err := q.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit failed")
		return fmt.Errorf("credit account: %w", err)
	}
	return nil
}

// Open creates an account with an opening balance, leaving existing accounts untouched.
func (r *Repository) Open(ctx context.Context, id uuid.UUID, balance float64) (bool, error) {
	if _, err := r.Balance(ctx, id); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	now := r.now()
	_, err := r.writer.NewInsert().Model(&entity.Account{
		ID:        id.String(),
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("open account: %w", err)
	}
	return true, nil
}

func validAmount(amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ledger.ErrInvalidAmount
	}
	return nil
}
