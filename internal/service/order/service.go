package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/clock"
	"github.com/Additional-Code/bazaar/internal/config"
	"github.com/Additional-Code/bazaar/internal/entity"
	"github.com/Additional-Code/bazaar/internal/journal"
	"github.com/Additional-Code/bazaar/internal/ledger"
	"github.com/Additional-Code/bazaar/internal/messaging"
	repo "github.com/Additional-Code/bazaar/internal/repository/order"
	"github.com/Additional-Code/bazaar/pkg/errorbank"
)

var (
	serviceTracer = otel.Tracer("github.com/Additional-Code/bazaar/service/order")
	serviceMeter  = otel.Meter("github.com/Additional-Code/bazaar/service/order")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Authorizer grants elevated collect rights outside of ownership and trust.
type Authorizer interface {
	HasElevatedAccess(ctx context.Context, id uuid.UUID) bool
}

// SaveRequester schedules a debounced snapshot write.
type SaveRequester interface {
	RequestSave(ctx context.Context) bool
}

// Journal records payouts that could not be credited.
type Journal interface {
	Record(e journal.Entry) (journal.Entry, error)
}

// Service is the fulfillment engine: every mutation of an order goes through it.
type Service struct {
	repo      *repo.Repository
	ledger    ledger.Service
	access    Authorizer
	saver     SaveRequester
	journal   Journal
	publisher messaging.Client
	clock     clock.Clock
	logger    *zap.Logger
	settings  settings
	metrics   serviceMetrics
}

type settings struct {
	retention       time.Duration
	maxBatch        int64
	listingFee      float64
	maxActiveOrders int
	creditTimeout   time.Duration
	publish         bool
}

type serviceMetrics struct {
	created        metric.Int64Counter
	delivered      metric.Int64Counter
	payout         metric.Float64Counter
	creditFailures metric.Int64Counter
	expired        metric.Int64Counter
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Ledger     ledger.Service
	Access     Authorizer
	Saver      SaveRequester
	Journal    Journal `optional:"true"`
	Publisher  messaging.Client
	Clock      clock.Clock
	Config     config.Config
	Logger     *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		repo:      p.Repository,
		ledger:    p.Ledger,
		access:    p.Access,
		saver:     p.Saver,
		journal:   p.Journal,
		publisher: p.Publisher,
		clock:     clk,
		logger:    logger,
		settings: settings{
			retention:       p.Config.Ledger.RetentionPeriod,
			maxBatch:        p.Config.Ledger.MaxBatchSize,
			listingFee:      p.Config.Ledger.ListingFee,
			maxActiveOrders: p.Config.Ledger.MaxActiveOrders,
			creditTimeout:   p.Config.Ledger.CreditTimeout,
			publish:         p.Config.Messaging.Enabled && p.Publisher != nil,
		},
		metrics: newServiceMetrics(logger),
	}
}

func newServiceMetrics(logger *zap.Logger) serviceMetrics {
	var m serviceMetrics
	var errs []error
	var err error

	m.created, err = serviceMeter.Int64Counter("ledger.orders.created", metric.WithDescription("Orders created"))
	errs = append(errs, err)
	m.delivered, err = serviceMeter.Int64Counter("ledger.units.delivered", metric.WithDescription("Units accepted by deliveries"))
	errs = append(errs, err)
	m.payout, err = serviceMeter.Float64Counter("ledger.payout", metric.WithDescription("Currency credited to deliverers"))
	errs = append(errs, err)
	m.creditFailures, err = serviceMeter.Int64Counter("ledger.credit.failures", metric.WithDescription("Payout credits that failed"))
	errs = append(errs, err)
	m.expired, err = serviceMeter.Int64Counter("ledger.orders.expired", metric.WithDescription("Completed orders removed by the sweep"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		logger.Warn("order metrics partially unavailable", zap.Error(err))
	}
	return m
}

// CreateInput carries a fully formed create request.
type CreateInput struct {
	Owner        uuid.UUID
	OwnerName    string
	ResourceType string
	Quantity     int64
	TotalPrice   float64
}

// Create escrows the total price plus listing fee from the owner and opens the order.
func (s *Service) Create(ctx context.Context, in CreateInput) (entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(
		attribute.String("order.resource_type", in.ResourceType),
		attribute.Int64("order.quantity", in.Quantity),
	))
	defer span.End()

	in.ResourceType = strings.TrimSpace(in.ResourceType)
	switch {
	case in.Owner == uuid.Nil:
		return entity.Order{}, ErrInvalidInput.Wrap(errorbank.WithDetail("field", "owner"))
	case in.ResourceType == "":
		return entity.Order{}, ErrInvalidInput.Wrap(errorbank.WithDetail("field", "resourceType"))
	case in.Quantity <= 0:
		return entity.Order{}, ErrInvalidInput.Wrap(errorbank.WithDetail("field", "quantity"))
	case !(in.TotalPrice > 0) || math.IsInf(in.TotalPrice, 0):
		return entity.Order{}, ErrInvalidInput.Wrap(errorbank.WithDetail("field", "totalPrice"))
	}

	if limit := s.settings.maxActiveOrders; limit >= 0 && s.repo.CountActive(in.Owner) >= limit {
		return entity.Order{}, ErrOrderLimit.Wrap(errorbank.WithDetail("limit", limit))
	}

	cost := in.TotalPrice + s.settings.listingFee
	if err := s.withdraw(ctx, in.Owner, cost); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "escrow failed")
		return entity.Order{}, err
	}

	order := s.repo.Create(ctx, repo.NewOrder{
		Owner:        in.Owner,
		OwnerName:    in.OwnerName,
		ResourceType: in.ResourceType,
		Quantity:     in.Quantity,
		PricePerUnit: in.TotalPrice / float64(in.Quantity),
		CreatedAt:    s.clock.Now(),
	})
	span.SetAttributes(attribute.Int64("order.id", order.ID))

	s.add(ctx, s.metrics.created, 1)
	s.requestSave(ctx)
	s.publish(ctx, EventOrderCreated, order.ID, OrderCreatedEvent{
		ID:           order.ID,
		Owner:        order.Owner,
		OwnerName:    order.OwnerName,
		ResourceType: order.ResourceType,
		Quantity:     order.TotalQuantity,
		PricePerUnit: order.PricePerUnit,
		TotalEscrow:  order.TotalEscrow,
		CreatedAt:    order.CreatedAt,
	})
	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Stringer("owner", order.Owner),
		zap.String("resource_type", order.ResourceType),
		zap.Int64("quantity", order.TotalQuantity),
		zap.Float64("price_per_unit", order.PricePerUnit))
	return order, nil
}

func (s *Service) withdraw(ctx context.Context, owner uuid.UUID, cost float64) error {
	callCtx, cancel := s.ledgerContext(ctx)
	defer cancel()

	ok, err := s.ledger.HasFunds(callCtx, owner, cost)
	if err != nil {
		return ErrExternalServiceFailure.Wrap(errorbank.WithCause(err))
	}
	if !ok {
		return ErrInsufficientFunds.Wrap(errorbank.WithDetail("required", cost))
	}
	if err := s.ledger.Debit(callCtx, owner, cost); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return ErrInsufficientFunds.Wrap(errorbank.WithDetail("required", cost))
		}
		return ErrExternalServiceFailure.Wrap(errorbank.WithCause(err))
	}
	return nil
}

// DeliveryResult describes an accepted delivery.
type DeliveryResult struct {
	Delivered int64
	Payout    float64
	Remaining int64
	Completed bool
}

// Deliver accepts up to proposed units, pays the deliverer and stores the units for the
// owner. The credit happens under the order lock before any accounting changes; if it
// fails the order is left untouched.
func (s *Service) Deliver(ctx context.Context, deliverer uuid.UUID, id int64, proposed int64) (DeliveryResult, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Deliver", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int64("delivery.proposed", proposed),
	))
	defer span.End()

	var (
		result      DeliveryResult
		completed   entity.Order
		completedAt time.Time
		creditErr   error
	)
	err := s.repo.Update(id, func(o *entity.Order) error {
		if o.Status != entity.StatusActive {
			return ErrOrderInactive.Wrap(errorbank.WithDetail("order_id", id))
		}
		actual := min(o.RemainingQuantity, proposed)
		if actual <= 0 {
			return ErrNothingToDeliver.Wrap(errorbank.WithDetail("order_id", id))
		}
		payout := float64(actual) * o.PricePerUnit

		callCtx, cancel := s.ledgerContext(ctx)
		defer cancel()
		if err := s.ledger.Credit(callCtx, deliverer, payout); err != nil {
			creditErr = err
			result = DeliveryResult{Delivered: actual, Payout: payout}
			return ErrExternalServiceFailure.Wrap(errorbank.WithCause(err), errorbank.WithDetail("order_id", id))
		}

		o.RemainingQuantity -= actual
		o.TotalPaid += payout
		o.StoreUnits(actual, s.settings.maxBatch)
		result = DeliveryResult{Delivered: actual, Payout: payout, Remaining: o.RemainingQuantity}
		if o.RemainingQuantity == 0 {
			completedAt = s.clock.Now()
			if s.complete(o, completedAt) {
				result.Completed = true
				completed = o.Clone()
			}
		}
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) {
		return DeliveryResult{}, ErrNotFound.Wrap(errorbank.WithDetail("order_id", id))
	}
	if creditErr != nil {
		s.recordCreditFailure(ctx, id, deliverer, result, creditErr)
		span.RecordError(creditErr)
		span.SetStatus(codes.Error, "credit failed")
		return DeliveryResult{}, err
	}
	if err != nil {
		return DeliveryResult{}, err
	}

	span.SetAttributes(attribute.Int64("delivery.accepted", result.Delivered), attribute.Bool("order.completed", result.Completed))
	s.add(ctx, s.metrics.delivered, result.Delivered)
	if s.metrics.payout != nil {
		s.metrics.payout.Add(ctx, result.Payout)
	}
	s.requestSave(ctx)
	s.publish(ctx, EventOrderDelivered, id, OrderDeliveredEvent{
		ID:        id,
		Deliverer: deliverer,
		Delivered: result.Delivered,
		Payout:    result.Payout,
		Remaining: result.Remaining,
	})
	if result.Completed {
		s.logger.Info("order completed", zap.Int64("order_id", id), zap.Float64("total_paid", completed.TotalPaid))
		s.publish(ctx, EventOrderCompleted, id, OrderCompletedEvent{
			ID:            completed.ID,
			Owner:         completed.Owner,
			OwnerName:     completed.OwnerName,
			ResourceType:  completed.ResourceType,
			TotalQuantity: completed.TotalQuantity,
			TotalEscrow:   completed.TotalEscrow,
			TotalPaid:     completed.TotalPaid,
			CompletedAt:   completedAt,
			ExpiresAt:     completed.ExpiresAt,
		})
	}
	return result, nil
}

// complete marks an active order COMPLETED and starts its retention window. It reports
// false when the order was already completed.
func (s *Service) complete(o *entity.Order, now time.Time) bool {
	if o.Status != entity.StatusActive {
		return false
	}
	o.Status = entity.StatusCompleted
	o.ExpiresAt = entity.Timestamp(now.Add(s.settings.retention))
	return true
}

func (s *Service) recordCreditFailure(ctx context.Context, id int64, deliverer uuid.UUID, attempt DeliveryResult, cause error) {
	s.add(ctx, s.metrics.creditFailures, 1)
	s.logger.Error("payout credit failed; order left unchanged",
		zap.Int64("order_id", id),
		zap.Stringer("deliverer", deliverer),
		zap.Int64("quantity", attempt.Delivered),
		zap.Float64("amount", attempt.Payout),
		zap.Error(cause))

	event := CreditFailedEvent{
		OrderID:   id,
		Deliverer: deliverer,
		Quantity:  attempt.Delivered,
		Amount:    attempt.Payout,
		Reason:    cause.Error(),
	}
	if s.journal != nil {
		entry, err := s.journal.Record(journal.Entry{
			OrderID:    id,
			Deliverer:  deliverer,
			Quantity:   attempt.Delivered,
			Amount:     attempt.Payout,
			Reason:     cause.Error(),
			RecordedAt: s.clock.Now(),
		})
		if err != nil {
			s.logger.Error("journal credit failure", zap.Int64("order_id", id), zap.Error(err))
		}
		event.JournalSeq = entry.Seq
	}
	s.publish(ctx, EventCreditFailed, id, event)
}

// Range selects stored batches by position. A Limit <= 0 means through the end.
type Range struct {
	Offset int
	Limit  int
}

// Collect removes the selected stored batches and hands them to the collector.
func (s *Service) Collect(ctx context.Context, collector uuid.UUID, id int64, r Range) ([]entity.Batch, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Collect", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	elevated := s.elevated(ctx, collector)

	var taken []entity.Batch
	err := s.repo.Update(id, func(o *entity.Order) error {
		if !mayCollect(o, collector, elevated) {
			return ErrUnauthorized.Wrap(errorbank.WithDetail("order_id", id))
		}
		taken = o.TakeUnits(r.Offset, r.Limit)
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound.Wrap(errorbank.WithDetail("order_id", id))
	}
	if err != nil {
		return nil, err
	}

	if len(taken) > 0 {
		s.requestSave(ctx)
	}
	span.SetAttributes(attribute.Int("collect.batches", len(taken)))
	return taken, nil
}

// CanCollect reports whether identity may collect from the order.
func (s *Service) CanCollect(ctx context.Context, identity uuid.UUID, id int64) (bool, error) {
	elevated := s.elevated(ctx, identity)

	var allowed bool
	err := s.repo.Update(id, func(o *entity.Order) error {
		allowed = mayCollect(o, identity, elevated)
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) {
		return false, ErrNotFound.Wrap(errorbank.WithDetail("order_id", id))
	}
	return allowed, err
}

func mayCollect(o *entity.Order, identity uuid.UUID, elevated bool) bool {
	return elevated || o.Owner == identity || o.IsTrusted(identity)
}

func (s *Service) elevated(ctx context.Context, identity uuid.UUID) bool {
	return s.access != nil && s.access.HasElevatedAccess(ctx, identity)
}

// Trust lets identity collect from one order. Only the owner may grant trust.
func (s *Service) Trust(ctx context.Context, requester uuid.UUID, id int64, identity uuid.UUID) error {
	if identity == uuid.Nil {
		return ErrInvalidInput.Wrap(errorbank.WithDetail("field", "identity"))
	}

	var added bool
	err := s.repo.Update(id, func(o *entity.Order) error {
		if o.Owner != requester {
			return ErrUnauthorized.Wrap(errorbank.WithDetail("order_id", id))
		}
		added = o.Trust(identity)
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound.Wrap(errorbank.WithDetail("order_id", id))
	}
	if err != nil {
		return err
	}
	if added {
		s.requestSave(ctx)
	}
	return nil
}

// TrustAll trusts identity on every order owned by owner and returns how many orders
// now trust it.
func (s *Service) TrustAll(ctx context.Context, owner uuid.UUID, identity uuid.UUID) (int, error) {
	if identity == uuid.Nil {
		return 0, ErrInvalidInput.Wrap(errorbank.WithDetail("field", "identity"))
	}

	owned := s.repo.List(repo.Filter{Owner: owner})
	if len(owned) == 0 {
		return 0, ErrNotFound.Wrap(errorbank.WithDetail("owner", owner.String()))
	}

	var count, added int
	for _, o := range owned {
		err := s.repo.Update(o.ID, func(live *entity.Order) error {
			if live.Trust(identity) {
				added++
			}
			return nil
		})
		if err == nil {
			count++
		}
	}
	if added > 0 {
		s.requestSave(ctx)
	}
	return count, nil
}

// Get returns a copy of one order.
func (s *Service) Get(ctx context.Context, id int64) (entity.Order, error) {
	_, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	o, ok := s.repo.Get(id)
	if !ok {
		return entity.Order{}, ErrNotFound.Wrap(errorbank.WithDetail("order_id", id))
	}
	return o, nil
}

// ListQuery filters and pages List.
type ListQuery struct {
	Filter   repo.Filter
	Page     int
	PageSize int
}

// ListResult is one page of orders, newest first.
type ListResult struct {
	Orders   []entity.Order
	Total    int
	Page     int
	PageSize int
}

// List returns a page of matching orders.
func (s *Service) List(ctx context.Context, q ListQuery) ListResult {
	_, span := serviceTracer.Start(ctx, "OrderService.List")
	defer span.End()

	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)

	all := s.repo.List(q.Filter)
	res := ListResult{Total: len(all), Page: page, PageSize: size}
	if page-1 < (len(all)+size-1)/size {
		start := (page - 1) * size
		res.Orders = all[start:min(start+size, len(all))]
	}
	return res
}

// Sweep removes completed orders past their retention window.
func (s *Service) Sweep(ctx context.Context) []int64 {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Sweep")
	defer span.End()

	removed := s.repo.RemoveExpired(s.clock.Now())
	span.SetAttributes(attribute.Int("sweep.removed", len(removed)))
	if len(removed) > 0 {
		s.add(ctx, s.metrics.expired, int64(len(removed)))
		s.logger.Info("expired orders removed", zap.Int64s("order_ids", removed))
	}
	return removed
}

func (s *Service) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// an in-flight payout must not be abandoned because the caller went away
	ctx = context.WithoutCancel(ctx)
	if s.settings.creditTimeout > 0 {
		return context.WithTimeout(ctx, s.settings.creditTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) requestSave(ctx context.Context) {
	if s.saver != nil {
		s.saver.RequestSave(ctx)
	}
}

func (s *Service) add(ctx context.Context, counter metric.Int64Counter, n int64) {
	if counter != nil {
		counter.Add(ctx, n)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, id int64, event any) {
	if !s.settings.publish {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, eventType, []byte(fmt.Sprintf("order-%d", id)), payload); err != nil {
		s.logger.Error("publish event", zap.String("event_type", eventType), zap.Int64("order_id", id), zap.Error(err))
	}
}
