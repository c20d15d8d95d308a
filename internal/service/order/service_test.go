package order

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/Additional-Code/bazaar/internal/clock"
	"github.com/Additional-Code/bazaar/internal/config"
	"github.com/Additional-Code/bazaar/internal/entity"
	"github.com/Additional-Code/bazaar/internal/journal"
	"github.com/Additional-Code/bazaar/internal/ledger"
	ledgermock "github.com/Additional-Code/bazaar/internal/ledger/mock"
	"github.com/Additional-Code/bazaar/internal/messaging"
	repo "github.com/Additional-Code/bazaar/internal/repository/order"
)

var start = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type countingSaver struct{ calls atomic.Int32 }

func (c *countingSaver) RequestSave(context.Context) bool {
	c.calls.Add(1)
	return true
}

type published struct {
	eventType string
	payload   []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{eventType: eventType, payload: value})
	return nil
}

func (r *recordingPublisher) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *recordingPublisher) Topic() string { return "test" }

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.eventType
	}
	return out
}

type staticAccess map[uuid.UUID]bool

func (s staticAccess) HasElevatedAccess(_ context.Context, id uuid.UUID) bool { return s[id] }

type memoryJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memoryJournal) Record(e journal.Entry) (journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Seq = uint64(len(m.entries) + 1)
	e.State = journal.StatePending
	m.entries = append(m.entries, e)
	return e, nil
}

type harness struct {
	svc       *Service
	repo      *repo.Repository
	ledger    *ledgermock.MockService
	saver     *countingSaver
	publisher *recordingPublisher
	journal   *memoryJournal
	clock     *clock.Manual
	access    staticAccess
}

func newHarness(t *testing.T, tweak ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Config{
		Messaging: config.Messaging{Enabled: true},
		Ledger: config.Ledger{
			RetentionPeriod: time.Hour,
			MaxBatchSize:    64,
			MaxActiveOrders: -1,
			CreditTimeout:   time.Second,
		},
	}
	for _, fn := range tweak {
		fn(&cfg)
	}

	h := &harness{
		repo:      repo.NewRepository(),
		ledger:    ledgermock.NewMockService(gomock.NewController(t)),
		saver:     &countingSaver{},
		publisher: &recordingPublisher{},
		journal:   &memoryJournal{},
		clock:     clock.NewManual(start),
		access:    staticAccess{},
	}
	h.svc = NewService(Params{
		Repository: h.repo,
		Ledger:     h.ledger,
		Access:     h.access,
		Saver:      h.saver,
		Journal:    h.journal,
		Publisher:  h.publisher,
		Clock:      h.clock,
		Config:     cfg,
		Logger:     zap.NewNop(),
	})
	return h
}

// seed creates an order directly in the store, bypassing escrow.
func (h *harness) seed(owner uuid.UUID, quantity int64, price float64) entity.Order {
	return h.repo.Create(context.Background(), repo.NewOrder{
		Owner:        owner,
		OwnerName:    "owner",
		ResourceType: "OAK_LOG",
		Quantity:     quantity,
		PricePerUnit: price,
		CreatedAt:    h.clock.Now(),
	})
}

func TestService_CreateEscrowsPriceAndFee(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Ledger.ListingFee = 2 })
	owner := uuid.New()

	gomock.InOrder(
		h.ledger.EXPECT().HasFunds(gomock.Any(), owner, 502.0).Return(true, nil),
		h.ledger.EXPECT().Debit(gomock.Any(), owner, 502.0).Return(nil),
	)

	o, err := h.svc.Create(context.Background(), CreateInput{
		Owner: owner, OwnerName: "alice", ResourceType: " OAK_LOG ", Quantity: 100, TotalPrice: 500,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), o.ID)
	assert.Equal(t, "OAK_LOG", o.ResourceType)
	assert.Equal(t, 5.0, o.PricePerUnit)
	assert.Equal(t, 500.0, o.TotalEscrow)
	assert.Equal(t, start, o.CreatedAt)
	assert.Equal(t, int32(1), h.saver.calls.Load())
	assert.Equal(t, []string{EventOrderCreated}, h.publisher.types())
}

func TestService_CreateRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"nil owner", CreateInput{ResourceType: "SAND", Quantity: 1, TotalPrice: 1}},
		{"blank resource", CreateInput{Owner: owner, ResourceType: "  ", Quantity: 1, TotalPrice: 1}},
		{"zero quantity", CreateInput{Owner: owner, ResourceType: "SAND", TotalPrice: 1}},
		{"negative price", CreateInput{Owner: owner, ResourceType: "SAND", Quantity: 1, TotalPrice: -3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Create(context.Background(), tt.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Zero(t, h.repo.Len())
}

func TestService_CreateInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	h.ledger.EXPECT().HasFunds(gomock.Any(), owner, 10.0).Return(false, nil)

	_, err := h.svc.Create(context.Background(), CreateInput{Owner: owner, ResourceType: "SAND", Quantity: 1, TotalPrice: 10})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Zero(t, h.repo.Len())
}

func TestService_CreateDebitRace(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	h.ledger.EXPECT().HasFunds(gomock.Any(), owner, 10.0).Return(true, nil)
	h.ledger.EXPECT().Debit(gomock.Any(), owner, 10.0).Return(ledger.ErrInsufficientFunds)

	_, err := h.svc.Create(context.Background(), CreateInput{Owner: owner, ResourceType: "SAND", Quantity: 1, TotalPrice: 10})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Zero(t, h.repo.Len())
}

func TestService_CreateOrderLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Ledger.MaxActiveOrders = 1 })
	owner := uuid.New()
	h.seed(owner, 5, 1)

	_, err := h.svc.Create(context.Background(), CreateInput{Owner: owner, ResourceType: "SAND", Quantity: 1, TotalPrice: 1})
	assert.ErrorIs(t, err, ErrOrderLimit)
}

func TestService_DeliverConcurrentOverfill(t *testing.T) {
	h := newHarness(t)
	o := h.seed(uuid.New(), 100, 5)
	h.ledger.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)

	var wg sync.WaitGroup
	results := make([]DeliveryResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Deliver(context.Background(), uuid.New(), o.ID, 60)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.ElementsMatch(t, []int64{60, 40}, []int64{results[0].Delivered, results[1].Delivered})
	assert.True(t, results[0].Completed != results[1].Completed, "exactly one delivery completes the order")

	final, ok := h.repo.Get(o.ID)
	require.True(t, ok)
	assert.Zero(t, final.RemainingQuantity)
	assert.Equal(t, entity.StatusCompleted, final.Status)
	assert.Equal(t, 500.0, final.TotalPaid)
	assert.Equal(t, int64(100), final.StoredCount())
	assert.Equal(t, start.Add(time.Hour), final.ExpiresAt)

	types := h.publisher.types()
	assert.Equal(t, 1, count(types, EventOrderCompleted))
	assert.Equal(t, 2, count(types, EventOrderDelivered))
}

func TestService_DeliverAfterCompletion(t *testing.T) {
	h := newHarness(t)
	o := h.seed(uuid.New(), 3, 2)
	h.ledger.EXPECT().Credit(gomock.Any(), gomock.Any(), 6.0).Return(nil)

	res, err := h.svc.Deliver(context.Background(), uuid.New(), o.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, DeliveryResult{Delivered: 3, Payout: 6, Remaining: 0, Completed: true}, res)

	_, err = h.svc.Deliver(context.Background(), uuid.New(), o.ID, 1)
	assert.ErrorIs(t, err, ErrOrderInactive)
}

func TestService_DeliverNothing(t *testing.T) {
	h := newHarness(t)
	o := h.seed(uuid.New(), 3, 2)

	_, err := h.svc.Deliver(context.Background(), uuid.New(), o.ID, 0)
	assert.ErrorIs(t, err, ErrNothingToDeliver)

	_, err = h.svc.Deliver(context.Background(), uuid.New(), 404, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_DeliverCreditFailureLeavesOrderUntouched(t *testing.T) {
	h := newHarness(t)
	o := h.seed(uuid.New(), 10, 1.5)
	deliverer := uuid.New()
	cause := errors.New("ledger unreachable")
	h.ledger.EXPECT().Credit(gomock.Any(), deliverer, 6.0).Return(cause)

	_, err := h.svc.Deliver(context.Background(), deliverer, o.ID, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalServiceFailure)
	assert.ErrorIs(t, err, cause)

	after, _ := h.repo.Get(o.ID)
	assert.Equal(t, o, after)
	assert.Zero(t, h.saver.calls.Load())

	require.Len(t, h.journal.entries, 1)
	entry := h.journal.entries[0]
	assert.Equal(t, o.ID, entry.OrderID)
	assert.Equal(t, deliverer, entry.Deliverer)
	assert.Equal(t, int64(4), entry.Quantity)
	assert.Equal(t, 6.0, entry.Amount)

	require.Equal(t, []string{EventCreditFailed}, h.publisher.types())
	var event CreditFailedEvent
	require.NoError(t, json.Unmarshal(h.publisher.events[0].payload, &event))
	assert.Equal(t, uint64(1), event.JournalSeq)
}

func TestService_Collect(t *testing.T) {
	h := newHarness(t)
	owner, trusted, admin, stranger := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	h.access[admin] = true

	o := h.seed(owner, 200, 1)
	h.ledger.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	_, err := h.svc.Deliver(context.Background(), uuid.New(), o.ID, 200)
	require.NoError(t, err)
	require.NoError(t, h.svc.Trust(context.Background(), owner, o.ID, trusted))

	before, _ := h.repo.Get(o.ID)
	require.Len(t, before.StoredUnits, 4)

	_, err = h.svc.Collect(context.Background(), stranger, o.ID, Range{})
	assert.ErrorIs(t, err, ErrUnauthorized)
	unchanged, _ := h.repo.Get(o.ID)
	assert.Equal(t, before, unchanged)

	ok, err := h.svc.CanCollect(context.Background(), stranger, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	batches, err := h.svc.Collect(context.Background(), trusted, o.ID, Range{Offset: 0, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []entity.Batch{{ResourceType: "OAK_LOG", Count: 64}}, batches)

	batches, err = h.svc.Collect(context.Background(), admin, o.ID, Range{Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []entity.Batch{{ResourceType: "OAK_LOG", Count: 8}}, batches)

	batches, err = h.svc.Collect(context.Background(), owner, o.ID, Range{})
	require.NoError(t, err)
	assert.Len(t, batches, 2)

	left, _ := h.repo.Get(o.ID)
	assert.Empty(t, left.StoredUnits)

	_, err = h.svc.Collect(context.Background(), owner, 999, Range{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Trust(t *testing.T) {
	h := newHarness(t)
	owner, friend := uuid.New(), uuid.New()
	first := h.seed(owner, 1, 1)
	second := h.seed(owner, 1, 1)
	h.seed(uuid.New(), 1, 1)

	err := h.svc.Trust(context.Background(), friend, first.ID, friend)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, h.svc.Trust(context.Background(), owner, first.ID, friend))
	require.NoError(t, h.svc.Trust(context.Background(), owner, first.ID, friend))
	o, _ := h.repo.Get(first.ID)
	assert.Equal(t, []uuid.UUID{friend}, o.TrustedCollectors)

	n, err := h.svc.TrustAll(context.Background(), owner, friend)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	ok, err := h.svc.CanCollect(context.Background(), friend, second.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.svc.TrustAll(context.Background(), uuid.New(), friend)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_SweepRespectsRetention(t *testing.T) {
	h := newHarness(t)
	o := h.seed(uuid.New(), 1, 1)
	h.ledger.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	_, err := h.svc.Deliver(context.Background(), uuid.New(), o.ID, 1)
	require.NoError(t, err)
	expiry := start.Add(time.Hour)

	h.clock.Set(expiry.Add(-time.Millisecond))
	assert.Empty(t, h.svc.Sweep(context.Background()))
	_, err = h.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)

	h.clock.Set(expiry.Add(time.Millisecond))
	assert.Equal(t, []int64{o.ID}, h.svc.Sweep(context.Background()))
	_, err = h.svc.Get(context.Background(), o.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.Collect(context.Background(), o.Owner, o.ID, Range{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListPages(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	for i := 0; i < 5; i++ {
		h.seed(owner, 1, 1)
		h.clock.Advance(time.Second)
	}

	res := h.svc.List(context.Background(), ListQuery{Filter: repo.Filter{Owner: owner}, Page: 2, PageSize: 2})
	assert.Equal(t, 5, res.Total)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, []int64{3, 2}, []int64{res.Orders[0].ID, res.Orders[1].ID})

	res = h.svc.List(context.Background(), ListQuery{Page: 9})
	assert.Empty(t, res.Orders)
	assert.Equal(t, defaultPageSize, res.PageSize)
}

func TestService_ListFarPageIsEmpty(t *testing.T) {
	h := newHarness(t)
	h.seed(uuid.New(), 1, 1)

	for _, page := range []int{math.MaxInt / 100, math.MaxInt} {
		assert.NotPanics(t, func() {
			res := h.svc.List(context.Background(), ListQuery{Page: page, PageSize: maxPageSize})
			assert.Empty(t, res.Orders)
			assert.Equal(t, 1, res.Total)
		})
	}
}

func TestService_CollectHugeLimitTakesRest(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	o := h.seed(owner, 200, 1)
	h.ledger.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	_, err := h.svc.Deliver(context.Background(), uuid.New(), o.ID, 200)
	require.NoError(t, err)

	batches, err := h.svc.Collect(context.Background(), owner, o.ID, Range{Offset: 1, Limit: math.MaxInt})
	require.NoError(t, err)
	assert.Len(t, batches, 3)

	left, _ := h.repo.Get(o.ID)
	assert.Equal(t, []entity.Batch{{ResourceType: "OAK_LOG", Count: 64}}, left.StoredUnits)
}

func TestService_TimesKeepMillisecondPrecision(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(start.Add(671_420_224 * time.Nanosecond))
	owner := uuid.New()
	h.ledger.EXPECT().HasFunds(gomock.Any(), owner, gomock.Any()).Return(true, nil)
	h.ledger.EXPECT().Debit(gomock.Any(), owner, gomock.Any()).Return(nil)
	h.ledger.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	o, err := h.svc.Create(context.Background(), CreateInput{Owner: owner, ResourceType: "SAND", Quantity: 1, TotalPrice: 1})
	require.NoError(t, err)
	assert.Equal(t, start.Add(671*time.Millisecond), o.CreatedAt)

	_, err = h.svc.Deliver(context.Background(), uuid.New(), o.ID, 1)
	require.NoError(t, err)
	done, _ := h.repo.Get(o.ID)
	assert.Zero(t, done.ExpiresAt.Nanosecond()%int(time.Millisecond))
}

func TestService_ConcurrentDeliveriesNeverOverpay(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		quantity := rapid.Int64Range(1, 500).Draw(rt, "quantity")
		price := rapid.Float64Range(0.01, 100).Draw(rt, "price")
		proposals := rapid.SliceOfN(rapid.Int64Range(-5, 200), 1, 12).Draw(rt, "proposals")

		h := newHarness(t)
		h.ledger.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		o := h.seed(uuid.New(), quantity, price)

		var delivered, completions atomic.Int64
		unexpected := make(chan error, len(proposals))
		var wg sync.WaitGroup
		for _, p := range proposals {
			wg.Add(1)
			go func(p int64) {
				defer wg.Done()
				res, err := h.svc.Deliver(context.Background(), uuid.New(), o.ID, p)
				if err != nil {
					if !errors.Is(err, ErrOrderInactive) && !errors.Is(err, ErrNothingToDeliver) {
						unexpected <- err
					}
					return
				}
				delivered.Add(res.Delivered)
				if res.Completed {
					completions.Add(1)
				}
			}(p)
		}
		wg.Wait()
		close(unexpected)
		for err := range unexpected {
			rt.Fatalf("unexpected error: %v", err)
		}

		final, ok := h.repo.Get(o.ID)
		if !ok {
			rt.Fatalf("order vanished")
		}
		if delivered.Load() > quantity {
			rt.Fatalf("delivered %d exceeds quantity %d", delivered.Load(), quantity)
		}
		if final.RemainingQuantity < 0 || final.Delivered() != delivered.Load() {
			rt.Fatalf("remaining %d inconsistent with delivered %d", final.RemainingQuantity, delivered.Load())
		}
		if !final.PaidMatchesDelivered() {
			rt.Fatalf("paid %f for %d units at %f", final.TotalPaid, final.Delivered(), price)
		}
		wantCompleted := int64(0)
		if final.RemainingQuantity == 0 {
			wantCompleted = 1
		}
		if completions.Load() != wantCompleted {
			rt.Fatalf("completed %d times, remaining %d", completions.Load(), final.RemainingQuantity)
		}
	})
}

func count(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}
