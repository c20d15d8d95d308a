package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bazaar/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/bazaar/repository/order")

// ErrNotFound is returned when an order is missing or was removed while waiting for its lock.
var ErrNotFound = errors.New("order not found")

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ResourceType string
	Owner        uuid.UUID
	Status       entity.Status
}

func (f Filter) match(o *entity.Order) bool {
	if f.ResourceType != "" && o.ResourceType != f.ResourceType {
		return false
	}
	if f.Owner != uuid.Nil && o.Owner != f.Owner {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return true
}

// Repository is the authoritative in-memory order store.
//
// Orders and their locks live in two separate concurrent maps keyed by id. Every read
// or write of an order's mutable fields happens while holding that order's mutex, and
// no code path holds more than one order mutex at a time.
type Repository struct {
	orders *xsync.MapOf[int64, *entity.Order]
	locks  *xsync.MapOf[int64, *sync.Mutex]
	nextID atomic.Int64
}

// NewRepository returns an empty store whose first id is 1.
func NewRepository() *Repository {
	r := &Repository{
		orders: xsync.NewMapOf[int64, *entity.Order](),
		locks:  xsync.NewMapOf[int64, *sync.Mutex](),
	}
	r.nextID.Store(1)
	return r
}

// NewOrder describes an order about to be created.
type NewOrder struct {
	Owner        uuid.UUID
	OwnerName    string
	ResourceType string
	Quantity     int64
	PricePerUnit float64
	CreatedAt    time.Time
}

// Create allocates the next id and registers a fresh ACTIVE order. The caller must
// already hold the escrow.
func (r *Repository) Create(ctx context.Context, in NewOrder) entity.Order {
	_, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(
		attribute.String("order.resource_type", in.ResourceType),
		attribute.Int64("order.quantity", in.Quantity),
	))
	defer span.End()

	id := r.nextID.Add(1) - 1
	o := &entity.Order{
		ID:                id,
		Owner:             in.Owner,
		OwnerName:         in.OwnerName,
		ResourceType:      in.ResourceType,
		TotalQuantity:     in.Quantity,
		PricePerUnit:      in.PricePerUnit,
		TotalEscrow:       float64(in.Quantity) * in.PricePerUnit,
		CreatedAt:         entity.Timestamp(in.CreatedAt),
		RemainingQuantity: in.Quantity,
		Status:            entity.StatusActive,
	}
	// The lock must exist before the order becomes visible.
	r.locks.Store(id, &sync.Mutex{})
	r.orders.Store(id, o)
	span.SetAttributes(attribute.Int64("order.id", id))
	return o.Clone()
}

// Get returns a copy of the order taken under its lock.
func (r *Repository) Get(id int64) (entity.Order, bool) {
	var out entity.Order
	err := r.Update(id, func(o *entity.Order) error {
		out = o.Clone()
		return nil
	})
	return out, err == nil
}

// Update runs fn with exclusive access to the live order. fn must not retain the
// pointer nor call back into the repository for another order.
func (r *Repository) Update(id int64, fn func(*entity.Order) error) error {
	mu, ok := r.locks.Load(id)
	if !ok {
		return ErrNotFound
	}
	mu.Lock()
	defer mu.Unlock()

	// The sweep may have removed the order while we waited.
	o, ok := r.orders.Load(id)
	if !ok {
		return ErrNotFound
	}
	return fn(o)
}

// List returns copies of matching orders, newest first, ties broken by id descending.
func (r *Repository) List(f Filter) []entity.Order {
	ids := make([]int64, 0, r.orders.Size())
	r.orders.Range(func(id int64, _ *entity.Order) bool {
		ids = append(ids, id)
		return true
	})

	out := make([]entity.Order, 0, len(ids))
	for _, id := range ids {
		_ = r.Update(id, func(o *entity.Order) error {
			if f.match(o) {
				out = append(out, o.Clone())
			}
			return nil
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// CountActive counts ACTIVE orders owned by owner.
func (r *Repository) CountActive(owner uuid.UUID) int {
	return len(r.List(Filter{Owner: owner, Status: entity.StatusActive}))
}

// Snapshot copies every order, each under its own lock. Copies are individually
// consistent; the set as a whole is not a single instant.
func (r *Repository) Snapshot() map[int64]entity.Order {
	out := make(map[int64]entity.Order, r.orders.Size())
	r.orders.Range(func(id int64, _ *entity.Order) bool {
		_ = r.Update(id, func(o *entity.Order) error {
			out[id] = o.Clone()
			return nil
		})
		return true
	})
	return out
}

// RemoveExpired drops completed orders whose retention window has passed and returns
// their ids in ascending order.
func (r *Repository) RemoveExpired(now time.Time) []int64 {
	var candidates []int64
	r.orders.Range(func(id int64, _ *entity.Order) bool {
		candidates = append(candidates, id)
		return true
	})

	var removed []int64
	for _, id := range candidates {
		mu, ok := r.locks.Load(id)
		if !ok {
			continue
		}
		mu.Lock()
		if o, ok := r.orders.Load(id); ok && o.IsExpired(now) {
			r.orders.Delete(id)
			r.locks.Delete(id)
			removed = append(removed, id)
		}
		mu.Unlock()
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// Restore inserts a persisted order verbatim. Startup only.
func (r *Repository) Restore(o entity.Order) {
	c := o.Clone()
	r.locks.Store(c.ID, &sync.Mutex{})
	r.orders.Store(c.ID, &c)
	r.AdvanceWatermark(c.ID + 1)
}

// AdvanceWatermark raises the id generator so the next id is at least next.
func (r *Repository) AdvanceWatermark(next int64) {
	for {
		cur := r.nextID.Load()
		if cur >= next || r.nextID.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Watermark is the id the next Create would assign.
func (r *Repository) Watermark() int64 {
	return r.nextID.Load()
}

// Len is the number of orders currently held.
func (r *Repository) Len() int {
	return r.orders.Size()
}
