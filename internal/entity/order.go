package entity

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a standing buy-order.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

// Timestamp normalises an order time to the millisecond precision the order file keeps.
func Timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

// ParseStatus validates a persisted or user supplied status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusActive, StatusCompleted:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("unknown order status %q", raw)
	}
}

// Batch is a run of delivered resource units waiting to be collected.
type Batch struct {
	ResourceType string
	Count        int64
}

// Order is the ledger record for one standing buy-order.
//
// Identity fields (ID, Owner, OwnerName, ResourceType, TotalQuantity, PricePerUnit,
// TotalEscrow, CreatedAt) never change after creation. The remaining fields are only
// mutated while holding the order's lock in the order repository.
type Order struct {
	ID            int64
	Owner         uuid.UUID
	OwnerName     string
	ResourceType  string
	TotalQuantity int64
	PricePerUnit  float64
	TotalEscrow   float64
	CreatedAt     time.Time

	RemainingQuantity int64
	TotalPaid         float64
	ExpiresAt         time.Time
	Status            Status
	StoredUnits       []Batch
	TrustedCollectors []uuid.UUID
}

// Clone returns a deep copy safe to hand out past the order lock.
func (o *Order) Clone() Order {
	c := *o
	if o.StoredUnits != nil {
		c.StoredUnits = append(make([]Batch, 0, len(o.StoredUnits)), o.StoredUnits...)
	}
	if o.TrustedCollectors != nil {
		c.TrustedCollectors = append(make([]uuid.UUID, 0, len(o.TrustedCollectors)), o.TrustedCollectors...)
	}
	return c
}

// Delivered is the quantity supplied so far.
func (o *Order) Delivered() int64 {
	return o.TotalQuantity - o.RemainingQuantity
}

// StoredCount sums the units waiting in StoredUnits.
func (o *Order) StoredCount() int64 {
	var n int64
	for _, b := range o.StoredUnits {
		n += b.Count
	}
	return n
}

// IsExpired reports whether a completed order has outlived its retention window.
func (o *Order) IsExpired(now time.Time) bool {
	return o.Status == StatusCompleted && !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// IsTrusted reports whether id may collect on the owner's behalf.
func (o *Order) IsTrusted(id uuid.UUID) bool {
	for _, t := range o.TrustedCollectors {
		if t == id {
			return true
		}
	}
	return false
}

// Trust adds id to the trusted collectors. It reports false when id was already present.
func (o *Order) Trust(id uuid.UUID) bool {
	if o.IsTrusted(id) {
		return false
	}
	o.TrustedCollectors = append(o.TrustedCollectors, id)
	return true
}

// StoreUnits appends count units split into batches of at most maxBatch.
func (o *Order) StoreUnits(count, maxBatch int64) {
	if maxBatch <= 0 {
		maxBatch = count
	}
	for count > 0 {
		n := min(count, maxBatch)
		o.StoredUnits = append(o.StoredUnits, Batch{ResourceType: o.ResourceType, Count: n})
		count -= n
	}
}

// TakeUnits removes StoredUnits[offset:offset+limit] and returns them. A limit <= 0
// takes everything from offset; out-of-range bounds are clamped.
func (o *Order) TakeUnits(offset, limit int) []Batch {
	size := len(o.StoredUnits)
	if offset < 0 {
		offset = 0
	}
	if offset >= size {
		return nil
	}
	end := size
	if limit > 0 && limit < size-offset {
		end = offset + limit
	}
	taken := append([]Batch(nil), o.StoredUnits[offset:end]...)
	o.StoredUnits = append(o.StoredUnits[:offset], o.StoredUnits[end:]...)
	return taken
}

// paidTolerance bounds float drift between TotalPaid and Delivered*PricePerUnit.
const paidTolerance = 1e-6

// Validate checks the ledger invariants. It is used when restoring persisted records.
func (o *Order) Validate() error {
	switch {
	case o.TotalQuantity <= 0:
		return fmt.Errorf("order %d: total quantity %d must be positive", o.ID, o.TotalQuantity)
	case o.RemainingQuantity < 0 || o.RemainingQuantity > o.TotalQuantity:
		return fmt.Errorf("order %d: remaining quantity %d outside [0, %d]", o.ID, o.RemainingQuantity, o.TotalQuantity)
	case (o.Status == StatusCompleted) != (o.RemainingQuantity == 0):
		return fmt.Errorf("order %d: status %s inconsistent with remaining quantity %d", o.ID, o.Status, o.RemainingQuantity)
	case o.StoredCount() < 0:
		return fmt.Errorf("order %d: negative stored units", o.ID)
	}
	return nil
}

// PaidMatchesDelivered reports whether TotalPaid equals Delivered*PricePerUnit within tolerance.
func (o *Order) PaidMatchesDelivered() bool {
	want := float64(o.Delivered()) * o.PricePerUnit
	return math.Abs(o.TotalPaid-want) <= paidTolerance*math.Max(1, math.Abs(want))
}
