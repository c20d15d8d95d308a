package order

import (
	"time"

	"github.com/google/uuid"
)

// Event types published on the order topic.
const (
	EventOrderCreated   = "order.created"
	EventOrderDelivered = "order.delivered"
	EventOrderCompleted = "order.completed"
	EventCreditFailed   = "credit.failed"
)

// OrderCreatedEvent is emitted once escrow is held and the order is live.
type OrderCreatedEvent struct {
	ID           int64     `json:"id"`
	Owner        uuid.UUID `json:"owner"`
	OwnerName    string    `json:"owner_name"`
	ResourceType string    `json:"resource_type"`
	Quantity     int64     `json:"quantity"`
	PricePerUnit float64   `json:"price_per_unit"`
	TotalEscrow  float64   `json:"total_escrow"`
	CreatedAt    time.Time `json:"created_at"`
}

// OrderDeliveredEvent is emitted for every accepted delivery.
type OrderDeliveredEvent struct {
	ID        int64     `json:"id"`
	Deliverer uuid.UUID `json:"deliverer"`
	Delivered int64     `json:"delivered"`
	Payout    float64   `json:"payout"`
	Remaining int64     `json:"remaining"`
}

// OrderCompletedEvent is emitted exactly once, when the last unit arrives.
type OrderCompletedEvent struct {
	ID            int64     `json:"id"`
	Owner         uuid.UUID `json:"owner"`
	OwnerName     string    `json:"owner_name"`
	ResourceType  string    `json:"resource_type"`
	TotalQuantity int64     `json:"total_quantity"`
	TotalEscrow   float64   `json:"total_escrow"`
	TotalPaid     float64   `json:"total_paid"`
	CompletedAt   time.Time `json:"completed_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// CreditFailedEvent reports a payout that never reached the deliverer.
type CreditFailedEvent struct {
	JournalSeq uint64    `json:"journal_seq,omitempty"`
	OrderID    int64     `json:"order_id"`
	Deliverer  uuid.UUID `json:"deliverer"`
	Quantity   int64     `json:"quantity"`
	Amount     float64   `json:"amount"`
	Reason     string    `json:"reason"`
}
