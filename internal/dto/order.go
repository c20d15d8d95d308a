package dto

import (
	"time"

	"github.com/google/uuid"
)

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID                int64           `json:"id"`
	OwnerID           uuid.UUID       `json:"owner_id"`
	OwnerName         string          `json:"owner_name"`
	ResourceType      string          `json:"resource_type"`
	TotalQuantity     int64           `json:"total_quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	PricePerUnit      float64         `json:"price_per_unit"`
	TotalEscrow       float64         `json:"total_escrow"`
	TotalPaid         float64         `json:"total_paid"`
	Status            string          `json:"status"`
	StoredUnits       []BatchResponse `json:"stored_units"`
	TrustedCollectors []uuid.UUID     `json:"trusted_collectors"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
}

// BatchResponse is one run of stored units.
type BatchResponse struct {
	ResourceType string `json:"resource_type"`
	Count        int64  `json:"count"`
}

// DeliveryResponse reports an accepted delivery.
type DeliveryResponse struct {
	Delivered int64   `json:"delivered"`
	Payout    float64 `json:"payout"`
	Remaining int64   `json:"remaining"`
	Completed bool    `json:"completed"`
}

// CollectResponse lists the batches handed to the collector.
type CollectResponse struct {
	Batches []BatchResponse `json:"batches"`
	Units   int64           `json:"units"`
}

// TrustAllResponse reports how many orders now trust an identity.
type TrustAllResponse struct {
	Orders int `json:"orders"`
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	ResourceType string  `json:"resource_type"`
	Quantity     int64   `json:"quantity"`
	TotalPrice   float64 `json:"total_price"`
}

// DeliverRequest is the body of POST /orders/:id/deliveries.
type DeliverRequest struct {
	Amount int64 `json:"amount"`
}

// CollectRequest is the body of POST /orders/:id/collect.
type CollectRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// TrustRequest names the identity to trust.
type TrustRequest struct {
	Identity uuid.UUID `json:"identity"`
}

// GrantRequest is the body of POST /grants. TTL uses Go duration syntax; empty means the default.
type GrantRequest struct {
	Identity uuid.UUID `json:"identity"`
	TTL      string    `json:"ttl"`
}
