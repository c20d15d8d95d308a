package order

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bazaar/internal/dto"
	"github.com/Additional-Code/bazaar/internal/entity"
	"github.com/Additional-Code/bazaar/internal/presentation/http/response"
	service "github.com/Additional-Code/bazaar/internal/service/order"
	"github.com/Additional-Code/bazaar/internal/transport/http/identity"
	"github.com/Additional-Code/bazaar/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/bazaar/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.getByID)
	g.POST("/:id/deliveries", h.deliver)
	g.POST("/:id/collect", h.collect)
	g.POST("/:id/trust", h.trust)

	e.POST("/trust", h.trustAll)
}

func invalid(message string, err error) error {
	return service.ErrInvalidInput.Wrap(errorbank.WithDetail("reason", message), errorbank.WithCause(err))
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("invalid order id", err)
	}
	return id, nil
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	var q service.ListQuery
	q.Filter.ResourceType = c.QueryParam("resource_type")
	if raw := c.QueryParam("owner"); raw != "" {
		owner, err := uuid.Parse(raw)
		if err != nil {
			return b.WithError(invalid("invalid owner", err)).Build()
		}
		q.Filter.Owner = owner
	}
	if raw := c.QueryParam("status"); raw != "" {
		status, err := entity.ParseStatus(raw)
		if err != nil {
			return b.WithError(invalid("invalid status", err)).Build()
		}
		q.Filter.Status = status
	}
	for param, dst := range map[string]*int{"page": &q.Page, "page_size": &q.PageSize} {
		if raw := c.QueryParam(param); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return b.WithError(invalid("invalid "+param, err)).Build()
			}
			*dst = n
		}
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list")
	defer span.End()

	res := h.svc.List(ctx, q)
	out := make([]dto.OrderResponse, 0, len(res.Orders))
	for _, o := range res.Orders {
		out = append(out, toDTO(o))
	}
	return b.WithData(out).WithPagination(res.Page, res.PageSize, res.Total).Build()
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	caller, err := identity.FromRequest(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.CreateOrderRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(invalid("invalid payload", err)).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create")
	span.SetAttributes(attribute.String("order.resource_type", payload.ResourceType))
	defer span.End()

	order, err := h.svc.Create(ctx, service.CreateInput{
		Owner:        caller.ID,
		OwnerName:    caller.Name,
		ResourceType: payload.ResourceType,
		Quantity:     payload.Quantity,
		TotalPrice:   payload.TotalPrice,
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).
		WithHeader(echo.HeaderLocation, "/orders/"+strconv.FormatInt(order.ID, 10)).
		WithData(toDTO(order)).
		Build()
}

func (h *Handler) deliver(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	caller, err := identity.FromRequest(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.DeliverRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(invalid("invalid payload", err)).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.deliver", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	res, err := h.svc.Deliver(ctx, caller.ID, id, payload.Amount)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.DeliveryResponse{
		Delivered: res.Delivered,
		Payout:    res.Payout,
		Remaining: res.Remaining,
		Completed: res.Completed,
	}).Build()
}

func (h *Handler) collect(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	caller, err := identity.FromRequest(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.CollectRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(invalid("invalid payload", err)).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.collect", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	batches, err := h.svc.Collect(ctx, caller.ID, id, service.Range{Offset: payload.Offset, Limit: payload.Limit})
	if err != nil {
		return b.WithError(err).Build()
	}

	out := dto.CollectResponse{Batches: toBatches(batches)}
	for _, batch := range batches {
		out.Units += batch.Count
	}
	return b.WithData(out).Build()
}

func (h *Handler) trust(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	caller, err := identity.FromRequest(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.TrustRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(invalid("invalid payload", err)).Build()
	}

	if err := h.svc.Trust(c.Request().Context(), caller.ID, id, payload.Identity); err != nil {
		return b.WithError(err).Build()
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) trustAll(c echo.Context) error {
	b := response.New(c)

	caller, err := identity.FromRequest(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.TrustRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(invalid("invalid payload", err)).Build()
	}

	n, err := h.svc.TrustAll(c.Request().Context(), caller.ID, payload.Identity)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.TrustAllResponse{Orders: n}).Build()
}

func toDTO(order entity.Order) dto.OrderResponse {
	out := dto.OrderResponse{
		ID:                order.ID,
		OwnerID:           order.Owner,
		OwnerName:         order.OwnerName,
		ResourceType:      order.ResourceType,
		TotalQuantity:     order.TotalQuantity,
		RemainingQuantity: order.RemainingQuantity,
		PricePerUnit:      order.PricePerUnit,
		TotalEscrow:       order.TotalEscrow,
		TotalPaid:         order.TotalPaid,
		Status:            string(order.Status),
		StoredUnits:       toBatches(order.StoredUnits),
		TrustedCollectors: order.TrustedCollectors,
		CreatedAt:         order.CreatedAt,
	}
	if out.TrustedCollectors == nil {
		out.TrustedCollectors = []uuid.UUID{}
	}
	if !order.ExpiresAt.IsZero() {
		expires := order.ExpiresAt
		out.ExpiresAt = &expires
	}
	return out
}

func toBatches(batches []entity.Batch) []dto.BatchResponse {
	out := make([]dto.BatchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, dto.BatchResponse{ResourceType: b.ResourceType, Count: b.Count})
	}
	return out
}
