package access

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/access"
	"github.com/Additional-Code/bazaar/internal/config"
	"github.com/Additional-Code/bazaar/internal/dto"
	"github.com/Additional-Code/bazaar/internal/presentation/http/response"
	"github.com/Additional-Code/bazaar/pkg/errorbank"
)

// HeaderAdminToken authenticates grant management.
const HeaderAdminToken = "X-Admin-Token"

var (
	errForbidden = errorbank.Forbidden("admin token required", errorbank.WithCode("unauthorized"))
	errInvalid   = errorbank.BadRequest("invalid grant request", errorbank.WithCode("invalid_input"))
)

// Module wires the grant endpoints.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// Handler manages elevated collect grants.
type Handler struct {
	grants *access.Grants
	token  string
	logger *zap.Logger
}

// NewHandler constructs a grant Handler.
func NewHandler(grants *access.Grants, cfg config.Config, logger *zap.Logger) *Handler {
	return &Handler{grants: grants, token: cfg.Access.AdminToken, logger: logger}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/grants", h.requireAdmin)
	g.POST("", h.grant)
	g.DELETE("/:identity", h.revoke)
}

// requireAdmin rejects every request when no admin token is configured.
func (h *Handler) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		got := c.Request().Header.Get(HeaderAdminToken)
		if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			return response.New(c).WithError(errForbidden).Build()
		}
		return next(c)
	}
}

func (h *Handler) grant(c echo.Context) error {
	b := response.New(c)

	var payload dto.GrantRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errInvalid.Wrap(errorbank.WithCause(err))).Build()
	}
	if payload.Identity == uuid.Nil {
		return b.WithError(errInvalid.Wrap(errorbank.WithDetail("field", "identity"))).Build()
	}
	var ttl time.Duration
	if payload.TTL != "" {
		parsed, err := time.ParseDuration(payload.TTL)
		if err != nil || parsed <= 0 {
			return b.WithError(errInvalid.Wrap(errorbank.WithDetail("field", "ttl"), errorbank.WithCause(err))).Build()
		}
		ttl = parsed
	}

	if err := h.grants.Grant(c.Request().Context(), payload.Identity, ttl); err != nil {
		return b.WithError(errorbank.Internal("failed to store grant", errorbank.WithCause(err))).Build()
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) revoke(c echo.Context) error {
	b := response.New(c)

	id, err := uuid.Parse(c.Param("identity"))
	if err != nil {
		return b.WithError(errInvalid.Wrap(errorbank.WithDetail("field", "identity"), errorbank.WithCause(err))).Build()
	}
	if err := h.grants.Revoke(c.Request().Context(), id); err != nil {
		return b.WithError(errorbank.Internal("failed to revoke grant", errorbank.WithCause(err))).Build()
	}
	h.logger.Info("elevated collect revoked", zap.Stringer("identity", id))
	return c.NoContent(http.StatusNoContent)
}
