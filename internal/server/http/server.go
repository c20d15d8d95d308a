package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Additional-Code/bazaar/internal/config"
	"github.com/Additional-Code/bazaar/internal/observability"
	"github.com/Additional-Code/bazaar/internal/presentation/http/response"
	"github.com/Additional-Code/bazaar/pkg/errorbank"
)

// Module exposes the HTTP server lifecycle to Fx.
var Module = fx.Module("http_server",
	fx.Provide(NewEcho),
	fx.Invoke(Run),
)

// Params collects dependencies for the router.
type Params struct {
	fx.In

	Config        config.Config
	Observability *observability.Manager
	Logger        *zap.Logger
	Health        *health.Server `optional:"true"`
}

// NewEcho configures the Echo router with basic middleware.
func NewEcho(p Params) *echo.Echo {
	logger := p.Logger
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			c.Echo().DefaultHTTPErrorHandler(err, c)
			return
		}
		logger.Error("http request failed", zap.String("path", c.Path()), zap.Error(err))
		_ = response.New(c).WithError(errorbank.From(err)).Build()
	}

	e.Use(middleware.Recover())
	if obs := p.Observability; obs != nil && obs.TracingEnabled() {
		e.Use(otelecho.Middleware(p.Config.Observability.ServiceName))
	}

	e.GET("/health", healthHandler(p.Health))

	if obs := p.Observability; obs != nil && obs.MetricsEnabled() && obs.MetricsHandler() != nil {
		e.GET(p.Config.Observability.PrometheusPath, echo.WrapHandler(obs.MetricsHandler()))
	}

	return e
}

// healthHandler reports 503 until the ledger has been restored when a health
// registry is available.
func healthHandler(hs *health.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if hs == nil {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}
		res, err := hs.Check(c.Request().Context(), &healthpb.HealthCheckRequest{})
		if err != nil || res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Run starts the HTTP server and ties it to the Fx lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)

	server := &http.Server{
		Addr:    addr,
		Handler: e,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting HTTP server", zap.String("addr", addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}
