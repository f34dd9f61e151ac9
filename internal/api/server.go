// Package api serves the local HTTP surface of the client: a small control
// API under /app, Prometheus metrics, and everything else through the
// service worker and a reverse proxy to the StaySense origin.
package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/staysense/staysense-go/internal/app"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Server is the local echo server.
type Server struct {
	echo   *echo.Echo
	app    *app.App
	logger logger.Logger
}

// NewServer builds the router for a.
func NewServer(a *app.App, log logger.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, app: a, logger: log.Module("api")}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			s.logger.Debug("request", fields...)
			return nil
		},
	}))
	if a.Metrics != nil {
		e.Use(a.Metrics.Middleware())
		e.GET(a.Settings.Metrics.Path, echo.WrapHandler(a.Metrics.Handler()))
	}

	s.registerAppRoutes(e.Group("/app"))

	proxy, err := s.upstreamProxy()
	if err != nil {
		return nil, err
	}
	chain := []echo.MiddlewareFunc{}
	if a.Worker != nil {
		chain = append(chain, a.Worker.Middleware())
	}
	chain = append(chain, proxy)
	e.Any("/*", func(c echo.Context) error {
		// The proxy never calls next.
		return echo.ErrNotFound
	}, chain...)

	return s, nil
}

func (s *Server) upstreamProxy() (echo.MiddlewareFunc, error) {
	raw := s.app.Settings.UpstreamURL()
	target, err := url.Parse(raw)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, errors.Newf("invalid upstream URL %q", raw).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return middleware.ProxyWithConfig(middleware.ProxyConfig{
		Balancer: middleware.NewRoundRobinBalancer([]*middleware.ProxyTarget{{URL: target}}),
		ErrorHandler: func(c echo.Context, err error) error {
			s.logger.Debug("upstream unreachable", logger.String("path", c.Request().URL.Path), logger.Error(err))
			return c.JSON(http.StatusBadGateway, errorResponse{Error: "upstream_unreachable"})
		},
	}), nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", logger.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Newf("http server: %w", err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("addr", addr).
			Build()
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}
