// Package api exposes the HTTP control surface: camera health and
// diagnostics, effectiveness rankings, manual capture cycles and runtime
// tuning of the change threshold and exploration probability.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/deterrent"
	"github.com/mkarjala/foewatch-go/internal/diagnostics"
	"github.com/mkarjala/foewatch-go/internal/frame"
	"github.com/mkarjala/foewatch-go/internal/logging"
	"github.com/mkarjala/foewatch-go/internal/observability"
	"github.com/mkarjala/foewatch-go/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP control server.
type Server struct {
	echo     *echo.Echo
	settings *conf.Settings
	logger   *slog.Logger

	scheduler     *scheduler.Scheduler
	diagnostics   *diagnostics.Service
	effectiveness *deterrent.EffectivenessStore
	selector      *deterrent.Selector
	filter        *frame.ChangeFilter
	metrics       *observability.Metrics
}

// Deps bundles the collaborators the control server queries and tunes.
type Deps struct {
	Scheduler     *scheduler.Scheduler
	Diagnostics   *diagnostics.Service
	Effectiveness *deterrent.EffectivenessStore
	Selector      *deterrent.Selector
	Filter        *frame.ChangeFilter
	Metrics       *observability.Metrics
}

// New creates the control server and registers all routes.
func New(settings *conf.Settings, deps Deps) *Server {
	s := &Server{
		echo:          echo.New(),
		settings:      settings,
		logger:        logging.ForService("api"),
		scheduler:     deps.Scheduler,
		diagnostics:   deps.Diagnostics,
		effectiveness: deps.Effectiveness,
		selector:      deps.Selector,
		filter:        deps.Filter,
		metrics:       deps.Metrics,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = 10 * time.Second
	s.echo.Server.WriteTimeout = 30 * time.Second
	s.echo.Use(echomw.Recover())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.echo.Group("/api/v1")

	v1.GET("/health", s.handleHealthAll)
	v1.GET("/cameras/:id/health", s.handleCameraHealth)
	v1.GET("/cameras/:id/diagnostics", s.handleCameraDiagnostics)
	v1.GET("/effectiveness", s.handleEffectiveness)
	v1.POST("/cameras/:id/cycle", s.handleTriggerCycle)
	v1.PATCH("/settings", s.handleUpdateSettings)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	address := s.settings.API.Host + ":" + s.settings.API.Port

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", "address", address)
		if err := s.echo.Start(address); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Handler exposes the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
