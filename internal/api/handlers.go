package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/staysense/staysense-go/internal/spot"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) registerAppRoutes(g *echo.Group) {
	g.GET("/status", s.GetStatus)
	g.GET("/score", s.GetScore)
	g.POST("/signal", s.PostSignal)
	g.POST("/connectivity", s.PostConnectivity)
	g.GET("/queue", s.GetQueue)
	g.POST("/queue/flush", s.PostQueueFlush)
	g.GET("/settings", s.GetSettings)
	g.PUT("/settings", s.PutSettings)
	g.GET("/worker", s.GetWorker)
	g.POST("/worker/update", s.PostWorkerUpdate)
	g.POST("/worker/activate", s.PostWorkerActivate)
}

// handleError answers with a JSON error body and logs unexpected failures.
func (s *Server) handleError(c echo.Context, err error, code string, status int) error {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			logger.String("path", c.Path()),
			logger.String("code", code),
			logger.Error(err))
	}
	return c.JSON(status, errorResponse{Error: code, Message: err.Error()})
}

// GetStatus returns the client state snapshot.
func (s *Server) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Snapshot(c.Request().Context()))
}

// GetScore loads the score for lat/lon, or for the device position when both
// are omitted.
func (s *Server) GetScore(c echo.Context) error {
	ctx := c.Request().Context()
	latParam, lonParam := c.QueryParam("lat"), c.QueryParam("lon")

	var (
		view *spot.ScoreView
		err  error
	)
	if latParam == "" && lonParam == "" {
		view, err = s.app.Spot.LoadHere(ctx)
	} else {
		lat, perr := strconv.ParseFloat(latParam, 64)
		lon, perr2 := strconv.ParseFloat(lonParam, 64)
		if perr != nil || perr2 != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_coordinates", Message: "lat and lon must be numbers"})
		}
		view, err = s.app.Spot.LoadScore(ctx, lat, lon)
	}

	switch {
	case err == nil:
		return c.JSON(http.StatusOK, view)
	case errors.Is(err, spot.ErrNoData):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no_data", Message: "No data available for this location"})
	case errors.Is(err, spot.ErrLocationUnavailable):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "location_unavailable", Message: "Enter coordinates manually"})
	case errors.IsCategory(err, errors.CategoryValidation):
		return s.handleError(c, err, "invalid_coordinates", http.StatusBadRequest)
	default:
		return s.handleError(c, err, "score_failed", http.StatusInternalServerError)
	}
}

type signalRequest struct {
	SignalType string `json:"signal_type"`
}

// PostSignal submits a signal for the current spot.
func (s *Server) PostSignal(c echo.Context) error {
	var req signalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_body"})
	}

	outcome, err := s.app.Spot.SendSignal(c.Request().Context(), req.SignalType)
	switch {
	case err == nil:
	case errors.Is(err, spot.ErrSignalsDisabled):
		return c.JSON(http.StatusConflict, errorResponse{Error: "signals_disabled", Message: "Signals are turned off in settings"})
	case errors.Is(err, spot.ErrNoSpot):
		return c.JSON(http.StatusConflict, errorResponse{Error: "no_spot", Message: "Load a score before sending a signal"})
	case errors.IsCategory(err, errors.CategoryValidation):
		return s.handleError(c, err, "invalid_signal", http.StatusBadRequest)
	default:
		return s.handleError(c, err, "signal_failed", http.StatusInternalServerError)
	}

	status := http.StatusOK
	switch outcome.Outcome {
	case spot.OutcomeQueued:
		status = http.StatusAccepted
	case spot.OutcomeRejected:
		status = http.StatusConflict
	}
	return c.JSON(status, outcome)
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

// PostConnectivity relays a browser online/offline event to the monitor.
func (s *Server) PostConnectivity(c echo.Context) error {
	var req connectivityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_body"})
	}
	s.app.Monitor.NotifyConnectivity(req.Online)
	return c.NoContent(http.StatusAccepted)
}

// GetQueue lists undelivered signals in send order.
func (s *Server) GetQueue(c echo.Context) error {
	signals := s.app.Queue.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"signals": signals,
		"count":   len(signals),
	})
}

// PostQueueFlush runs one flush pass.
func (s *Server) PostQueueFlush(c echo.Context) error {
	report, err := s.app.FlushQueue(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "flush_interrupted", http.StatusServiceUnavailable)
	}
	return c.JSON(http.StatusOK, report)
}

type settingsResponse struct {
	SignalsEnabled bool `json:"signals_enabled"`
}

type settingsRequest struct {
	SignalsEnabled *bool `json:"signals_enabled"`
}

// GetSettings returns the user preferences.
func (s *Server) GetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, settingsResponse{SignalsEnabled: s.app.Preferences.SignalsEnabled()})
}

// PutSettings updates the user preferences.
func (s *Server) PutSettings(c echo.Context) error {
	var req settingsRequest
	if err := c.Bind(&req); err != nil || req.SignalsEnabled == nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_body", Message: "signals_enabled is required"})
	}
	if err := s.app.Preferences.SetSignalsEnabled(c.Request().Context(), *req.SignalsEnabled); err != nil {
		return s.handleError(c, err, "settings_not_saved", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, settingsResponse{SignalsEnabled: *req.SignalsEnabled})
}

// GetWorker describes the active service worker and its partitions.
func (s *Server) GetWorker(c echo.Context) error {
	info, ok := s.app.WorkerInfo(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "worker_inactive"})
	}
	resp := map[string]any{"active": info}
	if w := s.app.Worker.Waiting(); w != nil {
		resp["waiting"] = map[string]any{"version": w.Version(), "state": w.State()}
	}
	return c.JSON(http.StatusOK, resp)
}

// PostWorkerUpdate installs the configured worker version.
func (s *Server) PostWorkerUpdate(c echo.Context) error {
	if s.app.Worker == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "worker_disabled"})
	}
	if err := s.app.InstallWorker(c.Request().Context()); err != nil {
		return s.handleError(c, err, "install_failed", http.StatusBadGateway)
	}
	return s.GetWorker(c)
}

// PostWorkerActivate promotes a waiting worker.
func (s *Server) PostWorkerActivate(c echo.Context) error {
	if s.app.Worker == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "worker_disabled"})
	}
	if err := s.app.Worker.ActivateWaiting(c.Request().Context()); err != nil {
		return s.handleError(c, err, "activate_failed", http.StatusInternalServerError)
	}
	return s.GetWorker(c)
}
