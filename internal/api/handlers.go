package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mkarjala/foewatch-go/internal/diagnostics"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/scheduler"
)

type errorResponse struct {
	Error string `json:"error"`
}

type effectivenessEntry struct {
	Category      string  `json:"category"`
	SoundID       string  `json:"sound_id"`
	Attempts      int     `json:"attempts"`
	Successes     int     `json:"successes"`
	Ratio         float64 `json:"ratio"`
	LastSuccessAt string  `json:"last_success_at,omitempty"`
}

type settingsUpdate struct {
	ChangeThreshold    *int     `json:"change_threshold,omitempty"`
	ExploreProbability *float64 `json:"explore_probability,omitempty"`
}

type settingsResponse struct {
	ChangeThreshold    int     `json:"change_threshold"`
	ExploreProbability float64 `json:"explore_probability"`
}

func (s *Server) handleHealthAll(c echo.Context) error {
	return c.JSON(http.StatusOK, s.diagnostics.HealthAll())
}

func (s *Server) handleCameraHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.diagnostics.Health(c.Param("id")))
}

func (s *Server) handleCameraDiagnostics(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
		}
		limit = parsed
	}
	events := s.diagnostics.Events(c.Param("id"), limit)
	if events == nil {
		events = []diagnostics.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleEffectiveness(c echo.Context) error {
	category := c.QueryParam("category")
	entries := []effectivenessEntry{}
	for _, record := range s.effectiveness.Rankings() {
		if category != "" && record.Category != category {
			continue
		}
		entry := effectivenessEntry{
			Category:  record.Category,
			SoundID:   record.SoundID,
			Attempts:  record.Attempts,
			Successes: record.Successes,
			Ratio:     record.Ratio(),
		}
		if record.LastSuccessAt != nil {
			entry.LastSuccessAt = record.LastSuccessAt.Format("2006-01-02T15:04:05Z07:00")
		}
		entries = append(entries, entry)
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleTriggerCycle(c echo.Context) error {
	cameraID := c.Param("id")
	err := s.scheduler.TriggerCycle(c.Request().Context(), cameraID)
	switch {
	case errors.Is(err, scheduler.ErrUnknownCamera):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown camera"})
	case errors.Is(err, scheduler.ErrTickInFlight):
		return c.JSON(http.StatusConflict, errorResponse{Error: "camera is already processing a frame"})
	case err != nil:
		s.logger.Error("manual cycle failed", "camera", cameraID, "error", err)
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleUpdateSettings(c echo.Context) error {
	var update settingsUpdate
	if err := c.Bind(&update); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	if update.ChangeThreshold != nil {
		threshold := *update.ChangeThreshold
		if threshold < 0 || threshold > 64 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "change_threshold must be within 0..64"})
		}
		s.filter.SetThreshold(threshold)
		s.logger.Info("change threshold updated", "threshold", threshold)
	}
	if update.ExploreProbability != nil {
		if err := s.selector.SetExploreProbability(*update.ExploreProbability); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "explore_probability must be within 0..1"})
		}
	}

	return c.JSON(http.StatusOK, settingsResponse{
		ChangeThreshold:    s.filter.Threshold(),
		ExploreProbability: s.selector.ExploreProbability(),
	})
}
