// Package diagnostics keeps a bounded in-memory history of per-camera
// failures and exposes health snapshots for the control API. Events are also
// persisted through the datastore for the long-term audit trail.
package diagnostics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/logging"
)

// Event is one recorded camera failure or anomaly.
type Event struct {
	CameraID  string    `json:"camera_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// CameraHealth is a point-in-time health snapshot of one camera.
type CameraHealth struct {
	CameraID         string     `json:"camera_id"`
	Healthy          bool       `json:"healthy"`
	ConsecutiveFails int        `json:"consecutive_fails"`
	LastEvent        *Event     `json:"last_event,omitempty"`
	LastSuccess      *time.Time `json:"last_success,omitempty"`
}

type cameraRecord struct {
	events           []Event // bounded history, newest last
	consecutiveFails int
	healthy          bool
	lastSuccess      *time.Time
}

// Service tracks camera diagnostics. A camera turns unhealthy after the
// configured number of consecutive failures and recovers on the first
// successful tick.
type Service struct {
	ds             datastore.Interface
	limit          int
	unhealthyAfter int
	logger         *slog.Logger

	mu      sync.RWMutex
	cameras map[string]*cameraRecord
}

// NewService creates a diagnostics service. limit bounds the in-memory event
// history per camera; unhealthyAfter is the consecutive failure threshold.
func NewService(ds datastore.Interface, limit, unhealthyAfter int) *Service {
	if limit <= 0 {
		limit = 50
	}
	if unhealthyAfter <= 0 {
		unhealthyAfter = 3
	}
	return &Service{
		ds:             ds,
		limit:          limit,
		unhealthyAfter: unhealthyAfter,
		logger:         logging.ForService("diagnostics"),
		cameras:        make(map[string]*cameraRecord),
	}
}

func (s *Service) record(cameraID string) *cameraRecord {
	record, ok := s.cameras[cameraID]
	if !ok {
		record = &cameraRecord{healthy: true}
		s.cameras[cameraID] = record
	}
	return record
}

// RecordFailure stores a diagnostic event for the camera and returns true
// when the failure flipped the camera to unhealthy.
func (s *Service) RecordFailure(cameraID string, err error) bool {
	event := Event{
		CameraID:  cameraID,
		Kind:      string(errors.CategoryOf(err)),
		Detail:    err.Error(),
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	record := s.record(cameraID)
	record.events = append(record.events, event)
	if len(record.events) > s.limit {
		record.events = record.events[len(record.events)-s.limit:]
	}
	record.consecutiveFails++
	streak := record.consecutiveFails
	flipped := record.healthy && streak >= s.unhealthyAfter
	if flipped {
		record.healthy = false
	}
	s.mu.Unlock()

	if dbErr := s.ds.SaveDiagnosticEvent(&datastore.DiagnosticEvent{
		CameraID: cameraID,
		Kind:     event.Kind,
		Detail:   event.Detail,
	}); dbErr != nil {
		s.logger.Error("failed to persist diagnostic event", "camera", cameraID, "error", dbErr)
	}

	if flipped {
		s.logger.Warn("camera marked unhealthy", "camera", cameraID, "consecutive_fails", streak)
	}
	return flipped
}

// RecordSuccess resets the failure streak and returns true when the camera
// recovered from unhealthy.
func (s *Service) RecordSuccess(cameraID string) bool {
	now := time.Now()
	s.mu.Lock()
	record := s.record(cameraID)
	record.consecutiveFails = 0
	record.lastSuccess = &now
	recovered := !record.healthy
	record.healthy = true
	s.mu.Unlock()

	if recovered {
		s.logger.Info("camera recovered", "camera", cameraID)
	}
	return recovered
}

// IsHealthy reports the camera's current health. Unknown cameras are healthy.
func (s *Service) IsHealthy(cameraID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.cameras[cameraID]; ok {
		return record.healthy
	}
	return true
}

// ConsecutiveFails returns the camera's current failure streak.
func (s *Service) ConsecutiveFails(cameraID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.cameras[cameraID]; ok {
		return record.consecutiveFails
	}
	return 0
}

// Health returns the snapshot for one camera.
func (s *Service) Health(cameraID string) CameraHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.cameras[cameraID]
	if !ok {
		return CameraHealth{CameraID: cameraID, Healthy: true}
	}
	return snapshot(cameraID, record)
}

// HealthAll returns snapshots for every camera seen so far.
func (s *Service) HealthAll() []CameraHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CameraHealth, 0, len(s.cameras))
	for cameraID, record := range s.cameras {
		out = append(out, snapshot(cameraID, record))
	}
	return out
}

// Events returns the most recent in-memory events for a camera, newest first.
func (s *Service) Events(cameraID string, limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.cameras[cameraID]
	if !ok {
		return nil
	}
	events := record.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	for i := range events {
		out[len(events)-1-i] = events[i]
	}
	return out
}

func snapshot(cameraID string, record *cameraRecord) CameraHealth {
	health := CameraHealth{
		CameraID:         cameraID,
		Healthy:          record.healthy,
		ConsecutiveFails: record.consecutiveFails,
		LastSuccess:      record.lastSuccess,
	}
	if n := len(record.events); n > 0 {
		last := record.events[n-1]
		health.LastEvent = &last
	}
	return health
}
