// Package datastore provides the persistence layer backed by a GORM database.
package datastore

import (
	"fmt"
	"time"

	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"gorm.io/gorm"
)

// ErrAttemptAlreadyResolved is returned when a deterrent attempt resolution is
// attempted a second time. Duplicate resolutions must not double-count.
var ErrAttemptAlreadyResolved = errors.NewStd("deterrent attempt already resolved")

// Interface abstracts the storage engine from the pipeline.
type Interface interface {
	Open() error
	Close() error

	SaveDetection(detection *Detection) error
	GetRecentDetections(cameraID string, limit int) ([]Detection, error)

	SaveDeterrentAttempt(attempt *DeterrentAttempt) error
	ResolveDeterrentAttempt(id, outcome string, resolvedAt time.Time) error
	GetPendingAttempts() ([]DeterrentAttempt, error)

	RecordEffectiveness(category, soundID string, success bool, at time.Time) error
	GetEffectiveness() ([]SoundEffectiveness, error)
	GetEffectivenessForCategory(category string) ([]SoundEffectiveness, error)

	SaveDiagnosticEvent(event *DiagnosticEvent) error
	GetDiagnosticEvents(cameraID string, limit int) ([]DiagnosticEvent, error)

	SaveCameraState(state *CameraState) error
	GetCameraStates() ([]CameraState, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		// validation rejects this combination before the pipeline starts
		return nil
	}
}

// SaveDetection inserts a new Detection record.
func (ds *DataStore) SaveDetection(detection *Detection) error {
	if err := ds.DB.Create(detection).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_detection").
			Build()
	}
	return nil
}

// GetRecentDetections returns the most recent detections for a camera, newest first.
func (ds *DataStore) GetRecentDetections(cameraID string, limit int) ([]Detection, error) {
	var detections []Detection
	err := ds.DB.Where("camera_id = ?", cameraID).
		Order("created_at DESC").
		Limit(limit).
		Find(&detections).Error
	if err != nil {
		return nil, fmt.Errorf("getting recent detections for %s: %w", cameraID, err)
	}
	return detections, nil
}

// SaveDeterrentAttempt inserts a new attempt, normally in pending state.
func (ds *DataStore) SaveDeterrentAttempt(attempt *DeterrentAttempt) error {
	if err := ds.DB.Create(attempt).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_attempt").
			Build()
	}
	return nil
}

// ResolveDeterrentAttempt mutates a pending attempt exactly once. A second
// resolution returns ErrAttemptAlreadyResolved and leaves the row untouched.
func (ds *DataStore) ResolveDeterrentAttempt(id, outcome string, resolvedAt time.Time) error {
	result := ds.DB.Model(&DeterrentAttempt{}).
		Where("id = ? AND outcome = ?", id, OutcomePending).
		Updates(map[string]any{"outcome": outcome, "resolved_at": resolvedAt})
	if result.Error != nil {
		return fmt.Errorf("resolving attempt %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAttemptAlreadyResolved
	}
	return nil
}

// GetPendingAttempts returns all attempts still awaiting an outcome.
func (ds *DataStore) GetPendingAttempts() ([]DeterrentAttempt, error) {
	var attempts []DeterrentAttempt
	if err := ds.DB.Where("outcome = ?", OutcomePending).Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("getting pending attempts: %w", err)
	}
	return attempts, nil
}

// RecordEffectiveness increments the per (category, sound) counters inside a
// transaction so concurrent resolutions never lose updates.
func (ds *DataStore) RecordEffectiveness(category, soundID string, success bool, at time.Time) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var record SoundEffectiveness
		err := tx.Where("category = ? AND sound_id = ?", category, soundID).First(&record).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			record = SoundEffectiveness{Category: category, SoundID: soundID}
		case err != nil:
			return err
		}

		record.Attempts++
		if success {
			record.Successes++
			record.LastSuccessAt = &at
		}
		record.UpdatedAt = at
		return tx.Save(&record).Error
	})
}

// GetEffectiveness returns all effectiveness records.
func (ds *DataStore) GetEffectiveness() ([]SoundEffectiveness, error) {
	var records []SoundEffectiveness
	if err := ds.DB.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting effectiveness records: %w", err)
	}
	return records, nil
}

// GetEffectivenessForCategory returns effectiveness records for one foe category.
func (ds *DataStore) GetEffectivenessForCategory(category string) ([]SoundEffectiveness, error) {
	var records []SoundEffectiveness
	if err := ds.DB.Where("category = ?", category).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting effectiveness records for %s: %w", category, err)
	}
	return records, nil
}

// SaveDiagnosticEvent inserts a new diagnostic event.
func (ds *DataStore) SaveDiagnosticEvent(event *DiagnosticEvent) error {
	if err := ds.DB.Create(event).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_diagnostic").
			Build()
	}
	return nil
}

// GetDiagnosticEvents returns the most recent diagnostic events for a camera.
func (ds *DataStore) GetDiagnosticEvents(cameraID string, limit int) ([]DiagnosticEvent, error) {
	var events []DiagnosticEvent
	err := ds.DB.Where("camera_id = ?", cameraID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("getting diagnostic events for %s: %w", cameraID, err)
	}
	return events, nil
}

// SaveCameraState upserts the persisted per-camera state.
func (ds *DataStore) SaveCameraState(state *CameraState) error {
	if err := ds.DB.Save(state).Error; err != nil {
		return fmt.Errorf("saving camera state for %s: %w", state.CameraID, err)
	}
	return nil
}

// GetCameraStates returns the persisted state of all known cameras.
func (ds *DataStore) GetCameraStates() ([]CameraState, error) {
	var states []CameraState
	if err := ds.DB.Find(&states).Error; err != nil {
		return nil, fmt.Errorf("getting camera states: %w", err)
	}
	return states, nil
}
