// model.go this code defines the data model for the application
package datastore

import "time"

// Outcome values for a DeterrentAttempt.
const (
	OutcomePending = "pending"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeUnknown = "unknown"
)

// Kind values for a Detection.
const (
	KindFoe     = "foe"
	KindFriend  = "friend"
	KindUnknown = "unknown"
)

// Detection represents a single resolved classification of a frame.
// Detections are immutable once written.
type Detection struct {
	ID              uint   `gorm:"primaryKey"`
	CameraID        string `gorm:"index:idx_detections_camera;index:idx_detections_camera_category"`
	FrameHash       string // perceptual hash of the source frame, hex encoded
	Species         string // raw species label from the winning stage
	Category        string `gorm:"index:idx_detections_camera_category"` // resolved foe or friend category
	Kind            string // foe, friend or unknown
	Confidence      float64
	Stage           int       // cascade stage that produced the winning label (1..3)
	Cost            float64   // monetary cost incurred by the cascade for this frame
	TaxonomyVersion string    // taxonomy table version used to resolve the label
	CreatedAt       time.Time `gorm:"index"`
}

// DeterrentAttempt records one deterrent sound played against a foe detection.
// It is created pending and mutated exactly once when resolved.
type DeterrentAttempt struct {
	ID          string `gorm:"primaryKey"` // UUID
	DetectionID uint   `gorm:"index"`
	CameraID    string `gorm:"index"`
	Category    string
	SoundID     string
	StartedAt   time.Time
	Outcome     string `gorm:"index"` // pending, success, failure or unknown
	ResolvedAt  *time.Time
}

// SoundEffectiveness aggregates attempt outcomes per (foe category, sound).
// Counters only ever increase; rows are never deleted.
type SoundEffectiveness struct {
	ID            uint   `gorm:"primaryKey"`
	Category      string `gorm:"uniqueIndex:idx_effectiveness_key"`
	SoundID       string `gorm:"uniqueIndex:idx_effectiveness_key"`
	Attempts      int
	Successes     int
	LastSuccessAt *time.Time
	UpdatedAt     time.Time
}

// Ratio returns the Laplace-smoothed success ratio (successes+1)/(attempts+2).
func (s *SoundEffectiveness) Ratio() float64 {
	return float64(s.Successes+1) / float64(s.Attempts+2)
}

// DiagnosticEvent records a failure or anomaly tied to a camera.
type DiagnosticEvent struct {
	ID        uint      `gorm:"primaryKey"`
	CameraID  string    `gorm:"index:idx_diagnostics_camera"`
	Kind      string    // error kind, e.g. capture, image-hash, cloud-stage
	Detail    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// CameraState persists per-camera pipeline state across restarts. The stored
// hash updates only when a frame was judged changed, never on skipped frames.
type CameraState struct {
	CameraID  string `gorm:"primaryKey"`
	LastHash  string // last processed perceptual hash, hex encoded, empty if none
	Healthy   bool
	UpdatedAt time.Time
}
