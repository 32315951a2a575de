package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/mkarjala/foewatch-go/internal/cascade"
	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/frame"
	"github.com/mkarjala/foewatch-go/internal/taxonomy"
)

// Tick result labels for the scheduler metrics.
const (
	tickSkipped      = "skipped"
	tickClear        = "clear"
	tickDetection    = "detection"
	tickCaptureError = "capture_error"
	tickInconclusive = "inconclusive"
)

// cameraLoop holds the mutable per-camera pipeline state. All fields past
// the mutex are only touched by the tick holding it.
type cameraLoop struct {
	cfg       conf.CameraConfig
	scheduler conf.SchedulerSettings

	mu sync.Mutex // held for the duration of a tick

	storedHash       uint64
	hasHash          bool
	consecutiveSkips int
	failureStreak    int
	unhealthy        bool
}

func newCameraLoop(cfg conf.CameraConfig, scheduler conf.SchedulerSettings) *cameraLoop {
	return &cameraLoop{cfg: cfg, scheduler: scheduler}
}

// interval returns the current polling interval: the configured base,
// doubled per consecutive failed tick up to the backoff ceiling.
func (l *cameraLoop) interval() time.Duration {
	l.mu.Lock()
	streak := l.failureStreak
	l.mu.Unlock()

	interval := l.cfg.PollInterval
	for i := 0; i < streak; i++ {
		interval *= 2
		if interval >= l.scheduler.BackoffCeiling {
			return l.scheduler.BackoffCeiling
		}
	}
	return interval
}

// tick captures and processes one frame for the camera. At most one tick per
// camera runs at a time; a second caller gets ErrTickInFlight.
func (s *Scheduler) tick(ctx context.Context, loop *cameraLoop) error {
	if !loop.mu.TryLock() {
		if s.metrics != nil {
			s.metrics.Scheduler.ConcurrencyViolations.Inc()
		}
		return ErrTickInFlight
	}
	defer loop.mu.Unlock()

	start := time.Now()
	result, err := s.runTick(ctx, loop, start)
	if s.metrics != nil {
		s.metrics.Scheduler.TickDuration.Observe(time.Since(start).Seconds())
		s.metrics.Scheduler.Ticks.WithLabelValues(loop.cfg.ID, result).Inc()
	}

	switch result {
	case tickCaptureError, tickInconclusive:
		loop.failureStreak++
		s.recordFailure(loop, err)
	default:
		loop.failureStreak = 0
		s.recordSuccess(loop)
	}
	return err
}

// runTick is the pipeline for one frame: capture, change gate, cascade,
// resolve, deter, observe.
func (s *Scheduler) runTick(ctx context.Context, loop *cameraLoop, now time.Time) (string, error) {
	cameraID := loop.cfg.ID

	captureCtx, cancel := context.WithTimeout(ctx, s.settings.Scheduler.CaptureTimeout)
	image, err := s.source.Capture(captureCtx, loop.cfg.Transport)
	cancel()
	if err != nil {
		return tickCaptureError, errors.New(err).
			Component("scheduler").
			Category(errors.CategoryCapture).
			Context("camera", cameraID).
			Build()
	}

	decision, hashErr := s.filter.Evaluate(image, loop.storedHash, loop.hasHash, loop.consecutiveSkips)
	if hashErr != nil {
		// fail open: the frame goes through the cascade, the hash problem
		// is logged for diagnostics
		s.logger.Warn("frame hash failed, processing anyway", "camera", cameraID, "error", hashErr)
		s.diagnostics.RecordFailure(cameraID, hashErr)
	}

	if !decision.Process {
		loop.consecutiveSkips++
		if s.metrics != nil {
			s.metrics.Cascade.FramesSkipped.Inc()
		}
		return tickSkipped, nil
	}
	loop.consecutiveSkips = 0
	if s.metrics != nil {
		s.metrics.Cascade.FramesProcessed.Inc()
	}

	frm := &frame.Frame{
		CameraID:  cameraID,
		Timestamp: now,
		Image:     image,
		Hash:      decision.Hash,
		HashValid: decision.HashValid,
	}

	// the stored hash advances only for frames judged changed; forced audit
	// samples leave it alone so the next comparison still runs against the
	// last genuine change
	if decision.HashValid && !decision.Forced {
		loop.storedHash = decision.Hash
		loop.hasHash = true
		s.persistCameraState(loop)
	}

	// A first frame has no baseline (distance -1), so it carries no evidence
	// of visual change and must not arm the whole-frame cloud fallback.
	largeChange := decision.HashValid && !decision.Forced && decision.Distance >= 0
	output, err := s.cascade.Classify(ctx, frm, largeChange)
	if output.Inconclusive {
		return tickInconclusive, err
	}

	foeCategories := s.handleResults(ctx, frm, output.Results, output.Cost)
	s.tracker.Observe(cameraID, foeCategories, now)

	if len(output.Results) == 0 {
		return tickClear, nil
	}
	return tickDetection, nil
}

// handleResults persists and publishes each classified region, and runs the
// deterrent pipeline for foes. Returns the foe categories seen this frame.
func (s *Scheduler) handleResults(ctx context.Context, frm *frame.Frame, results []cascade.Result, frameCost float64) []string {
	var foeCategories []string
	for i, result := range results {
		resolution := s.resolver.Resolve(result.Species, result.Confidence)

		detection := &datastore.Detection{
			CameraID:        frm.CameraID,
			FrameHash:       frame.FormatHash(frm.Hash),
			Species:         result.Species,
			Category:        resolution.Category,
			Kind:            string(resolution.Kind),
			Confidence:      result.Confidence,
			Stage:           result.Stage,
			TaxonomyVersion: s.resolver.Version(),
			CreatedAt:       frm.Timestamp,
		}
		if i == 0 {
			// the frame's cascade cost is booked once, on the first detection
			detection.Cost = frameCost
		}
		if err := s.ds.SaveDetection(detection); err != nil {
			s.logger.Error("failed to save detection", "camera", frm.CameraID, "species", result.Species, "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.Cascade.Detections.WithLabelValues(string(resolution.Kind)).Inc()
		}
		if s.publisher != nil {
			s.publisher.PublishDetection(ctx, detection)
		}
		s.logger.Info("detection",
			"camera", frm.CameraID,
			"species", result.Species,
			"kind", string(resolution.Kind),
			"category", resolution.Category,
			"confidence", result.Confidence,
			"stage", result.Stage)

		if resolution.Kind != taxonomy.KindFoe {
			continue
		}
		foeCategories = append(foeCategories, resolution.Category)
		s.deter(ctx, detection)
	}
	return foeCategories
}

// deter picks a sound for the foe detection, plays it and hands the pending
// attempt to the tracker.
func (s *Scheduler) deter(ctx context.Context, detection *datastore.Detection) {
	selection, err := s.selector.Select(detection)
	if err != nil {
		s.logger.Error("sound selection failed", "camera", detection.CameraID, "category", detection.Category, "error", err)
		return
	}
	if selection == nil {
		return
	}

	playCtx, cancel := context.WithTimeout(ctx, s.settings.Deterrent.PlaybackTimeout)
	err = s.playback.Play(playCtx, detection.CameraID, selection.Sound.Path)
	cancel()
	if err != nil {
		// a sound that never played measures nothing; the attempt resolves
		// unknown right away
		if s.metrics != nil {
			s.metrics.Deterrent.PlaybackErrors.Inc()
		}
		s.logger.Error("playback failed", "camera", detection.CameraID, "sound", selection.Sound.ID, "error", err)
		s.tracker.Abandon(selection.Attempt, time.Now())
		return
	}

	s.tracker.Track(selection.Attempt)
	if s.publisher != nil {
		s.publisher.PublishAttempt(ctx, selection.Attempt)
	}
}

func (s *Scheduler) recordFailure(loop *cameraLoop, err error) {
	if err == nil {
		return
	}
	flipped := s.diagnostics.RecordFailure(loop.cfg.ID, err)
	if s.metrics != nil {
		s.metrics.Scheduler.DiagnosticEvents.WithLabelValues(loop.cfg.ID).Inc()
	}
	if flipped {
		loop.unhealthy = true
		if s.metrics != nil {
			s.metrics.Scheduler.UnhealthyCameras.Inc()
		}
		s.persistCameraState(loop)
	}
}

func (s *Scheduler) recordSuccess(loop *cameraLoop) {
	recovered := s.diagnostics.RecordSuccess(loop.cfg.ID)
	if recovered && loop.unhealthy {
		loop.unhealthy = false
		if s.metrics != nil {
			s.metrics.Scheduler.UnhealthyCameras.Dec()
		}
		s.persistCameraState(loop)
	}
}

func (s *Scheduler) persistCameraState(loop *cameraLoop) {
	state := &datastore.CameraState{
		CameraID:  loop.cfg.ID,
		Healthy:   !loop.unhealthy,
		UpdatedAt: time.Now(),
	}
	if loop.hasHash {
		state.LastHash = frame.FormatHash(loop.storedHash)
	}
	if err := s.ds.SaveCameraState(state); err != nil {
		s.logger.Error("failed to persist camera state", "camera", loop.cfg.ID, "error", err)
	}
}
