// Package scheduler drives the per-camera polling loops that feed captured
// frames through the change filter, the classifier cascade, the foe/friend
// resolver and the deterrent pipeline.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkarjala/foewatch-go/internal/cascade"
	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/mkarjala/foewatch-go/internal/deterrent"
	"github.com/mkarjala/foewatch-go/internal/diagnostics"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/frame"
	"github.com/mkarjala/foewatch-go/internal/logging"
	"github.com/mkarjala/foewatch-go/internal/observability"
	"github.com/mkarjala/foewatch-go/internal/providers"
	"github.com/mkarjala/foewatch-go/internal/taxonomy"
	"golang.org/x/sync/errgroup"
)

// ErrTickInFlight is returned when a tick is requested for a camera that is
// already mid-tick. A camera processes at most one frame at a time.
var ErrTickInFlight = errors.NewStd("camera tick already in flight")

// ErrUnknownCamera is returned for tick requests naming no configured camera.
var ErrUnknownCamera = errors.NewStd("unknown camera")

// Scheduler owns one polling loop per enabled camera.
type Scheduler struct {
	settings    *conf.Settings
	source      providers.ImageSource
	playback    providers.Playback
	filter      *frame.ChangeFilter
	cascade     *cascade.Cascade
	resolver    *taxonomy.Resolver
	selector    *deterrent.Selector
	tracker     *deterrent.Tracker
	ds          datastore.Interface
	diagnostics *diagnostics.Service
	publisher   EventPublisher
	metrics     *observability.Metrics
	logger      *slog.Logger

	cameras map[string]*cameraLoop
}

// EventPublisher receives pipeline events for outward publication. Publishing
// is best effort and must never block a tick for long.
type EventPublisher interface {
	PublishDetection(ctx context.Context, detection *datastore.Detection)
	PublishAttempt(ctx context.Context, attempt *datastore.DeterrentAttempt)
}

// Deps bundles the collaborators a scheduler needs.
type Deps struct {
	Source      providers.ImageSource
	Playback    providers.Playback
	Filter      *frame.ChangeFilter
	Cascade     *cascade.Cascade
	Resolver    *taxonomy.Resolver
	Selector    *deterrent.Selector
	Tracker     *deterrent.Tracker
	Datastore   datastore.Interface
	Diagnostics *diagnostics.Service
	Publisher   EventPublisher // optional
	Metrics     *observability.Metrics
}

// New creates a scheduler for the enabled cameras, seeding per-camera state
// from what the previous run persisted.
func New(settings *conf.Settings, deps Deps) (*Scheduler, error) {
	s := &Scheduler{
		settings:    settings,
		source:      deps.Source,
		playback:    deps.Playback,
		filter:      deps.Filter,
		cascade:     deps.Cascade,
		resolver:    deps.Resolver,
		selector:    deps.Selector,
		tracker:     deps.Tracker,
		ds:          deps.Datastore,
		diagnostics: deps.Diagnostics,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		logger:      logging.ForService("scheduler"),
		cameras:     make(map[string]*cameraLoop),
	}

	persisted, err := deps.Datastore.GetCameraStates()
	if err != nil {
		return nil, errors.New(err).
			Component("scheduler").
			Category(errors.CategoryDatabase).
			Context("operation", "load_camera_states").
			Build()
	}
	states := make(map[string]datastore.CameraState, len(persisted))
	for _, state := range persisted {
		states[state.CameraID] = state
	}

	for _, camera := range settings.EnabledCameras() {
		loop := newCameraLoop(camera, settings.Scheduler)
		if state, ok := states[camera.ID]; ok && state.LastHash != "" {
			if hash, ok := frame.ParseHash(state.LastHash); ok {
				loop.storedHash = hash
				loop.hasHash = true
			}
		}
		s.cameras[camera.ID] = loop
	}
	return s, nil
}

// Run starts all camera loops and the outcome sweeper, and blocks until the
// context is cancelled. In-flight ticks get the configured grace period to
// finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.tracker.Run(groupCtx)
		return nil
	})
	for _, loop := range s.cameras {
		g.Go(func() error {
			s.runCamera(groupCtx, loop)
			return nil
		})
	}
	s.logger.Info("scheduler started", "cameras", len(s.cameras))

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		s.logger.Info("scheduler stopped")
		return err
	case <-time.After(s.settings.Scheduler.ShutdownGrace):
		s.logger.Warn("shutdown grace elapsed with ticks still in flight")
		return nil
	}
}

// runCamera polls one camera at its current interval. The timer is rearmed
// only after a tick completes, so a slow tick stretches the cycle instead of
// piling up.
func (s *Scheduler) runCamera(ctx context.Context, loop *cameraLoop) {
	s.logger.Info("camera loop started", "camera", loop.cfg.ID, "interval", loop.cfg.PollInterval)
	timer := time.NewTimer(loop.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := s.tick(ctx, loop); err != nil && !errors.Is(err, ErrTickInFlight) {
				s.logger.Debug("tick failed", "camera", loop.cfg.ID, "error", err)
			}
			timer.Reset(loop.interval())
		}
	}
}

// TriggerCycle runs a single tick for the camera outside its schedule.
// Returns ErrTickInFlight when the camera is already processing a frame.
func (s *Scheduler) TriggerCycle(ctx context.Context, cameraID string) error {
	loop, ok := s.cameras[cameraID]
	if !ok {
		return ErrUnknownCamera
	}
	return s.tick(ctx, loop)
}

// Cameras returns the configured camera IDs.
func (s *Scheduler) Cameras() []string {
	ids := make([]string, 0, len(s.cameras))
	for id := range s.cameras {
		ids = append(ids, id)
	}
	return ids
}
