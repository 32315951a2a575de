package deterrent

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/logging"
	"github.com/mkarjala/foewatch-go/internal/observability/metrics"
)

// pendingAttempt wraps a stored attempt with the observation evidence
// gathered so far during its window.
type pendingAttempt struct {
	attempt  datastore.DeterrentAttempt
	observed bool // at least one classified frame seen since playback
}

// Tracker resolves pending deterrent attempts from later observations on the
// same camera. An attempt resolves failure when its foe category is seen
// again within the window, success when the window passes with classified
// frames but no re-sighting, and unknown when the window passes without any
// classified frame at all.
type Tracker struct {
	settings *conf.DeterrentSettings
	ds       datastore.Interface
	store    *EffectivenessStore
	metrics  *metrics.DeterrentMetrics
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string][]*pendingAttempt // camera id -> attempts in flight
}

// NewTracker creates a tracker and reloads attempts left pending by an
// earlier run so they still resolve.
func NewTracker(settings *conf.DeterrentSettings, ds datastore.Interface, store *EffectivenessStore, m *metrics.DeterrentMetrics) (*Tracker, error) {
	t := &Tracker{
		settings: settings,
		ds:       ds,
		store:    store,
		metrics:  m,
		logger:   logging.ForService("deterrent"),
		pending:  make(map[string][]*pendingAttempt),
	}

	persisted, err := ds.GetPendingAttempts()
	if err != nil {
		return nil, errors.New(err).
			Component("deterrent").
			Category(errors.CategoryDatabase).
			Context("operation", "reload_pending").
			Build()
	}
	for _, attempt := range persisted {
		t.pending[attempt.CameraID] = append(t.pending[attempt.CameraID], &pendingAttempt{attempt: attempt})
	}
	t.updatePendingGauge()
	return t, nil
}

// Track registers a freshly created pending attempt for outcome resolution.
func (t *Tracker) Track(attempt *datastore.DeterrentAttempt) {
	t.mu.Lock()
	t.pending[attempt.CameraID] = append(t.pending[attempt.CameraID], &pendingAttempt{attempt: *attempt})
	t.mu.Unlock()
	t.updatePendingGauge()
}

// Observe feeds the tracker one classified frame: the foe categories resolved
// on the camera this tick, empty for friend-only or unclassified-species
// frames. Skipped frames never reach the tracker. A re-sighting of an
// attempt's category resolves it failure immediately.
func (t *Tracker) Observe(cameraID string, foeCategories []string, at time.Time) {
	t.mu.Lock()
	var failures []datastore.DeterrentAttempt
	kept := t.pending[cameraID][:0]
	for _, p := range t.pending[cameraID] {
		// frames outside the window carry no evidence; the sweep picks up
		// attempts whose window already elapsed
		if at.Before(p.attempt.StartedAt) || at.After(p.attempt.StartedAt.Add(t.settings.ObservationWindow)) {
			kept = append(kept, p)
			continue
		}
		if slices.Contains(foeCategories, p.attempt.Category) {
			failures = append(failures, p.attempt)
			continue
		}
		p.observed = true
		kept = append(kept, p)
	}
	t.pending[cameraID] = kept
	t.mu.Unlock()

	for _, attempt := range failures {
		t.resolve(attempt, datastore.OutcomeFailure, at)
	}
	t.updatePendingGauge()
}

// Run sweeps expired windows until the context is cancelled, then resolves
// everything still pending as unknown so no attempt is lost on shutdown.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.settings.ObservationWindow / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Flush(time.Now())
			return
		case now := <-ticker.C:
			t.sweep(now)
		}
	}
}

// sweep resolves attempts whose observation window has elapsed.
func (t *Tracker) sweep(now time.Time) {
	type expired struct {
		attempt  datastore.DeterrentAttempt
		outcome  string
		deadline time.Time
	}

	t.mu.Lock()
	var done []expired
	for cameraID, attempts := range t.pending {
		kept := attempts[:0]
		for _, p := range attempts {
			deadline := p.attempt.StartedAt.Add(t.settings.ObservationWindow)
			if now.Before(deadline) {
				kept = append(kept, p)
				continue
			}
			outcome := datastore.OutcomeUnknown
			if p.observed {
				outcome = datastore.OutcomeSuccess
			}
			done = append(done, expired{attempt: p.attempt, outcome: outcome, deadline: deadline})
		}
		t.pending[cameraID] = kept
	}
	t.mu.Unlock()

	for _, e := range done {
		t.resolve(e.attempt, e.outcome, e.deadline)
	}
	if len(done) > 0 {
		t.updatePendingGauge()
	}
}

// Flush resolves every attempt still pending as unknown.
func (t *Tracker) Flush(now time.Time) {
	t.mu.Lock()
	var remaining []datastore.DeterrentAttempt
	for cameraID, attempts := range t.pending {
		for _, p := range attempts {
			remaining = append(remaining, p.attempt)
		}
		delete(t.pending, cameraID)
	}
	t.mu.Unlock()

	for _, attempt := range remaining {
		t.resolve(attempt, datastore.OutcomeUnknown, now)
	}
	t.updatePendingGauge()
}

// Abandon resolves an attempt whose sound never played as unknown. The
// attempt was already persisted pending and still counts against the sound.
func (t *Tracker) Abandon(attempt *datastore.DeterrentAttempt, at time.Time) {
	t.resolve(*attempt, datastore.OutcomeUnknown, at)
}

// PendingCount returns the number of attempts awaiting an outcome.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, attempts := range t.pending {
		n += len(attempts)
	}
	return n
}

// resolve persists the outcome and updates the effectiveness counters. A
// duplicate resolution is detected by the datastore and must not count a
// second attempt.
func (t *Tracker) resolve(attempt datastore.DeterrentAttempt, outcome string, at time.Time) {
	err := t.ds.ResolveDeterrentAttempt(attempt.ID, outcome, at)
	if errors.Is(err, datastore.ErrAttemptAlreadyResolved) {
		t.logger.Debug("attempt already resolved", "attempt", attempt.ID)
		return
	}
	if err != nil {
		t.logger.Error("failed to resolve attempt", "attempt", attempt.ID, "outcome", outcome, "error", err)
		return
	}

	if err := t.store.Record(attempt.Category, attempt.SoundID, outcome == datastore.OutcomeSuccess, at); err != nil {
		t.logger.Error("failed to record effectiveness", "attempt", attempt.ID, "error", err)
	}
	if t.metrics != nil {
		t.metrics.Resolutions.WithLabelValues(outcome).Inc()
	}
	t.logger.Info("deterrent attempt resolved",
		"attempt", attempt.ID,
		"camera", attempt.CameraID,
		"category", attempt.Category,
		"sound", attempt.SoundID,
		"outcome", outcome)
}

func (t *Tracker) updatePendingGauge() {
	if t.metrics != nil {
		t.metrics.PendingAttempts.Set(float64(t.PendingCount()))
	}
}
