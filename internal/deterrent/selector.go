package deterrent

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/logging"
	"github.com/mkarjala/foewatch-go/internal/observability/metrics"
)

// Selection strategies, also used as metric labels.
const (
	StrategyExplore = "explore"
	StrategyExploit = "exploit"
)

// Selection is the outcome of picking a deterrent sound for a foe detection.
type Selection struct {
	Attempt  *datastore.DeterrentAttempt
	Sound    conf.SoundConfig
	Strategy string
}

// Selector picks a deterrent sound per foe category, balancing trying
// under-sampled sounds against favoring the best known one.
type Selector struct {
	settings *conf.DeterrentSettings
	store    *EffectivenessStore
	ds       datastore.Interface
	metrics  *metrics.DeterrentMetrics
	logger   *slog.Logger

	exploreProb atomic.Uint64 // float64 bits, adjustable at runtime
	randFloat   func() float64
}

// NewSelector creates a selector with the configured explore probability.
func NewSelector(settings *conf.DeterrentSettings, store *EffectivenessStore, ds datastore.Interface, m *metrics.DeterrentMetrics) *Selector {
	s := &Selector{
		settings:  settings,
		store:     store,
		ds:        ds,
		metrics:   m,
		logger:    logging.ForService("deterrent"),
		randFloat: rand.Float64,
	}
	s.exploreProb.Store(math.Float64bits(settings.ExploreProbability))
	return s
}

// ExploreProbability returns the current exploration probability.
func (s *Selector) ExploreProbability() float64 {
	return math.Float64frombits(s.exploreProb.Load())
}

// SetExploreProbability adjusts the exploration probability at runtime.
func (s *Selector) SetExploreProbability(p float64) error {
	if p < 0 || p > 1 {
		return errors.Newf("explore probability %v outside [0, 1]", p).
			Component("deterrent").
			Category(errors.CategoryValidation).
			Build()
	}
	s.exploreProb.Store(math.Float64bits(p))
	s.logger.Info("explore probability updated", "probability", p)
	return nil
}

// Select picks a sound for the detection's foe category and creates a pending
// attempt. A nil selection with nil error means no sound is registered for
// the category and no attempt was created.
func (s *Selector) Select(detection *datastore.Detection) (*Selection, error) {
	pool := s.settings.Sounds[detection.Category]
	if len(pool) == 0 {
		s.logger.Warn("no sound available", "category", detection.Category, "camera", detection.CameraID)
		return nil, nil
	}

	var sound conf.SoundConfig
	strategy := StrategyExploit
	if s.randFloat() < s.ExploreProbability() {
		strategy = StrategyExplore
		sound = pool[rand.IntN(len(pool))]
	} else {
		sound = s.pickBest(detection.Category, pool)
	}

	attempt := &datastore.DeterrentAttempt{
		ID:          uuid.NewString(),
		DetectionID: detection.ID,
		CameraID:    detection.CameraID,
		Category:    detection.Category,
		SoundID:     sound.ID,
		StartedAt:   time.Now(),
		Outcome:     datastore.OutcomePending,
	}
	if err := s.ds.SaveDeterrentAttempt(attempt); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AttemptsCreated.Inc()
		s.metrics.Selections.WithLabelValues(strategy).Inc()
	}
	s.logger.Info("deterrent sound selected",
		"camera", detection.CameraID,
		"category", detection.Category,
		"sound", sound.ID,
		"strategy", strategy)
	return &Selection{Attempt: attempt, Sound: sound, Strategy: strategy}, nil
}

// pickBest returns the pool entry with the highest smoothed success ratio.
// Ties go to the sound with fewer attempts, then to the most recent success.
func (s *Selector) pickBest(category string, pool []conf.SoundConfig) conf.SoundConfig {
	best := pool[0]
	bestStats := s.store.Stats(category, best.ID)
	for _, candidate := range pool[1:] {
		stats := s.store.Stats(category, candidate.ID)
		if betterThan(stats, bestStats) {
			best = candidate
			bestStats = stats
		}
	}
	return best
}

func betterThan(a, b datastore.SoundEffectiveness) bool {
	if a.Ratio() != b.Ratio() {
		return a.Ratio() > b.Ratio()
	}
	if a.Attempts != b.Attempts {
		return a.Attempts < b.Attempts
	}
	return lastSuccess(a).After(lastSuccess(b))
}

func lastSuccess(s datastore.SoundEffectiveness) time.Time {
	if s.LastSuccessAt == nil {
		return time.Time{}
	}
	return *s.LastSuccessAt
}
