// Package cascade orchestrates the classifier stages run against a frame:
// a fast local animal detector, a per-region species identifier, and a
// metered cloud vision fallback. Stages are ordered by cost and short-circuit
// on confident results.
package cascade

import (
	"context"
	"log/slog"

	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/frame"
	"github.com/mkarjala/foewatch-go/internal/logging"
	"github.com/mkarjala/foewatch-go/internal/observability/metrics"
	"github.com/mkarjala/foewatch-go/internal/providers"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Result is one classified region of a frame. Region is zero for whole-frame
// cloud results.
type Result struct {
	Species     string
	FoeCategory string // provider hint, the taxonomy resolver has the final say
	Confidence  float64
	Region      providers.Region
	Stage       int // stage that produced the winning label
}

// Output is the outcome of running the cascade on one frame.
type Output struct {
	Results      []Result
	Cost         float64 // monetary cost of stages actually invoked
	Inconclusive bool    // every attempted stage failed
}

// Cascade runs the ordered classifier stages.
type Cascade struct {
	settings   *conf.CascadeSettings
	detector   providers.Detector
	identifier providers.Identifier
	cloud      providers.CloudVision

	// cloud call hygiene: a per-minute budget and a result cache keyed by
	// perceptual hash so visually identical frames never pay twice
	cloudLimiter *rate.Limiter
	cloudCache   *gocache.Cache

	metrics *metrics.CascadeMetrics
	logger  *slog.Logger
}

// New creates a cascade. Any provider may be nil; the matching stage is
// skipped as if disabled.
func New(settings *conf.CascadeSettings, detector providers.Detector, identifier providers.Identifier, cloud providers.CloudVision, m *metrics.CascadeMetrics) *Cascade {
	perMinute := settings.Cloud.RatePerMinute
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Cascade{
		settings:     settings,
		detector:     detector,
		identifier:   identifier,
		cloud:        cloud,
		cloudLimiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		cloudCache:   gocache.New(settings.Cloud.CacheTTL, 2*settings.Cloud.CacheTTL),
		metrics:      m,
		logger:       logging.ForService("cascade"),
	}
}

// Classify runs the cascade against a frame. largeChange marks frames that
// passed the change gate on visual difference (not audit sampling); it arms
// the whole-frame cloud fallback when the detector finds nothing.
//
// A stage failure never aborts the cascade; it falls through to the next
// stage. The returned error is non-nil only for the inconclusive case, where
// every attempted stage failed, and describes the last failure for
// diagnostics.
func (c *Cascade) Classify(ctx context.Context, frm *frame.Frame, largeChange bool) (Output, error) {
	var out Output
	var lastErr error
	failed := 0
	record := func(status stageStatus, err error) {
		if status == stageFail {
			failed++
			lastErr = err
		}
	}

	regions, detStatus, err := c.runDetectorStage(ctx, frm)
	record(detStatus, err)

	detectorSawNothing := detStatus == stageSuccess && len(regions) == 0

	// Zero animal regions terminates the cascade unless the full-frame
	// fallback policy forces stage three.
	if detectorSawNothing && !(c.settings.Cloud.FullFrameFallback && largeChange) {
		return out, nil
	}

	unresolved := regions
	if len(regions) > 0 {
		var resolvedResults []Result
		var idStatus stageStatus
		resolvedResults, unresolved, idStatus, err = c.runIdentifierStage(ctx, frm, regions)
		record(idStatus, err)
		out.Results = append(out.Results, resolvedResults...)
	}

	// Regions still unresolved go to the cloud, as does the whole frame when
	// the detector found nothing on a large change or failed outright. The
	// cloud result is a later stage: where it meets its own confidence
	// threshold it wins over earlier low-confidence labels.
	wholeFrame := detectorSawNothing || (detStatus == stageFail && len(out.Results) == 0)
	if len(unresolved) > 0 || wholeFrame {
		cloudResults, cost, cloudStatus, cloudErr := c.runCloudStage(ctx, frm, unresolved)
		out.Cost += cost
		record(cloudStatus, cloudErr)
		if cloudStatus == stageSuccess {
			out.Results = append(out.Results, cloudResults...)
		}
	}

	// The frame is inconclusive when nothing was classified and at least one
	// stage failed trying: the failure chain, not a clean "no animal".
	if failed > 0 && len(out.Results) == 0 {
		out.Inconclusive = true
		if c.metrics != nil {
			c.metrics.Inconclusive.Inc()
		}
		return out, lastErr
	}
	return out, nil
}

// runDetectorStage runs the fast local animal detector.
func (c *Cascade) runDetectorStage(ctx context.Context, frm *frame.Frame) ([]providers.DetectedRegion, stageStatus, error) {
	if !c.settings.Detector.Enabled || c.detector == nil {
		return nil, stageSkip, nil
	}
	c.countStageCall("detector")

	var detected []providers.DetectedRegion
	err := callStage(ctx, c.settings.Detector.Timeout, c.settings.RetryDelay, func(stageCtx context.Context) error {
		var callErr error
		detected, callErr = c.detector.Detect(stageCtx, frm.Image)
		return callErr
	})
	if err != nil {
		c.countStageFailure("detector")
		c.logger.Warn("detector stage failed", "camera", frm.CameraID, "error", err)
		return nil, stageFail, errors.New(err).
			Component("cascade").
			Category(errors.CategoryDetectorStage).
			Context("camera", frm.CameraID).
			Build()
	}

	regions := detected[:0]
	for _, region := range detected {
		if region.Confidence >= c.settings.Detector.Confidence {
			regions = append(regions, region)
		}
	}
	return regions, stageSuccess, nil
}

// runIdentifierStage classifies each detected region. A confident result
// resolves the region; later stages are skipped for that region only.
func (c *Cascade) runIdentifierStage(ctx context.Context, frm *frame.Frame, regions []providers.DetectedRegion) ([]Result, []providers.DetectedRegion, stageStatus, error) {
	if !c.settings.Identifier.Enabled || c.identifier == nil {
		return nil, regions, stageSkip, nil
	}
	c.countStageCall("identifier")

	var results []Result
	var unresolved []providers.DetectedRegion
	var lastErr error
	failures := 0

	for _, region := range regions {
		var ident providers.Identification
		err := callStage(ctx, c.settings.Identifier.Timeout, c.settings.RetryDelay, func(stageCtx context.Context) error {
			var callErr error
			ident, callErr = c.identifier.Identify(stageCtx, frm.Image, region.Box)
			return callErr
		})
		switch {
		case err != nil:
			failures++
			lastErr = err
			unresolved = append(unresolved, region)
		case ident.Confidence >= c.settings.Identifier.Confidence:
			results = append(results, Result{
				Species:     ident.Species,
				FoeCategory: ident.FoeCategory,
				Confidence:  ident.Confidence,
				Region:      region.Box,
				Stage:       StageIdentifier,
			})
		default:
			// low confidence, leave the region for the cloud stage
			unresolved = append(unresolved, region)
		}
	}

	if failures == len(regions) && failures > 0 {
		c.countStageFailure("identifier")
		c.logger.Warn("identifier stage failed for all regions", "camera", frm.CameraID, "regions", len(regions), "error", lastErr)
		return nil, unresolved, stageFail, errors.New(lastErr).
			Component("cascade").
			Category(errors.CategoryIdentifierStage).
			Context("camera", frm.CameraID).
			Build()
	}
	return results, unresolved, stageSuccess, nil
}

// runCloudStage analyzes the full frame through the cloud fallback. The
// monetary cost is recorded per actual call; cached results are free.
func (c *Cascade) runCloudStage(ctx context.Context, frm *frame.Frame, unresolved []providers.DetectedRegion) ([]Result, float64, stageStatus, error) {
	if !c.settings.Cloud.Enabled || c.cloud == nil {
		return nil, 0, stageSkip, nil
	}
	c.countStageCall("cloud")

	ident, cost, err := c.analyzeWithCache(ctx, frm)
	if err != nil {
		c.countStageFailure("cloud")
		c.logger.Warn("cloud stage failed", "camera", frm.CameraID, "error", err)
		return nil, cost, stageFail, errors.New(err).
			Component("cascade").
			Category(errors.CategoryCloudStage).
			Context("camera", frm.CameraID).
			Build()
	}
	if ident.Confidence < c.settings.Cloud.Confidence {
		// ran fine but nothing usable; the stage still counts as invoked
		return nil, cost, stageSuccess, nil
	}

	var results []Result
	if len(unresolved) == 0 {
		// whole-frame fallback, no region attribution available
		results = append(results, Result{
			Species:     ident.Species,
			FoeCategory: ident.FoeCategory,
			Confidence:  ident.Confidence,
			Stage:       StageCloud,
		})
	} else {
		for _, region := range unresolved {
			results = append(results, Result{
				Species:     ident.Species,
				FoeCategory: ident.FoeCategory,
				Confidence:  ident.Confidence,
				Region:      region.Box,
				Stage:       StageCloud,
			})
		}
	}
	return results, cost, stageSuccess, nil
}

// analyzeWithCache serves repeated analyses of visually identical frames from
// the hash-keyed cache, and enforces the per-minute cloud call budget.
func (c *Cascade) analyzeWithCache(ctx context.Context, frm *frame.Frame) (providers.Identification, float64, error) {
	cacheKey := ""
	if frm.HashValid {
		cacheKey = frame.FormatHash(frm.Hash)
		if cached, found := c.cloudCache.Get(cacheKey); found {
			if c.metrics != nil {
				c.metrics.CacheHits.Inc()
			}
			return cached.(providers.Identification), 0, nil
		}
	}

	if !c.cloudLimiter.Allow() {
		return providers.Identification{}, 0, errors.Newf("cloud call budget exhausted").
			Component("cascade").
			Category(errors.CategoryCloudStage).
			Transient().
			Build()
	}

	var ident providers.Identification
	err := callStage(ctx, c.settings.Cloud.Timeout, c.settings.RetryDelay, func(stageCtx context.Context) error {
		var callErr error
		ident, callErr = c.cloud.Analyze(stageCtx, frm.Image)
		return callErr
	})
	cost := c.settings.Cloud.CostPerCall
	if c.metrics != nil {
		c.metrics.CloudCost.Add(cost)
	}
	if err != nil {
		return providers.Identification{}, cost, err
	}

	if cacheKey != "" {
		c.cloudCache.Set(cacheKey, ident, gocache.DefaultExpiration)
	}
	return ident, cost, nil
}

func (c *Cascade) countStageCall(stage string) {
	if c.metrics != nil {
		c.metrics.StageCalls.WithLabelValues(stage).Inc()
	}
}

func (c *Cascade) countStageFailure(stage string) {
	if c.metrics != nil {
		c.metrics.StageFailures.WithLabelValues(stage).Inc()
	}
}
