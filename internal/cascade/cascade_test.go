package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/frame"
	"github.com/mkarjala/foewatch-go/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mock providers with function fields, counting invocations

type mockDetector struct {
	calls int
	fn    func(ctx context.Context, image []byte) ([]providers.DetectedRegion, error)
}

func (m *mockDetector) Detect(ctx context.Context, image []byte) ([]providers.DetectedRegion, error) {
	m.calls++
	return m.fn(ctx, image)
}

type mockIdentifier struct {
	calls int
	fn    func(ctx context.Context, image []byte, box providers.Region) (providers.Identification, error)
}

func (m *mockIdentifier) Identify(ctx context.Context, image []byte, box providers.Region) (providers.Identification, error) {
	m.calls++
	return m.fn(ctx, image, box)
}

type mockCloud struct {
	calls int
	fn    func(ctx context.Context, image []byte) (providers.Identification, error)
}

func (m *mockCloud) Analyze(ctx context.Context, image []byte) (providers.Identification, error) {
	m.calls++
	return m.fn(ctx, image)
}

func testSettings() *conf.CascadeSettings {
	return &conf.CascadeSettings{
		Detector:   conf.DetectorSettings{Enabled: true, Confidence: 0.3, Timeout: time.Second},
		Identifier: conf.IdentifierSettings{Enabled: true, Confidence: 0.6, Timeout: time.Second},
		Cloud: conf.CloudSettings{
			Enabled:           true,
			Confidence:        0.5,
			Timeout:           time.Second,
			CostPerCall:       0.0025,
			RatePerMinute:     60,
			FullFrameFallback: true,
			CacheTTL:          time.Minute,
		},
		RetryDelay: time.Millisecond,
	}
}

func testFrame() *frame.Frame {
	return &frame.Frame{CameraID: "patio", Timestamp: time.Now(), Image: []byte("jpeg"), Hash: 0xdead, HashValid: true}
}

func birdRegion() providers.DetectedRegion {
	return providers.DetectedRegion{
		Label:      "bird",
		Confidence: 0.8,
		Box:        providers.Region{X: 10, Y: 10, Width: 50, Height: 40},
	}
}

func TestIdentifierShortCircuitsCloud(t *testing.T) {
	detector := &mockDetector{fn: func(context.Context, []byte) ([]providers.DetectedRegion, error) {
		return []providers.DetectedRegion{birdRegion()}, nil
	}}
	identifier := &mockIdentifier{fn: func(context.Context, []byte, providers.Region) (providers.Identification, error) {
		return providers.Identification{Species: "European Magpie", FoeCategory: "CROWS", Confidence: 0.9}, nil
	}}
	cloud := &mockCloud{fn: func(context.Context, []byte) (providers.Identification, error) {
		t.Fatal("cloud must not be called when the identifier is confident")
		return providers.Identification{}, nil
	}}

	c := New(testSettings(), detector, identifier, cloud, nil)
	out, err := c.Classify(context.Background(), testFrame(), true)

	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "European Magpie", out.Results[0].Species)
	assert.Equal(t, StageIdentifier, out.Results[0].Stage)
	assert.Zero(t, out.Cost, "no cloud call, no cost")
	assert.Equal(t, 0, cloud.calls)
}

func TestNoAnimalTerminatesWithoutFallback(t *testing.T) {
	settings := testSettings()
	settings.Cloud.FullFrameFallback = false
	detector := &mockDetector{fn: func(context.Context, []byte) ([]providers.DetectedRegion, error) {
		return nil, nil
	}}
	cloud := &mockCloud{fn: func(context.Context, []byte) (providers.Identification, error) {
		return providers.Identification{Species: "crow", Confidence: 0.9}, nil
	}}

	c := New(settings, detector, &mockIdentifier{fn: nil}, cloud, nil)
	out, err := c.Classify(context.Background(), testFrame(), true)

	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.False(t, out.Inconclusive)
	assert.Equal(t, 0, cloud.calls)
}

func TestWholeFrameFallbackOnLargeChange(t *testing.T) {
	detector := &mockDetector{fn: func(context.Context, []byte) ([]providers.DetectedRegion, error) {
		return nil, nil
	}}
	cloud := &mockCloud{fn: func(context.Context, []byte) (providers.Identification, error) {
		return providers.Identification{Species: "brown rat", FoeCategory: "RATS", Confidence: 0.7}, nil
	}}

	c := New(testSettings(), detector, &mockIdentifier{fn: func(context.Context, []byte, providers.Region) (providers.Identification, error) {
		t.Fatal("identifier must be skipped with no regions")
		return providers.Identification{}, nil
	}}, cloud, nil)

	// large change arms the fallback
	out, err := c.Classify(context.Background(), testFrame(), true)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, StageCloud, out.Results[0].Stage)
	assert.InDelta(t, 0.0025, out.Cost, 1e-9)

	// no large change: fallback stays disarmed even with the policy on
	cloud.calls = 0
	out, err = c.Classify(context.Background(), &frame.Frame{CameraID: "patio", Image: []byte("x"), Hash: 0xbeef, HashValid: true}, false)
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Equal(t, 0, cloud.calls)
}

func TestLowConfidenceRegionFallsToCloud(t *testing.T) {
	detector := &mockDetector{fn: func(context.Context, []byte) ([]providers.DetectedRegion, error) {
		return []providers.DetectedRegion{birdRegion()}, nil
	}}
	identifier := &mockIdentifier{fn: func(context.Context, []byte, providers.Region) (providers.Identification, error) {
		return providers.Identification{Species: "bird", Confidence: 0.4}, nil
	}}
	cloud := &mockCloud{fn: func(context.Context, []byte) (providers.Identification, error) {
		return providers.Identification{Species: "crow", FoeCategory: "CROWS", Confidence: 0.8}, nil
	}}

	c := New(testSettings(), detector, identifier, cloud, nil)
	out, err := c.Classify(context.Background(), testFrame(), true)

	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "crow", out.Results[0].Species, "latest confident stage wins the region")
	assert.Equal(t, StageCloud, out.Results[0].Stage)
	assert.Equal(t, birdRegion().Box, out.Results[0].Region)
}

func TestTransientStageFailureRetriedOnce(t *testing.T) {
	attempts := 0
	detector := &mockDetector{fn: func(context.Context, []byte) ([]providers.DetectedRegion, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.Newf("connection reset").Transient().Build()
		}
		return []providers.DetectedRegion{birdRegion()}, nil
	}}
	identifier := &mockIdentifier{fn: func(context.Context, []byte, providers.Region) (providers.Identification, error) {
		return providers.Identification{Species: "crow", FoeCategory: "CROWS", Confidence: 0.9}, nil
	}}

	c := New(testSettings(), detector, identifier, &mockCloud{fn: nil}, nil)
	out, err := c.Classify(context.Background(), testFrame(), true)

	require.NoError(t, err)
	assert.Equal(t, 2, attempts, "transient failure gets exactly one retry")
	require.Len(t, out.Results, 1)
}

func TestPermanentStageFailureNotRetried(t *testing.T) {
	detector := &mockDetector{fn: func(context.Context, []byte) ([]providers.DetectedRegion, error) {
		return nil, errors.Newf("model not loaded").Permanent().Build()
	}}
	cloud := &mockCloud{fn: func(context.Context, []byte) (providers.Identification, error) {
		return providers.Identification{Species: "cat", FoeCategory: "CATS", Confidence: 0.8}, nil
	}}

	c := New(testSettings(), detector, &mockIdentifier{fn: nil}, cloud, nil)
	out, err := c.Classify(context.Background(), testFrame(), true)

	require.NoError(t, err)
	assert.Equal(t, 1, detector.calls, "permanent failures are not retried")
	require.Len(t, out.Results, 1, "detector failure falls through to the cloud")
	assert.Equal(t, StageCloud, out.Results[0].Stage)
}

func TestAllStagesFailedIsInconclusive(t *testing.T) {
	settings := testSettings()
	settings.Identifier.Enabled = false
	detector := &mockDetector{fn: func(context.Context, []byte) ([]providers.DetectedRegion, error) {
		return []providers.DetectedRegion{birdRegion()}, nil
	}}
	cloud := &mockCloud{fn: func(ctx context.Context, _ []byte) (providers.Identification, error) {
		<-ctx.Done()
		return providers.Identification{}, ctx.Err()
	}}
	settings.Cloud.Timeout = 10 * time.Millisecond

	c := New(settings, detector, nil, cloud, nil)
	out, err := c.Classify(context.Background(), testFrame(), true)

	require.Error(t, err, "inconclusive frames report the last failure for diagnostics")
	assert.True(t, out.Inconclusive)
	assert.Empty(t, out.Results)
	assert.Equal(t, 2, cloud.calls, "timeout is transient and retried once")
	assert.InDelta(t, 0.0025, out.Cost, 1e-9, "a failed cloud call still incurred its cost")
}

func TestCloudResultCachedByFrameHash(t *testing.T) {
	settings := testSettings()
	settings.Identifier.Enabled = false
	detector := &mockDetector{fn: func(context.Context, []byte) ([]providers.DetectedRegion, error) {
		return []providers.DetectedRegion{birdRegion()}, nil
	}}
	cloud := &mockCloud{fn: func(context.Context, []byte) (providers.Identification, error) {
		return providers.Identification{Species: "crow", FoeCategory: "CROWS", Confidence: 0.9}, nil
	}}

	c := New(settings, detector, nil, cloud, nil)

	frm := testFrame()
	out, err := c.Classify(context.Background(), frm, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.0025, out.Cost, 1e-9)

	out, err = c.Classify(context.Background(), frm, true)
	require.NoError(t, err)
	assert.Zero(t, out.Cost, "visually identical frame is served from cache")
	assert.Equal(t, 1, cloud.calls)
	require.Len(t, out.Results, 1)
}

func TestCostNeverExceedsOneStagePerRegion(t *testing.T) {
	detector := &mockDetector{fn: func(context.Context, []byte) ([]providers.DetectedRegion, error) {
		region := birdRegion()
		other := birdRegion()
		other.Box.X = 200
		return []providers.DetectedRegion{region, other}, nil
	}}
	identifier := &mockIdentifier{fn: func(_ context.Context, _ []byte, box providers.Region) (providers.Identification, error) {
		if box.X == 200 {
			return providers.Identification{Species: "bird", Confidence: 0.2}, nil
		}
		return providers.Identification{Species: "european robin", Confidence: 0.95}, nil
	}}
	cloud := &mockCloud{fn: func(context.Context, []byte) (providers.Identification, error) {
		return providers.Identification{Species: "crow", FoeCategory: "CROWS", Confidence: 0.85}, nil
	}}

	c := New(testSettings(), detector, identifier, cloud, nil)
	out, err := c.Classify(context.Background(), testFrame(), true)

	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.InDelta(t, 0.0025, out.Cost, 1e-9, "one cloud call covers all unresolved regions")
	stages := map[int]int{}
	for _, result := range out.Results {
		stages[result.Stage]++
	}
	assert.Equal(t, 1, stages[StageIdentifier])
	assert.Equal(t, 1, stages[StageCloud])
}
