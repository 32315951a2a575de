package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mkarjala/foewatch-go/internal/cascade"
	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/mkarjala/foewatch-go/internal/deterrent"
	"github.com/mkarjala/foewatch-go/internal/diagnostics"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/frame"
	"github.com/mkarjala/foewatch-go/internal/observability"
	"github.com/mkarjala/foewatch-go/internal/providers"
	"github.com/mkarjala/foewatch-go/internal/scheduler"
	"github.com/mkarjala/foewatch-go/internal/taxonomy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nilStore satisfies datastore.Interface with inert operations.
type nilStore struct{}

func (nilStore) Open() error                                                                { return nil }
func (nilStore) Close() error                                                               { return nil }
func (nilStore) SaveDetection(*datastore.Detection) error                                   { return nil }
func (nilStore) GetRecentDetections(string, int) ([]datastore.Detection, error)             { return nil, nil }
func (nilStore) SaveDeterrentAttempt(*datastore.DeterrentAttempt) error                     { return nil }
func (nilStore) ResolveDeterrentAttempt(string, string, time.Time) error                    { return nil }
func (nilStore) GetPendingAttempts() ([]datastore.DeterrentAttempt, error)                  { return nil, nil }
func (nilStore) RecordEffectiveness(string, string, bool, time.Time) error                  { return nil }
func (nilStore) GetEffectiveness() ([]datastore.SoundEffectiveness, error)                  { return nil, nil }
func (nilStore) GetEffectivenessForCategory(string) ([]datastore.SoundEffectiveness, error) { return nil, nil }
func (nilStore) SaveDiagnosticEvent(*datastore.DiagnosticEvent) error                       { return nil }
func (nilStore) GetDiagnosticEvents(string, int) ([]datastore.DiagnosticEvent, error)       { return nil, nil }
func (nilStore) SaveCameraState(*datastore.CameraState) error                               { return nil }
func (nilStore) GetCameraStates() ([]datastore.CameraState, error)                          { return nil, nil }

// gatedSource blocks captures until released, for exercising the one tick in
// flight rule over HTTP.
type gatedSource struct {
	mu      sync.Mutex
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (g *gatedSource) Capture(ctx context.Context, _ string) ([]byte, error) {
	g.once.Do(func() { close(g.started) })
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return nil, errors.NewStd("no frame")
}

type inertPlayback struct{}

func (inertPlayback) Play(context.Context, string, string) error { return nil }

type inertDetector struct{}

func (inertDetector) Detect(context.Context, []byte) ([]providers.DetectedRegion, error) {
	return nil, nil
}

func apiSettings() *conf.Settings {
	return &conf.Settings{
		Cameras: []conf.CameraConfig{
			{ID: "patio", Name: "Patio", Transport: "rtsp://patio", PollInterval: time.Second, Enabled: true},
		},
		ChangeFilter: conf.ChangeFilterSettings{Threshold: 15},
		Cascade: conf.CascadeSettings{
			Detector: conf.DetectorSettings{Enabled: true, Confidence: 0.3, Timeout: time.Second},
			Cloud:    conf.CloudSettings{CacheTTL: time.Minute},
		},
		Taxonomy: conf.TaxonomySettings{Version: "2025.1"},
		Deterrent: conf.DeterrentSettings{
			ExploreProbability: 0.5,
			ObservationWindow:  time.Minute,
			PlaybackTimeout:    time.Second,
		},
		Scheduler: conf.SchedulerSettings{
			UnhealthyAfter:  3,
			BackoffCeiling:  time.Minute,
			CaptureTimeout:  5 * time.Second,
			ShutdownGrace:   time.Second,
			DiagnosticLimit: 10,
		},
		API: conf.APISettings{Enabled: true, Host: "127.0.0.1", Port: "8090"},
	}
}

type testServer struct {
	server        *Server
	source        *gatedSource
	diagnostics   *diagnostics.Service
	effectiveness *deterrent.EffectivenessStore
	filter        *frame.ChangeFilter
	selector      *deterrent.Selector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	settings := apiSettings()
	store := nilStore{}

	effectiveness, err := deterrent.NewEffectivenessStore(store)
	require.NoError(t, err)
	selector := deterrent.NewSelector(&settings.Deterrent, effectiveness, store, nil)
	tracker, err := deterrent.NewTracker(&settings.Deterrent, store, effectiveness, nil)
	require.NoError(t, err)

	filter := frame.NewChangeFilter(settings.ChangeFilter.Threshold, 0)
	diag := diagnostics.NewService(store, 10, 3)
	source := &gatedSource{started: make(chan struct{})}

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	sched, err := scheduler.New(settings, scheduler.Deps{
		Source:      source,
		Playback:    inertPlayback{},
		Filter:      filter,
		Cascade:     cascade.New(&settings.Cascade, inertDetector{}, nil, nil, nil),
		Resolver:    taxonomy.New(&settings.Taxonomy),
		Selector:    selector,
		Tracker:     tracker,
		Datastore:   store,
		Diagnostics: diag,
		Metrics:     m,
	})
	require.NoError(t, err)

	server := New(settings, Deps{
		Scheduler:     sched,
		Diagnostics:   diag,
		Effectiveness: effectiveness,
		Selector:      selector,
		Filter:        filter,
		Metrics:       m,
	})
	return &testServer{
		server:        server,
		source:        source,
		diagnostics:   diag,
		effectiveness: effectiveness,
		filter:        filter,
		selector:      selector,
	}
}

func (ts *testServer) request(method, path string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echoContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.diagnostics.RecordFailure("patio", errors.NewStd("capture failed"))

	rec := ts.request(http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []diagnostics.CameraHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "patio", all[0].CameraID)
	assert.Equal(t, 1, all[0].ConsecutiveFails)

	rec = ts.request(http.MethodGet, "/api/v1/cameras/shed/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health diagnostics.CameraHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.True(t, health.Healthy, "unknown cameras report healthy")
}

func TestDiagnosticsEndpointValidatesLimit(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/api/v1/cameras/patio/diagnostics?limit=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(http.MethodGet, "/api/v1/cameras/patio/diagnostics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestEffectivenessRankings(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now()
	require.NoError(t, ts.effectiveness.Record("CROWS", "hawk-cry", true, now))
	require.NoError(t, ts.effectiveness.Record("CROWS", "banger", false, now))
	require.NoError(t, ts.effectiveness.Record("RATS", "ultrasonic", true, now))

	rec := ts.request(http.MethodGet, "/api/v1/effectiveness", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []effectivenessEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 3)

	rec = ts.request(http.MethodGet, "/api/v1/effectiveness?category=CROWS", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "hawk-cry", entries[0].SoundID, "best ratio first")
	assert.Greater(t, entries[0].Ratio, entries[1].Ratio)
}

func TestUpdateSettings(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPatch, "/api/v1/settings", `{"change_threshold": 22, "explore_probability": 0.2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp settingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 22, resp.ChangeThreshold)
	assert.InDelta(t, 0.2, resp.ExploreProbability, 1e-9)
	assert.Equal(t, 22, ts.filter.Threshold())
	assert.InDelta(t, 0.2, ts.selector.ExploreProbability(), 1e-9)
}

func TestUpdateSettingsRejectsOutOfRange(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPatch, "/api/v1/settings", `{"change_threshold": 99}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(http.MethodPatch, "/api/v1/settings", `{"explore_probability": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.InDelta(t, 0.5, ts.selector.ExploreProbability(), 1e-9, "rejected update leaves the value alone")
}

func TestTriggerCycleUnknownCamera(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPost, "/api/v1/cameras/shed/cycle", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerCycleConflictWhileInFlight(t *testing.T) {
	ts := newTestServer(t)
	gate := make(chan struct{})
	ts.source.mu.Lock()
	ts.source.gate = gate
	ts.source.mu.Unlock()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		ts.request(http.MethodPost, "/api/v1/cameras/patio/cycle", "")
	}()

	<-ts.source.started
	rec := ts.request(http.MethodPost, "/api/v1/cameras/patio/cycle", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(gate)
	<-firstDone
}

func TestMetricsEndpointServed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cascade_frames_processed_total")
}

var _ datastore.Interface = nilStore{}
