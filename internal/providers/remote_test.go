package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSourceCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer srv.Close()

	source := NewSnapshotSource()
	image, err := source.Capture(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegbytes"), image)
}

func TestSnapshotSourceErrorStatusIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	source := NewSnapshotSource()
	_, err := source.Capture(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, errors.CategoryCapture, errors.CategoryOf(err))
}

func TestRemoteDetectorDecodesRegions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"regions": []map[string]any{
				{"label": "bird", "confidence": 0.82, "box": map[string]int{"x": 4, "y": 8, "width": 60, "height": 40}},
			},
		})
	}))
	defer srv.Close()

	detector := NewRemoteDetector(srv.URL)
	regions, err := detector.Detect(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "bird", regions[0].Label)
	assert.Equal(t, Region{X: 4, Y: 8, Width: 60, Height: 40}, regions[0].Box)
}

func TestRemoteIdentifierSendsRegionHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var box Region
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("X-Region")), &box))
		assert.Equal(t, 12, box.X)
		_ = json.NewEncoder(w).Encode(identifyResponse{Species: "european magpie", FoeCategory: "CROWS", Confidence: 0.9})
	}))
	defer srv.Close()

	identifier := NewRemoteIdentifier(srv.URL)
	ident, err := identifier.Identify(context.Background(), []byte("img"), Region{X: 12, Y: 1, Width: 5, Height: 5})
	require.NoError(t, err)
	assert.Equal(t, "european magpie", ident.Species)
	assert.InDelta(t, 0.9, ident.Confidence, 1e-9)
}

func TestRemoteCloudFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cloud := NewRemoteCloud(srv.URL)
	_, err := cloud.Analyze(context.Background(), []byte("img"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, errors.CategoryCloudStage, errors.CategoryOf(err))
}

func TestCommandPlaybackRequiresCommand(t *testing.T) {
	_, err := NewCommandPlayback(nil)
	require.Error(t, err)

	playback, err := NewCommandPlayback([]string{"true"})
	require.NoError(t, err)
	assert.NoError(t, playback.Play(context.Background(), "patio", "sounds/test.wav"))
}
