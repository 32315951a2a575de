package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/mkarjala/foewatch-go/internal/errors"
)

// maxImageBytes bounds snapshot downloads.
const maxImageBytes = 16 << 20

// SnapshotSource captures frames with a plain HTTP GET against the camera's
// transport URL. Anything beyond that (RTSP, vendor APIs) is an external
// integration implementing ImageSource.
type SnapshotSource struct {
	client *http.Client
}

// NewSnapshotSource creates the default HTTP snapshot source. Per-capture
// deadlines come from the caller's context.
func NewSnapshotSource() *SnapshotSource {
	return &SnapshotSource{client: &http.Client{}}
}

func (s *SnapshotSource) Capture(ctx context.Context, transport string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, transport, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("providers").
			Category(errors.CategoryCapture).
			Build()
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("providers").
			Category(errors.CategoryCapture).
			Transient().
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("snapshot request returned %s", resp.Status).
			Component("providers").
			Category(errors.CategoryCapture).
			Transient().
			Build()
	}
	image, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, errors.New(err).
			Component("providers").
			Category(errors.CategoryCapture).
			Transient().
			Build()
	}
	if len(image) == 0 {
		return nil, errors.Newf("snapshot response was empty").
			Component("providers").
			Category(errors.CategoryCapture).
			Build()
	}
	return image, nil
}

// RemoteDetector calls a detector service over HTTP, cascade stage one.
// The service takes the raw image and answers with detected regions.
type RemoteDetector struct {
	endpoint string
	client   *http.Client
}

// NewRemoteDetector creates a detector client for the configured endpoint.
func NewRemoteDetector(endpoint string) *RemoteDetector {
	return &RemoteDetector{endpoint: endpoint, client: &http.Client{}}
}

type detectResponse struct {
	Regions []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Box        Region  `json:"box"`
	} `json:"regions"`
}

func (d *RemoteDetector) Detect(ctx context.Context, image []byte) ([]DetectedRegion, error) {
	var decoded detectResponse
	if err := postImage(ctx, d.client, d.endpoint, image, nil, &decoded); err != nil {
		return nil, errors.New(err).
			Component("providers").
			Category(errors.CategoryDetectorStage).
			Transient().
			Build()
	}
	regions := make([]DetectedRegion, 0, len(decoded.Regions))
	for _, r := range decoded.Regions {
		regions = append(regions, DetectedRegion{Label: r.Label, Confidence: r.Confidence, Box: r.Box})
	}
	return regions, nil
}

// RemoteIdentifier calls a species identifier service over HTTP, cascade
// stage two. The region of interest travels in a request header so the image
// body stays raw.
type RemoteIdentifier struct {
	endpoint string
	client   *http.Client
}

// NewRemoteIdentifier creates an identifier client for the configured endpoint.
func NewRemoteIdentifier(endpoint string) *RemoteIdentifier {
	return &RemoteIdentifier{endpoint: endpoint, client: &http.Client{}}
}

type identifyResponse struct {
	Species     string  `json:"species"`
	FoeCategory string  `json:"foe_category"`
	Confidence  float64 `json:"confidence"`
}

func (i *RemoteIdentifier) Identify(ctx context.Context, image []byte, box Region) (Identification, error) {
	region, err := json.Marshal(box)
	if err != nil {
		return Identification{}, err
	}
	var decoded identifyResponse
	headers := map[string]string{"X-Region": string(region)}
	if err := postImage(ctx, i.client, i.endpoint, image, headers, &decoded); err != nil {
		return Identification{}, errors.New(err).
			Component("providers").
			Category(errors.CategoryIdentifierStage).
			Transient().
			Build()
	}
	return Identification{
		Species:     decoded.Species,
		FoeCategory: decoded.FoeCategory,
		Confidence:  decoded.Confidence,
	}, nil
}

// RemoteCloud calls the metered cloud vision service, cascade stage three.
type RemoteCloud struct {
	endpoint string
	client   *http.Client
}

// NewRemoteCloud creates a cloud vision client for the configured endpoint.
func NewRemoteCloud(endpoint string) *RemoteCloud {
	return &RemoteCloud{endpoint: endpoint, client: &http.Client{}}
}

func (c *RemoteCloud) Analyze(ctx context.Context, image []byte) (Identification, error) {
	var decoded identifyResponse
	if err := postImage(ctx, c.client, c.endpoint, image, nil, &decoded); err != nil {
		return Identification{}, errors.New(err).
			Component("providers").
			Category(errors.CategoryCloudStage).
			Transient().
			Build()
	}
	return Identification{
		Species:     decoded.Species,
		FoeCategory: decoded.FoeCategory,
		Confidence:  decoded.Confidence,
	}, nil
}

func postImage(ctx context.Context, client *http.Client, endpoint string, image []byte, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(image))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", endpoint, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CommandPlayback shells out to a local player for deterrent sounds, the
// default playback collaborator. The camera ID is informational only; sound
// routing to a specific speaker is the player command's concern.
type CommandPlayback struct {
	command []string
}

// NewCommandPlayback creates a playback collaborator running the given
// command with the sound path appended.
func NewCommandPlayback(command []string) (*CommandPlayback, error) {
	if len(command) == 0 {
		return nil, errors.Newf("player command is empty").
			Component("providers").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &CommandPlayback{command: command}, nil
}

func (p *CommandPlayback) Play(ctx context.Context, cameraID, soundPath string) error {
	args := append(append([]string{}, p.command[1:]...), soundPath)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return errors.New(err).
			Component("providers").
			Category(errors.CategoryPlayback).
			Context("camera", cameraID).
			Context("sound", soundPath).
			Timing("playback", time.Since(start)).
			Build()
	}
	return nil
}
