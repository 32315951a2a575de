// Package providers defines the contracts for external collaborators consumed
// by the pipeline: camera image sources, the classifier stages and the
// playback device. Implementations live outside the core and are injected.
package providers

import "context"

// Region is a bounding box in pixel coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectedRegion is one animal region found by the fast local detector.
// The detector is pre-filtered to animal classes; labels are coarse
// superclass names such as "bird" or "cat".
type DetectedRegion struct {
	Label      string
	Confidence float64
	Box        Region
}

// Identification is a fine-grained species result from the identifier or the
// cloud fallback. FoeCategory is optional; the taxonomy resolver has the
// final say on foe/friend classification.
type Identification struct {
	Species     string
	FoeCategory string
	Confidence  float64
}

// ImageSource captures a still frame from a camera. The transport string is
// the opaque handle from the camera configuration.
type ImageSource interface {
	Capture(ctx context.Context, transport string) ([]byte, error)
}

// Detector is the fast local animal detector, cascade stage one.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]DetectedRegion, error)
}

// Identifier is the local species identifier, cascade stage two. It
// classifies a single cropped region of the frame.
type Identifier interface {
	Identify(ctx context.Context, image []byte, box Region) (Identification, error)
}

// CloudVision is the cloud fallback, cascade stage three. It analyzes the
// full frame and incurs a monetary cost per call.
type CloudVision interface {
	Analyze(ctx context.Context, image []byte) (Identification, error)
}

// Playback plays a deterrent sound on or near the given camera.
type Playback interface {
	Play(ctx context.Context, cameraID, soundPath string) error
}
