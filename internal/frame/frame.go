// Package frame implements frame intake and the perceptual hash change gate
// that decides whether a captured image is worth classifying.
package frame

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for camera snapshot formats
	_ "image/png"
	"strconv"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/mkarjala/foewatch-go/internal/errors"
)

// Frame is a captured camera image. The image payload is ephemeral and is
// discarded after classification; only the hash persists.
type Frame struct {
	CameraID  string
	Timestamp time.Time
	Image     []byte
	Hash      uint64
	HashValid bool
}

// ComputeHash decodes the image payload and computes a 64 bit average hash.
func ComputeHash(imageData []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return 0, errors.New(fmt.Errorf("decoding image: %w", err)).
			Component("frame").
			Category(errors.CategoryImageHash).
			Build()
	}
	hash, err := goimagehash.AverageHash(img)
	if err != nil {
		return 0, errors.New(fmt.Errorf("computing average hash: %w", err)).
			Component("frame").
			Category(errors.CategoryImageHash).
			Build()
	}
	return hash.GetHash(), nil
}

// Distance returns the Hamming distance between two 64 bit average hashes.
func Distance(a, b uint64) int {
	ha := goimagehash.NewImageHash(a, goimagehash.AHash)
	hb := goimagehash.NewImageHash(b, goimagehash.AHash)
	distance, err := ha.Distance(hb)
	if err != nil {
		// hashes constructed above always share kind and size
		return 64
	}
	return distance
}

// FormatHash renders a hash the way it is persisted, as a hex string.
func FormatHash(hash uint64) string {
	return strconv.FormatUint(hash, 16)
}

// ParseHash parses a persisted hex hash. An empty string means no prior hash.
func ParseHash(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	hash, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return hash, true
}
