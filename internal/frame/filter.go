package frame

import (
	"sync/atomic"
)

// Decision is the change filter's verdict for one captured frame.
type Decision struct {
	Process   bool   // true if the frame should enter the cascade
	Forced    bool   // true if the frame only passed due to audit sampling
	Distance  int    // Hamming distance to the stored hash, -1 if not comparable
	Hash      uint64 // computed hash, valid only if HashValid
	HashValid bool
}

// ChangeFilter gates frames on perceptual hash distance. A frame passes when
// its distance to the camera's stored hash reaches the threshold, when no
// prior hash exists, or when the forced audit sample counter fires.
//
// The threshold is adjustable at runtime through the control API, hence the
// atomic. Per-camera state (stored hash, skip counter) is owned by the
// caller's camera task; the filter itself is stateless across cameras.
type ChangeFilter struct {
	threshold  atomic.Int32
	forceEvery int
}

// NewChangeFilter creates a filter with the given Hamming distance threshold
// (of 64 bits) and audit sampling period. forceEvery 0 disables audit sampling.
func NewChangeFilter(threshold, forceEvery int) *ChangeFilter {
	f := &ChangeFilter{forceEvery: forceEvery}
	f.threshold.Store(int32(threshold))
	return f
}

// Threshold returns the current change threshold.
func (f *ChangeFilter) Threshold() int {
	return int(f.threshold.Load())
}

// SetThreshold adjusts the change threshold at runtime.
func (f *ChangeFilter) SetThreshold(threshold int) {
	f.threshold.Store(int32(threshold))
}

// Evaluate judges one captured image against the camera's stored hash.
// consecutiveSkips is the number of frames skipped since the last processed
// one. A hash computation failure fails open: the frame is processed, and the
// error is returned for diagnostics.
func (f *ChangeFilter) Evaluate(imageData []byte, storedHash uint64, hasStored bool, consecutiveSkips int) (Decision, error) {
	hash, err := ComputeHash(imageData)
	if err != nil {
		return Decision{Process: true, Distance: -1}, err
	}

	if !hasStored {
		return Decision{Process: true, Distance: -1, Hash: hash, HashValid: true}, nil
	}

	distance := Distance(storedHash, hash)
	if distance >= f.Threshold() {
		return Decision{Process: true, Distance: distance, Hash: hash, HashValid: true}, nil
	}

	// Audit sampling: periodically force a visually unchanged frame through
	// the cascade. The stored hash must not move on a forced sample.
	if f.forceEvery > 0 && consecutiveSkips+1 >= f.forceEvery {
		return Decision{Process: true, Forced: true, Distance: distance, Hash: hash, HashValid: true}, nil
	}

	return Decision{Distance: distance, Hash: hash, HashValid: true}, nil
}
