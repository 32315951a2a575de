package cascade

import (
	"context"
	"time"

	"github.com/mkarjala/foewatch-go/internal/errors"
)

// Stage numbers as recorded on detections.
const (
	StageDetector   = 1
	StageIdentifier = 2
	StageCloud      = 3
)

// stageStatus is the tagged result of one stage attempt. The orchestrator
// iterates the ordered stage list on these tags instead of branching on
// error values.
type stageStatus int

const (
	stageSuccess stageStatus = iota // stage ran and produced a usable result
	stageSkip                       // stage disabled or not applicable
	stageFail                       // stage attempted and failed
)

// callStage runs fn under the stage timeout, retrying once on a transient
// failure. A timeout is treated identically to a provider failure.
func callStage(ctx context.Context, timeout, retryDelay time.Duration, fn func(context.Context) error) error {
	run := func() error {
		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(stageCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New(err).
				Category(errors.CategoryTimeout).
				Transient().
				Build()
		}
		return err
	}

	err := run()
	if err == nil || !errors.IsTransient(err) {
		return err
	}
	// single retry per stage for transient failures
	select {
	case <-ctx.Done():
		return err
	case <-time.After(retryDelay):
	}
	return run()
}
