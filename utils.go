package hpsearch

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

//////
// Helper functions.
//////

// worstLoss ranks failed or unusable evaluations behind every real loss.
var worstLoss = math.Inf(1)

// worstScore is worstLoss on Hyperband's higher-is-better scale.
var worstScore = math.Inf(-1)

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validBounds checks low < high with both finite.
func validBounds(low, high float64) bool {
	return isFinite(low) && isFinite(high) && low < high
}

// sendProgress delivers update without blocking. Updates are dropped when the
// channel is full.
func sendProgress(ch chan<- ProgressUpdate, update ProgressUpdate) {
	if ch == nil {
		return
	}

	select {
	case ch <- update:
	default:
		// Skip update if channel is full.
	}
}

// uploadArtifact persists the run's artifact. Failures are logged only.
func uploadArtifact(ctx context.Context, sink ArtifactSink, outputName string) {
	if sink == nil {
		return
	}

	if err := sink.Upload(ctx, outputName); err != nil {
		logrus.Warnf("upload of %s failed: %v", outputName, err)

		return
	}

	logrus.Debugf("uploaded artifact for %s", outputName)
}

// floatPtr returns a pointer to a copy of v.
func floatPtr(v float64) *float64 { return &v }

func logDuration(cfg Configuration, d time.Duration, err error) {
	entry := logrus.WithFields(logrus.Fields{
		"run":      cfg.Name,
		"duration": d.Round(time.Millisecond),
	})

	if err != nil {
		entry.WithError(err).Debug("training run returned an error")

		return
	}

	entry.Debug("training run finished")
}
