package hpsearch

import (
	"fmt"
	"math"
)

// DefaultLossIncreaseRatio treats any net increase of the training loss over
// a run as divergence.
const DefaultLossIncreaseRatio = 1.0

// minTracePoints is the number of points each series needs before the
// detector can judge it.
const minTracePoints = 2

// Classify reports whether a run diverged. The rules are applied in order and
// the first match wins:
//
//  1. any NaN or infinite value in either series
//  2. last training loss > first training loss * lossIncreaseRatio
//  3. any validation loss greater than the one before it
//
// Both series must hold at least two points; use DetectDivergence to have
// that checked.
func Classify(trainLosses, valLosses []float64, lossIncreaseRatio float64) bool {
	for _, series := range [][]float64{trainLosses, valLosses} {
		for _, v := range series {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}

	if trainLosses[len(trainLosses)-1] > trainLosses[0]*lossIncreaseRatio {
		return true
	}

	for i := 1; i < len(valLosses); i++ {
		if valLosses[i] > valLosses[i-1] {
			return true
		}
	}

	return false
}

// DetectDivergence validates trace and classifies it. A trace with fewer than
// two training or validation points yields ErrMalformedTrace, not a verdict.
func DetectDivergence(trace MetricTrace, lossIncreaseRatio float64) (bool, error) {
	train := trace.TrainLosses()
	val := trace.ValLosses()

	if len(train) < minTracePoints || len(val) < minTracePoints {
		return false, fmt.Errorf(
			"%w: need %d train and val points, got %d and %d",
			ErrMalformedTrace, minTracePoints, len(train), len(val),
		)
	}

	return Classify(train, val, lossIncreaseRatio), nil
}
