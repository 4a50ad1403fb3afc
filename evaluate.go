package hpsearch

import (
	"context"
	"fmt"
	"time"
)

// SearchResult is what an interval search hands back to its caller.
type SearchResult struct {
	// BestLearningRate is the strategy's answer. Binary search returns the
	// last rate confirmed safe; successive halving returns the midpoint of the
	// final interval.
	BestLearningRate float64

	// State is the final search state, cache included.
	State SearchState

	// Evaluations lists every fresh evaluation in the order it ran. Cache
	// hits are not repeated here.
	Evaluations []EvaluationResult
}

// evaluateDivergence runs cfg and classifies its trace. Runner failures and
// malformed traces become OutcomeFailed.
func evaluateDivergence(ctx context.Context, runner Runner, cfg Configuration, lossIncreaseRatio float64) EvaluationResult {
	result := EvaluationResult{Config: cfg}

	trace, err := runTimed(ctx, runner, cfg)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err

		return result
	}

	if val := trace.ValLosses(); len(val) > 0 {
		result.FinalValLoss = floatPtr(val[len(val)-1])
	}

	diverged, err := DetectDivergence(trace, lossIncreaseRatio)
	switch {
	case err != nil:
		result.Outcome = OutcomeFailed
		result.Err = err
	case diverged:
		result.Outcome = OutcomeDiverged
	default:
		result.Outcome = OutcomeConverged
	}

	return result
}

// evaluateLoss runs cfg and keeps only its final validation loss. A trace
// without validation points is a failure; a non-finite loss is a divergence.
func evaluateLoss(ctx context.Context, runner Runner, cfg Configuration) EvaluationResult {
	result := EvaluationResult{Config: cfg}

	trace, err := runTimed(ctx, runner, cfg)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err

		return result
	}

	val := trace.ValLosses()
	if len(val) == 0 {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("%w: no validation loss in trace of %s", ErrMalformedTrace, cfg.Name)

		return result
	}

	last := val[len(val)-1]
	result.FinalValLoss = floatPtr(last)

	if isFinite(last) {
		result.Outcome = OutcomeConverged
	} else {
		result.Outcome = OutcomeDiverged
	}

	return result
}

// LossScore turns a Runner into a Hyperband EvaluateFunc. The score is the
// negated final validation loss, so maximizing it minimizes loss. Failed runs
// score -Inf and return their error.
func LossScore(runner Runner) EvaluateFunc {
	return func(ctx context.Context, cfg Configuration) (float64, error) {
		result := evaluateLoss(ctx, runner, cfg)
		if result.Outcome == OutcomeFailed {
			return worstScore, result.Err
		}

		return -result.Loss(), nil
	}
}

func runTimed(ctx context.Context, runner Runner, cfg Configuration) (MetricTrace, error) {
	start := time.Now()

	trace, err := runner.Run(ctx, cfg)

	logDuration(cfg, time.Since(start), err)

	return trace, err
}
