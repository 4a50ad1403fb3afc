package hpsearch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// BinarySearchConfig controls BinarySearch.
type BinarySearchConfig struct {
	// Low is the initial lower bound. It is assumed, not verified, to be a
	// non-diverging learning rate: if every midpoint diverges, Low is the
	// answer.
	Low float64

	// High is the initial upper bound. Must be greater than Low.
	High float64

	// Eps is the precision at which the search stops (High - Low <= Eps).
	Eps float64

	// LossIncreaseRatio is handed to the divergence detector.
	LossIncreaseRatio float64

	// Resource is the fixed budget of every run, e.g. an iteration count.
	Resource float64

	Architecture Architecture

	// NamePrefix prefixes the learning rate in each run's output name.
	NamePrefix string

	// Artifacts receives each run's output name after the run. Optional.
	Artifacts ArtifactSink

	// ProgressChan receives one update per evaluation. Optional.
	ProgressChan chan<- ProgressUpdate
}

//////
// Exported functionalities.
//////

// DefaultBinarySearchConfig returns a default configuration.
func DefaultBinarySearchConfig() BinarySearchConfig {
	return BinarySearchConfig{
		Low:               0.01,
		High:              0.5,
		Eps:               0.001,
		LossIncreaseRatio: DefaultLossIncreaseRatio,
		Resource:          1250,
		Architecture:      DefaultArchitecture(),
		NamePrefix:        "exp_binary_search_lr_",
	}
}

// Validate checks the preconditions of BinarySearch.
func (c BinarySearchConfig) Validate() error {
	if !validBounds(c.Low, c.High) {
		return fmt.Errorf("%w: need low < high, got [%v, %v]", ErrInvalidConfig, c.Low, c.High)
	}

	if !isFinite(c.Eps) || c.Eps <= 0 {
		return fmt.Errorf("%w: eps must be positive, got %v", ErrInvalidConfig, c.Eps)
	}

	if !isFinite(c.LossIncreaseRatio) || c.LossIncreaseRatio <= 0 {
		return fmt.Errorf("%w: loss increase ratio must be positive, got %v", ErrInvalidConfig, c.LossIncreaseRatio)
	}

	if !isFinite(c.Resource) || c.Resource <= 0 {
		return fmt.Errorf("%w: resource must be positive, got %v", ErrInvalidConfig, c.Resource)
	}

	return nil
}

// BinarySearch finds the largest learning rate in [Low, High] that does not
// diverge.
//
// Parameters:
// - ctx: Cancels the search between runs and is handed to the runner
// - runner: Trains one configuration and returns its metric trace
// - config: BinarySearchConfig controlling bounds, precision and naming
//
// Returns:
// - SearchResult: BestLearningRate, the final state and every evaluation
// - error: ErrInvalidConfig before any run, or the context error
//
// Usage example:
//
//	config := DefaultBinarySearchConfig()
//	config.Eps = 0.01
//
//	result, err := BinarySearch(ctx, runner, config)
//	if err != nil {
//	    return err
//	}
//
//	fmt.Println(result.BestLearningRate)
//
// How it works:
// 1. Trains at the midpoint of [Low, High]
// 2. A diverged or failed run lowers High to the midpoint
// 3. A clean run raises Low to it and makes it the best known rate
// 4. Repeats until High - Low <= Eps
//
// Important notes:
// - BestLearningRate is the last midpoint confirmed not to diverge, or the
//   initial Low when none was. It is not the midpoint of the final interval
// - Runs are issued one at a time, in round order
// - Only context cancellation aborts; the partial result comes with the error
func BinarySearch(ctx context.Context, runner Runner, config BinarySearchConfig) (SearchResult, error) {
	if err := config.Validate(); err != nil {
		return SearchResult{}, err
	}

	// Low is trusted, so it is the answer until a midpoint proves safe.
	state := newSearchState(config.Low, config.High)
	result := SearchResult{BestLearningRate: config.Low}

	for state.Width() > config.Eps {
		if err := ctx.Err(); err != nil {
			result.State = state

			return result, err
		}

		// Float precision can leave no value strictly inside the interval.
		mid := (state.Low + state.High) / 2
		if mid <= state.Low || mid >= state.High {
			logrus.Warnf("binary search: interval [%v, %v] cannot be split further", state.Low, state.High)

			break
		}

		cfg := Configuration{
			Name:         config.NamePrefix + formatFloat(mid),
			LearningRate: mid,
			Resource:     config.Resource,
			Architecture: config.Architecture,
		}

		logrus.Infof("Starting training job with LR: %s", formatFloat(mid))

		eval := evaluateDivergence(ctx, runner, cfg, config.LossIncreaseRatio)
		if eval.Outcome == OutcomeFailed && ctx.Err() != nil {
			result.State = state

			return result, ctx.Err()
		}

		state.Cache[mid] = eval
		result.Evaluations = append(result.Evaluations, eval)

		// Report first, then move the bounds.
		reportDivergence(eval)

		sendProgress(config.ProgressChan, ProgressUpdate{
			Strategy: "binary",
			Round:    state.Rounds,
			Low:      state.Low,
			High:     state.High,
			Result:   eval,
		})

		if eval.Diverged() {
			state.High = mid
		} else {
			state.Low = mid
			best := cfg
			state.Best = &best
			result.BestLearningRate = mid
		}

		state.Rounds++

		uploadArtifact(ctx, config.Artifacts, cfg.Name)
	}

	result.State = state

	logrus.Infof("The highest learning rate that doesn't diverge is %s", formatFloat(result.BestLearningRate))

	return result, nil
}

//////
// Helpers.
//////

func reportDivergence(eval EvaluationResult) {
	lr := formatFloat(eval.Config.LearningRate)

	switch eval.Outcome {
	case OutcomeConverged:
		logrus.Infof("Training did not diverge with LR: %s", lr)
	case OutcomeDiverged:
		logrus.Infof("Training diverged with LR: %s", lr)
	default:
		logrus.Warnf("Training failed with LR: %s, treating as diverged: %v", lr, eval.Err)
	}
}

// DefaultArchitecture is the small model searched by default:
// depth 1, 64 channels, 1 head.
func DefaultArchitecture() Architecture {
	return Architecture{Depth: 1, Channels: 64, Heads: 1}
}
