package hpsearch

import (
	"context"
	"fmt"
	"maps"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// DefaultFanOut is the number of interior points tested per round.
const DefaultFanOut = 3

// HalvingConfig controls SuccessiveHalving.
type HalvingConfig struct {
	// Low and High bound the initial interval. Low must be less than High.
	Low  float64
	High float64

	// Eps is the precision at which the search stops (High - Low <= Eps).
	Eps float64

	// FanOut is the number of interior points evaluated per round. The
	// neighbor-based shrink needs at least 2.
	FanOut int

	// Resource is the fixed budget of every run.
	Resource float64

	Architecture Architecture

	// NamePrefix prefixes the learning rate in each run's output name.
	NamePrefix string

	// Artifacts receives each fresh run's output name. Optional.
	Artifacts ArtifactSink

	// ProgressChan receives one update per point per round, cached points
	// included. Optional.
	ProgressChan chan<- ProgressUpdate
}

//////
// Exported functionalities.
//////

// DefaultHalvingConfig returns a default configuration.
func DefaultHalvingConfig() HalvingConfig {
	return HalvingConfig{
		Low:          1e-4,
		High:         0.16,
		Eps:          0.001,
		FanOut:       DefaultFanOut,
		Resource:     1250,
		Architecture: DefaultArchitecture(),
		NamePrefix:   "exp_halving_search_",
	}
}

// Validate checks the preconditions of SuccessiveHalving.
func (c HalvingConfig) Validate() error {
	if !validBounds(c.Low, c.High) {
		return fmt.Errorf("%w: need low < high, got [%v, %v]", ErrInvalidConfig, c.Low, c.High)
	}

	if !isFinite(c.Eps) || c.Eps <= 0 {
		return fmt.Errorf("%w: eps must be positive, got %v", ErrInvalidConfig, c.Eps)
	}

	if c.FanOut < 2 {
		return fmt.Errorf("%w: fan-out must be at least 2, got %d", ErrInvalidConfig, c.FanOut)
	}

	if !isFinite(c.Resource) || c.Resource <= 0 {
		return fmt.Errorf("%w: resource must be positive, got %v", ErrInvalidConfig, c.Resource)
	}

	return nil
}

// SuccessiveHalving finds the learning rate minimizing final validation loss
// by narrowing [Low, High] around the best of FanOut evenly spaced interior
// points per round.
//
// Parameters:
// - ctx: Cancels the search between runs and is handed to the runner
// - runner: Trains one configuration and returns its metric trace
// - config: HalvingConfig controlling bounds, precision and fan-out
//
// Returns:
// - SearchResult: BestLearningRate, the final state and every fresh evaluation
// - error: ErrInvalidConfig before any run, or the context error
//
// Usage example:
//
//	config := DefaultHalvingConfig()
//	config.Low, config.High = 0, 0.2
//
//	result, err := SuccessiveHalving(ctx, runner, config)
//
// How it works:
// 1. Evaluates the FanOut inner boundaries of FanOut+1 equal segments
// 2. Narrows the interval around the lowest loss:
//   - best is the first point: High moves to the second point
//   - best is the last point: Low moves to the one before it
//   - otherwise: the interval becomes the best point's two neighbors
//
// 3. Repeats until High - Low <= Eps
//
// Important notes:
// - Evaluations are memoized by exact learning rate, so a point seen in an
//   earlier round is never trained again
// - Failed runs rank as +Inf loss
// - BestLearningRate is the midpoint of the final interval; State.Best holds
//   the best evaluated point of the last round
func SuccessiveHalving(ctx context.Context, runner Runner, config HalvingConfig) (SearchResult, error) {
	if err := config.Validate(); err != nil {
		return SearchResult{}, err
	}

	state := newSearchState(config.Low, config.High)

	var (
		evaluations []EvaluationResult
		err         error
	)

	for state.Width() > config.Eps {
		width := state.Width()

		state, evaluations, err = halvingRound(ctx, runner, config, state, evaluations)
		if err != nil {
			return SearchResult{
				BestLearningRate: (state.Low + state.High) / 2,
				State:            state,
				Evaluations:      evaluations,
			}, err
		}

		if !(state.Width() < width) {
			logrus.Warnf("successive halving: interval [%v, %v] stopped shrinking", state.Low, state.High)

			break
		}
	}

	best := (state.Low + state.High) / 2

	logrus.Infof("The learning rate that minimizes the validation loss is approximately: %s", formatFloat(best))

	return SearchResult{
		BestLearningRate: best,
		State:            state,
		Evaluations:      evaluations,
	}, nil
}

//////
// Helpers.
//////

// halvingRound evaluates the interior points of state's interval and returns
// the narrowed state. Fresh evaluations are appended to evaluations. The
// input state, cache included, is left untouched.
func halvingRound(
	ctx context.Context,
	runner Runner,
	config HalvingConfig,
	state SearchState,
	evaluations []EvaluationResult,
) (SearchState, []EvaluationResult, error) {
	state.Cache = maps.Clone(state.Cache)
	if state.Cache == nil {
		state.Cache = make(map[float64]EvaluationResult)
	}

	points := interiorPoints(state.Low, state.High, config.FanOut)
	losses := make([]float64, len(points))

	logrus.Infof("Running training jobs with LRs: %v", points)

	for i, lr := range points {
		eval, cached := state.Cache[lr]
		if cached {
			logrus.Infof("Using cached result for LR: %s", formatFloat(lr))
		} else {
			if err := ctx.Err(); err != nil {
				return state, evaluations, err
			}

			cfg := Configuration{
				Name:         config.NamePrefix + formatFloat(lr),
				LearningRate: lr,
				Resource:     config.Resource,
				Architecture: config.Architecture,
			}

			logrus.Infof("Running training job with LR: %s", formatFloat(lr))

			eval = evaluateLoss(ctx, runner, cfg)
			if eval.Outcome == OutcomeFailed && ctx.Err() != nil {
				return state, evaluations, ctx.Err()
			}

			if eval.Outcome == OutcomeFailed {
				logrus.Warnf("Training failed with LR: %s, ranking it last: %v", formatFloat(lr), eval.Err)
			}

			state.Cache[lr] = eval
			evaluations = append(evaluations, eval)

			uploadArtifact(ctx, config.Artifacts, cfg.Name)
		}

		losses[i] = eval.Loss()

		sendProgress(config.ProgressChan, ProgressUpdate{
			Strategy: "halving",
			Round:    state.Rounds,
			Low:      state.Low,
			High:     state.High,
			Result:   eval,
			Cached:   cached,
		})
	}

	// Ties go to the leftmost point.
	bestIdx := floats.MinIdx(losses)

	switch bestIdx {
	case 0:
		state.High = points[bestIdx+1]
	case len(points) - 1:
		state.Low = points[bestIdx-1]
	default:
		state.Low = points[bestIdx-1]
		state.High = points[bestIdx+1]
	}

	best := state.Cache[points[bestIdx]].Config
	state.Best = &best
	state.Rounds++

	logrus.Infof("Updated interval: [%v, %v] with losses: %v", state.Low, state.High, losses)

	return state, evaluations, nil
}

// interiorPoints splits [low, high] into n+1 equal segments and returns the n
// inner boundaries, left to right.
func interiorPoints(low, high float64, n int) []float64 {
	gap := (high - low) / float64(n+1)

	points := make([]float64, n)
	for i := range points {
		points[i] = low + float64(i+1)*gap
	}

	return points
}
