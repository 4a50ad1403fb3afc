package hpsearch

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"

	"golang.org/x/exp/constraints"
)

//////
// Const, vars, types.
//////

const (
	// MetricTrainLoss is the trace series recovered from `trl:` log tokens.
	MetricTrainLoss = "train_loss"

	// MetricValLoss is the trace series recovered from `tel:` log tokens.
	MetricValLoss = "val_loss"
)

// Architecture holds the fixed model shape passed to every training run.
// Searches never vary it.
type Architecture struct {
	Depth    int `yaml:"depth"`
	Channels int `yaml:"channels"`
	Heads    int `yaml:"heads"`
}

// Configuration is one point of the search space. It is a value type and is
// used as a map key, so it must stay comparable.
type Configuration struct {
	// Name addresses the run's log artifact (the trainer's output directory).
	Name string `yaml:"name"`

	// LearningRate is the only dimension varied by binary search and
	// successive halving.
	LearningRate float64 `yaml:"learning_rate"`

	// Resource is the budget allotted to the run, e.g. an iteration count.
	Resource float64 `yaml:"resource"`

	Architecture Architecture `yaml:"architecture"`
}

// String implements the fmt.Stringer interface.
func (c Configuration) String() string {
	return fmt.Sprintf("%s(lr=%s, resource=%s)", c.Name, formatFloat(c.LearningRate), formatFloat(c.Resource))
}

// MetricPoint is a single (step, metric, value) triple read from a run.
type MetricPoint struct {
	Step   int
	Metric string
	Value  float64
}

// MetricTrace is the ordered sequence of points recovered from one run.
type MetricTrace []MetricPoint

// Series returns the values of metric in trace order.
func (t MetricTrace) Series(metric string) []float64 {
	out := make([]float64, 0, len(t))
	for _, p := range t {
		if p.Metric == metric {
			out = append(out, p.Value)
		}
	}

	return out
}

// TrainLosses is a shortcut for Series(MetricTrainLoss).
func (t MetricTrace) TrainLosses() []float64 { return t.Series(MetricTrainLoss) }

// ValLosses is a shortcut for Series(MetricValLoss).
func (t MetricTrace) ValLosses() []float64 { return t.Series(MetricValLoss) }

// Outcome tags how an evaluation ended.
type Outcome int

const (
	// OutcomeConverged means the run finished with a usable score.
	OutcomeConverged Outcome = iota

	// OutcomeDiverged means the run finished but its trajectory is unstable.
	OutcomeDiverged

	// OutcomeFailed means no verdict could be reached: the trainer failed or
	// its trace was malformed. Err holds the reason.
	OutcomeFailed
)

// String implements the fmt.Stringer interface.
func (o Outcome) String() string {
	switch o {
	case OutcomeConverged:
		return "converged"
	case OutcomeDiverged:
		return "diverged"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EvaluationResult is the result of one training run at one configuration.
// It is created once and never mutated.
type EvaluationResult struct {
	Config  Configuration
	Outcome Outcome

	// FinalValLoss is the last validation loss of the run, nil when the run
	// produced none.
	FinalValLoss *float64

	// Err is set when Outcome is OutcomeFailed.
	Err error
}

// Diverged reports whether binary search must reject this result. Failures
// are rejected as well (fail-closed).
func (r EvaluationResult) Diverged() bool {
	return r.Outcome != OutcomeConverged
}

// Loss returns the loss used to rank results. Anything but a converged run
// with a finite loss ranks as +Inf.
func (r EvaluationResult) Loss() float64 {
	if r.Outcome != OutcomeConverged || r.FinalValLoss == nil || !isFinite(*r.FinalValLoss) {
		return worstLoss
	}

	return *r.FinalValLoss
}

// SearchState is the mutable state of one interval search. It is owned by a
// single strategy invocation and handed back to the caller when it returns.
type SearchState struct {
	Low  float64
	High float64

	// Cache maps an exact learning rate to its evaluation.
	Cache map[float64]EvaluationResult

	// Best is the best configuration known so far, nil when none is.
	Best *Configuration

	// Rounds counts completed interval updates.
	Rounds int
}

func newSearchState(low, high float64) SearchState {
	return SearchState{
		Low:   low,
		High:  high,
		Cache: make(map[float64]EvaluationResult),
	}
}

// Width returns High - Low.
func (s SearchState) Width() float64 { return s.High - s.Low }

// Bracket is one Hyperband (configuration count, initial resource) pairing.
type Bracket struct {
	S int     `yaml:"s"`
	N int     `yaml:"n"`
	R float64 `yaml:"r"`
}

// Scores maps each surviving configuration of a bracket to its last score.
type Scores map[Configuration]float64

// Runner executes one configuration and returns its metric trace. Calls are
// blocking: a strategy never issues a second Run before the first returns.
//
// Implementations must wrap process failures with ErrTrainingInvocation so
// they are distinguishable from a trace that merely shows divergence.
type Runner interface {
	Run(ctx context.Context, cfg Configuration) (MetricTrace, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cfg Configuration) (MetricTrace, error)

// Run implements the Runner interface.
func (f RunnerFunc) Run(ctx context.Context, cfg Configuration) (MetricTrace, error) {
	return f(ctx, cfg)
}

// ArtifactSink persists the log artifact of a finished run. It is a
// best-effort side effect: errors are logged, never propagated.
type ArtifactSink interface {
	Upload(ctx context.Context, outputName string) error
}

// EvaluateFunc scores a configuration at its resource. Higher is better.
type EvaluateFunc func(ctx context.Context, cfg Configuration) (float64, error)

// ProgressUpdate is sent for every evaluation, before the search state is
// updated with it.
type ProgressUpdate struct {
	// Strategy is "binary", "halving" or "hyperband".
	Strategy string

	// Round is the interval round, or the bracket index for Hyperband.
	Round int

	// Low and High are the interval bounds in effect for the round. Unset for
	// Hyperband.
	Low  float64
	High float64

	Result EvaluationResult

	// Score is the Hyperband score of Result. Unset for interval searches.
	Score float64

	// Cached is true when the result came from the strategy's cache.
	Cached bool
}

// ParameterRange defines the valid range for a hyperparameter.
//
// Type Parameter:
//   - T: The numeric type for this parameter range
//
// Usage:
//
//	// Learning rate prior used by Hyperband.
//	lr := ParameterRange[float64]{
//	    Min: 0.001,
//	    Max: 0.1,
//	}
//
// Validation:
// - Min must be less than or equal to Max
// - The range is inclusive of both Min and Max values
type ParameterRange[T constraints.Integer | constraints.Float] struct {
	// Min defines the minimum allowed value (inclusive).
	Min T `yaml:"min"`

	// Max defines the maximum allowed value (inclusive).
	Max T `yaml:"max"`
}

// Validate checks Min <= Max.
func (p ParameterRange[T]) Validate() error {
	if p.Max < p.Min {
		return fmt.Errorf("%w: range min %v is greater than max %v", ErrInvalidConfig, p.Min, p.Max)
	}

	return nil
}

// Contains reports whether v lies within the range.
func (p ParameterRange[T]) Contains(v T) bool {
	return v >= p.Min && v <= p.Max
}

// Sample draws a value uniformly from the range.
func (p ParameterRange[T]) Sample(rng *rand.Rand) T {
	switch any(p.Min).(type) {
	case float32, float64:
		min := float64(p.Min)
		max := float64(p.Max)

		return T(min + rng.Float64()*(max-min))
	default:
		min := int64(p.Min)
		max := int64(p.Max)

		return T(min + rng.Int63n(max-min+1))
	}
}

// formatFloat renders v the shortest way that round-trips, the form used in
// output names.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
