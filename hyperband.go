package hpsearch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultEta is Hyperband's default downsampling rate.
const DefaultEta = 3

// bracketTolerance absorbs floating point noise in bracket arithmetic, so
// that e.g. log_3(81) counts as 4 and 5/3*9 as 15.
const bracketTolerance = 1e-9

// HyperbandConfig controls Hyperband.
type HyperbandConfig struct {
	// R is the maximum resource any configuration receives. Must be >= 1.
	R float64

	// Eta is the downsampling rate. Must be >= 2.
	Eta int

	// LearningRate is the prior learning rates are drawn from.
	LearningRate ParameterRange[float64]

	Architecture Architecture

	// NamePrefix prefixes each run's output name.
	NamePrefix string

	// Artifacts receives each run's output name after the run. Optional.
	Artifacts ArtifactSink

	// RandomState draws the learning rates. Seed it for reproducible runs.
	//
	// Warning:
	// - Do NOT share RandomState between concurrent runs
	RandomState *rand.Rand

	// ProgressChan receives one update per evaluation. Optional.
	ProgressChan chan<- ProgressUpdate
}

//////
// Exported functionalities.
//////

// DefaultHyperbandConfig returns a default configuration.
func DefaultHyperbandConfig() HyperbandConfig {
	return HyperbandConfig{
		R:            81,
		Eta:          DefaultEta,
		LearningRate: ParameterRange[float64]{Min: 0.001, Max: 0.1},
		Architecture: DefaultArchitecture(),
		NamePrefix:   "exp_hyperband_",
		RandomState:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Validate checks the preconditions of Hyperband.
func (c HyperbandConfig) Validate() error {
	if err := validateBracketParams(c.R, c.Eta); err != nil {
		return err
	}

	if !isFinite(c.LearningRate.Min) || !isFinite(c.LearningRate.Max) {
		return fmt.Errorf("%w: learning rate prior must be finite", ErrInvalidConfig)
	}

	if err := c.LearningRate.Validate(); err != nil {
		return err
	}

	if c.RandomState == nil {
		return fmt.Errorf("%w: random state is required", ErrInvalidConfig)
	}

	return nil
}

func validateBracketParams(R float64, eta int) error {
	if eta < 2 {
		return fmt.Errorf("%w: eta must be at least 2, got %d", ErrInvalidConfig, eta)
	}

	if !isFinite(R) || R < 1 {
		return fmt.Errorf("%w: R must be at least 1, got %v", ErrInvalidConfig, R)
	}

	return nil
}

// Brackets generates the Hyperband brackets for maximum resource R and
// downsampling rate eta.
//
// Parameters:
// - R: Maximum resource any configuration receives, at least 1
// - eta: Downsampling rate, at least 2
//
// Returns:
// - []Bracket: From s = s_max down to 0, most exploratory first
// - error: ErrInvalidConfig for out of range parameters
//
// How it works:
// With s_max = floor(log_eta(R)) and B = (s_max+1) * R, bracket s has
//
//	n = ceil(B / R / (s+1) * eta^s)
//	r = R * eta^-s
//
// Important notes:
// - For R=81, eta=3 the brackets are n = 81, 34, 15, 8, 5 at r = 1, 3, 9, 27, 81
// - A small tolerance keeps exact powers and products from rounding the wrong way
func Brackets(R float64, eta int) ([]Bracket, error) {
	if err := validateBracketParams(R, eta); err != nil {
		return nil, err
	}

	e := float64(eta)

	// s_max by repeated multiplication; log ratios are off by one ulp too often.
	sMax := 0
	for p := e; p <= R*(1+bracketTolerance); p *= e {
		sMax++
	}

	B := float64(sMax+1) * R

	brackets := make([]Bracket, 0, sMax+1)
	for s := sMax; s >= 0; s-- {
		pow := math.Pow(e, float64(s))

		brackets = append(brackets, Bracket{
			S: s,
			N: int(math.Ceil(B/R/float64(s+1)*pow - bracketTolerance)),
			R: R / pow,
		})
	}

	return brackets, nil
}

// Hyperband generates the brackets for config and runs them.
//
// Parameters:
// - ctx: Cancels the run between evaluations
// - evaluate: Scores one configuration at its resource, higher is better
// - config: HyperbandConfig controlling R, Eta and the learning rate prior
//
// Returns:
// - map[int]Scores: Surviving configurations of each bracket, by index
// - error: ErrInvalidConfig before any evaluation, or the context error
//
// Usage example:
//
//	config := DefaultHyperbandConfig()
//	config.RandomState = rand.New(rand.NewSource(42))
//
//	winners, err := Hyperband(ctx, LossScore(runner), config)
//
// See RunHyperband for how each bracket is run.
func Hyperband(ctx context.Context, evaluate EvaluateFunc, config HyperbandConfig) (map[int]Scores, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	brackets, err := Brackets(config.R, config.Eta)
	if err != nil {
		return nil, err
	}

	return RunHyperband(ctx, brackets, evaluate, config)
}

// RunHyperband runs a discrete successive halving inside every bracket and
// returns the surviving configurations of each, keyed by bracket index.
//
// Parameters:
// - ctx: Cancels the run between evaluations
// - brackets: Usually the output of Brackets
// - evaluate: Scores one configuration at its resource, higher is better
// - config: HyperbandConfig; only Eta, the prior, naming and sinks are used
//
// Returns:
// - map[int]Scores: Surviving configurations of each bracket, by index
// - error: ErrInvalidConfig for a degenerate bracket, or the context error
//
// How it works:
// 1. Draws N learning rates from the prior and evaluates them at resource R
// 2. While more than one configuration is left:
//   - floor-divides the count by Eta and multiplies the resource by Eta
//   - keeps the best scoring configurations (stable on ties)
//   - re-evaluates the survivors at the new resource
//
// Important notes:
// - Since Eta >= 2 the count strictly decreases while it is above 1, so the
//   loop ends at one survivor, or at none when the division reaches 0
// - A bracket with no survivor maps to an empty Scores
// - Brackets are not compared with each other; ranking winners is up to the
//   caller
// - Failed evaluations score -Inf. Only context cancellation aborts
func RunHyperband(ctx context.Context, brackets []Bracket, evaluate EvaluateFunc, config HyperbandConfig) (map[int]Scores, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	results := make(map[int]Scores, len(brackets))

	for i, b := range brackets {
		if b.N < 1 || !isFinite(b.R) || b.R <= 0 {
			return results, fmt.Errorf("%w: degenerate bracket %d: %+v", ErrInvalidConfig, i, b)
		}

		logrus.Infof("Running bracket %d with %d configs at %s resources each", i, b.N, formatFloat(b.R))

		scores, err := runBracket(ctx, i, b, evaluate, config)
		if err != nil {
			return results, err
		}

		results[i] = scores
	}

	return results, nil
}

//////
// Helpers.
//////

type scoredConfig struct {
	config Configuration
	score  float64
}

func runBracket(ctx context.Context, index int, b Bracket, evaluate EvaluateFunc, config HyperbandConfig) (Scores, error) {
	resource := b.R

	pool := make([]scoredConfig, 0, b.N)
	for i := 0; i < b.N; i++ {
		lr := config.LearningRate.Sample(config.RandomState)

		sc, err := scoreConfig(ctx, index, config, hyperbandConfiguration(config, index, lr, resource), evaluate)
		if err != nil {
			return nil, err
		}

		pool = append(pool, sc)
	}

	// Reduction rounds. The count strictly decreases while above 1.
	num := b.N
	for num > 1 {
		num /= config.Eta
		resource *= float64(config.Eta)

		sort.SliceStable(pool, func(i, j int) bool {
			return pool[i].score > pool[j].score
		})

		if num < len(pool) {
			pool = pool[:num]
		}

		for i, survivor := range pool {
			next := hyperbandConfiguration(config, index, survivor.config.LearningRate, resource)

			sc, err := scoreConfig(ctx, index, config, next, evaluate)
			if err != nil {
				return nil, err
			}

			pool[i] = sc
		}
	}

	scores := make(Scores, len(pool))
	for _, sc := range pool {
		scores[sc.config] = sc.score
	}

	return scores, nil
}

// scoreConfig evaluates cfg, mapping failures and NaN to the worst score.
func scoreConfig(ctx context.Context, index int, config HyperbandConfig, cfg Configuration, evaluate EvaluateFunc) (scoredConfig, error) {
	if err := ctx.Err(); err != nil {
		return scoredConfig{}, err
	}

	result := EvaluationResult{Config: cfg, Outcome: OutcomeConverged}

	score, err := evaluate(ctx, cfg)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return scoredConfig{}, ctx.Err()
		}

		logrus.Warnf("bracket %d: evaluation of %s failed, scoring it last: %v", index, cfg, err)

		score = worstScore
		result.Outcome = OutcomeFailed
		result.Err = err
	case math.IsNaN(score), math.IsInf(score, -1):
		score = worstScore
		result.Outcome = OutcomeDiverged
	}

	logrus.Infof("bracket %d: %s scored %v", index, cfg, score)

	uploadArtifact(ctx, config.Artifacts, cfg.Name)

	sendProgress(config.ProgressChan, ProgressUpdate{
		Strategy: "hyperband",
		Round:    index,
		Result:   result,
		Score:    score,
	})

	return scoredConfig{config: cfg, score: score}, nil
}

func hyperbandConfiguration(config HyperbandConfig, bracket int, lr, resource float64) Configuration {
	return Configuration{
		Name:         fmt.Sprintf("%sb%d_%s_r%s", config.NamePrefix, bracket, formatFloat(lr), formatFloat(resource)),
		LearningRate: lr,
		Resource:     resource,
		Architecture: config.Architecture,
	}
}
