package hpsearch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func binaryConfig(low, high, eps float64) BinarySearchConfig {
	config := DefaultBinarySearchConfig()
	config.Low = low
	config.High = high
	config.Eps = eps

	return config
}

func TestBinarySearchFindsThreshold(t *testing.T) {
	runner := thresholdRunner(0.1)

	result, err := BinarySearch(context.Background(), runner, binaryConfig(0.01, 0.5, 0.01))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.BestLearningRate, 0.09)
	assert.LessOrEqual(t, result.BestLearningRate, 0.11)
	assert.LessOrEqual(t, result.State.Width(), 0.01)

	// The answer is a rate that was actually trained and did not diverge.
	eval, ok := result.State.Cache[result.BestLearningRate]
	require.True(t, ok)
	assert.Equal(t, OutcomeConverged, eval.Outcome)
	require.NotNil(t, result.State.Best)
	assert.Equal(t, result.BestLearningRate, result.State.Best.LearningRate)

	// One run per round, never repeated.
	for lr, n := range runner.countByLR() {
		assert.Equal(t, 1, n, "lr %v", lr)
	}
	assert.Len(t, result.Evaluations, result.State.Rounds)
}

func TestBinarySearchBounds(t *testing.T) {
	for _, limit := range []float64{0.0, 0.02, 0.3, 0.49, 1.0} {
		t.Run(fmt.Sprint(limit), func(t *testing.T) {
			result, err := BinarySearch(context.Background(), thresholdRunner(limit), binaryConfig(0.01, 0.5, 0.001))
			require.NoError(t, err)

			assert.LessOrEqual(t, result.State.Width(), 0.001)
			assert.GreaterOrEqual(t, result.BestLearningRate, 0.01)
			assert.LessOrEqual(t, result.BestLearningRate, 0.5)
		})
	}
}

func TestBinarySearchAllDiverge(t *testing.T) {
	result, err := BinarySearch(context.Background(), thresholdRunner(0), binaryConfig(0.01, 0.5, 0.01))
	require.NoError(t, err)

	assert.Equal(t, 0.01, result.BestLearningRate)
	assert.Nil(t, result.State.Best)

	for _, eval := range result.Evaluations {
		assert.Equal(t, OutcomeDiverged, eval.Outcome)
	}
}

func TestBinarySearchFailureIsDivergence(t *testing.T) {
	runner := &recordingRunner{fn: func(cfg Configuration) (MetricTrace, error) {
		if cfg.LearningRate > 0.3 {
			return nil, fmt.Errorf("%w: exit status 1", ErrTrainingInvocation)
		}

		if cfg.LearningRate > 0.2 {
			// Too short to judge.
			return convergingTrace()[:2], nil
		}

		return convergingTrace(), nil
	}}

	result, err := BinarySearch(context.Background(), runner, binaryConfig(0, 1, 0.01))
	require.NoError(t, err)

	assert.LessOrEqual(t, result.BestLearningRate, 0.2)
	assert.GreaterOrEqual(t, result.BestLearningRate, 0.19)

	var invocation, malformed int
	for _, eval := range result.Evaluations {
		if eval.Outcome != OutcomeFailed {
			continue
		}

		assert.True(t, eval.Diverged())

		switch {
		case errors.Is(eval.Err, ErrTrainingInvocation):
			invocation++
		case errors.Is(eval.Err, ErrMalformedTrace):
			malformed++
		}
	}

	assert.Positive(t, invocation)
	assert.Positive(t, malformed)
}

func TestBinarySearchInvalidConfig(t *testing.T) {
	tests := map[string]BinarySearchConfig{
		"low equals high": binaryConfig(0.1, 0.1, 0.01),
		"low above high":  binaryConfig(0.5, 0.1, 0.01),
		"zero eps":        binaryConfig(0.01, 0.5, 0),
		"negative eps":    binaryConfig(0.01, 0.5, -1),
	}

	for name, config := range tests {
		t.Run(name, func(t *testing.T) {
			runner := thresholdRunner(0.1)

			_, err := BinarySearch(context.Background(), runner, config)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Empty(t, runner.calls)
		})
	}
}

func TestBinarySearchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	runner := &recordingRunner{}
	runner.fn = func(Configuration) (MetricTrace, error) {
		if len(runner.calls) == 2 {
			cancel()
		}

		return convergingTrace(), nil
	}

	result, err := BinarySearch(ctx, runner, binaryConfig(0, 1, 0.001))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, runner.calls, 2)
	assert.Len(t, result.Evaluations, 2)
}

func TestBinarySearchReportsAndUploads(t *testing.T) {
	progress := make(chan ProgressUpdate, 64)
	sink := &fakeSink{fail: true}

	config := binaryConfig(0, 1, 0.1)
	config.ProgressChan = progress
	config.Artifacts = sink

	result, err := BinarySearch(context.Background(), thresholdRunner(0.3), config)
	require.NoError(t, err)

	updates := drain(progress)
	require.Len(t, updates, len(result.Evaluations))

	// Updates carry the interval in effect before the result was applied.
	assert.Equal(t, 0.0, updates[0].Low)
	assert.Equal(t, 1.0, updates[0].High)
	assert.Equal(t, 0.5, updates[0].Result.Config.LearningRate)
	assert.Equal(t, "binary", updates[0].Strategy)

	// Failed uploads do not stop the search.
	require.Len(t, sink.names, len(result.Evaluations))
	assert.Equal(t, "exp_binary_search_lr_0.5", sink.names[0])
}
