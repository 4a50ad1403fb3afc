package hpsearch

import (
	"context"
	"fmt"
	"sync"
)

// Sample traces shaped like the trainer's log output.
func convergingTrace() MetricTrace {
	return MetricTrace{
		{Step: 0, Metric: MetricTrainLoss, Value: 4.0},
		{Step: 0, Metric: MetricValLoss, Value: 4.1},
		{Step: 100, Metric: MetricTrainLoss, Value: 3.1},
		{Step: 100, Metric: MetricValLoss, Value: 3.3},
		{Step: 200, Metric: MetricTrainLoss, Value: 2.6},
		{Step: 200, Metric: MetricValLoss, Value: 2.9},
	}
}

func divergingTrace() MetricTrace {
	return MetricTrace{
		{Step: 0, Metric: MetricTrainLoss, Value: 4.0},
		{Step: 0, Metric: MetricValLoss, Value: 4.1},
		{Step: 100, Metric: MetricTrainLoss, Value: 5.2},
		{Step: 100, Metric: MetricValLoss, Value: 5.6},
		{Step: 200, Metric: MetricTrainLoss, Value: 7.9},
		{Step: 200, Metric: MetricValLoss, Value: 8.3},
	}
}

// valTrace returns a trace whose final validation loss is final.
func valTrace(final float64) MetricTrace {
	return MetricTrace{
		{Step: 0, Metric: MetricTrainLoss, Value: 4.0},
		{Step: 0, Metric: MetricValLoss, Value: final + 1},
		{Step: 100, Metric: MetricTrainLoss, Value: 3.0},
		{Step: 100, Metric: MetricValLoss, Value: final},
	}
}

// recordingRunner counts calls per learning rate and delegates to fn.
type recordingRunner struct {
	mu    sync.Mutex
	calls []Configuration
	fn    func(cfg Configuration) (MetricTrace, error)
}

func (r *recordingRunner) Run(_ context.Context, cfg Configuration) (MetricTrace, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cfg)
	r.mu.Unlock()

	return r.fn(cfg)
}

func (r *recordingRunner) countByLR() map[float64]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[float64]int, len(r.calls))
	for _, c := range r.calls {
		counts[c.LearningRate]++
	}

	return counts
}

// thresholdRunner diverges for learning rates above limit.
func thresholdRunner(limit float64) *recordingRunner {
	return &recordingRunner{fn: func(cfg Configuration) (MetricTrace, error) {
		if cfg.LearningRate > limit {
			return divergingTrace(), nil
		}

		return convergingTrace(), nil
	}}
}

// lossRunner reports loss(lr) as the final validation loss.
func lossRunner(loss func(lr float64) float64) *recordingRunner {
	return &recordingRunner{fn: func(cfg Configuration) (MetricTrace, error) {
		return valTrace(loss(cfg.LearningRate)), nil
	}}
}

// fakeSink records uploads and optionally fails them.
type fakeSink struct {
	names []string
	fail  bool
}

func (s *fakeSink) Upload(_ context.Context, outputName string) error {
	s.names = append(s.names, outputName)
	if s.fail {
		return fmt.Errorf("%w: bucket unreachable", ErrUpload)
	}

	return nil
}

func drain(ch chan ProgressUpdate) []ProgressUpdate {
	var out []ProgressUpdate

	for {
		select {
		case u := <-ch:
			out = append(out, u)
		default:
			return out
		}
	}
}
