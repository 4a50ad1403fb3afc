// Package report records a search as a YAML document, so that a finished or
// interrupted search can be audited from its output alone.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/hpsearch"
)

// Entry is one evaluation as written to the report.
type Entry struct {
	Name         string   `yaml:"name"`
	LearningRate float64  `yaml:"learning_rate"`
	Resource     float64  `yaml:"resource"`
	Outcome      string   `yaml:"outcome"`
	FinalValLoss *float64 `yaml:"final_val_loss,omitempty"`
	Score        *float64 `yaml:"score,omitempty"`
	Cached       bool     `yaml:"cached,omitempty"`
	Error        string   `yaml:"error,omitempty"`
}

// Winner is a surviving Hyperband configuration.
type Winner struct {
	Name         string  `yaml:"name"`
	LearningRate float64 `yaml:"learning_rate"`
	Resource     float64 `yaml:"resource"`
	Score        float64 `yaml:"score"`
}

// BracketSummary is the outcome of one Hyperband bracket.
type BracketSummary struct {
	Index   int              `yaml:"index"`
	Bracket hpsearch.Bracket `yaml:"bracket"`
	Winners []Winner         `yaml:"winners"`
}

// Report is the record of one search. It is safe for concurrent use.
type Report struct {
	mu sync.Mutex

	RunID      string    `yaml:"run_id"`
	Strategy   string    `yaml:"strategy"`
	Group      string    `yaml:"group,omitempty"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at,omitempty"`
	Complete   bool      `yaml:"complete"`

	Low  float64 `yaml:"low,omitempty"`
	High float64 `yaml:"high,omitempty"`

	// BestLearningRate is the strategy's answer.
	BestLearningRate *float64 `yaml:"best_learning_rate,omitempty"`

	// BestObserved is the best evaluated configuration, when the strategy
	// knows one.
	BestObserved *hpsearch.Configuration `yaml:"best_observed,omitempty"`

	Evaluations []Entry          `yaml:"evaluations"`
	Brackets    []BracketSummary `yaml:"brackets,omitempty"`
}

// New starts a report with a fresh run id.
func New(strategy, group string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Strategy:  strategy,
		Group:     group,
		StartedAt: time.Now().UTC(),
	}
}

// Observe appends a progress update.
func (r *Report) Observe(u hpsearch.ProgressUpdate) {
	entry := entryFor(u.Result)
	entry.Cached = u.Cached

	if u.Strategy == "hyperband" {
		score := u.Score
		entry.Score = &score
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.Evaluations = append(r.Evaluations, entry)
}

// SetResult records the outcome of an interval search. Its evaluations
// replace the observed ones, since progress updates may be dropped.
func (r *Report) SetResult(result hpsearch.SearchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := result.BestLearningRate
	r.BestLearningRate = &best
	r.BestObserved = result.State.Best
	r.Low = result.State.Low
	r.High = result.State.High

	r.Evaluations = r.Evaluations[:0]
	for _, eval := range result.Evaluations {
		r.Evaluations = append(r.Evaluations, entryFor(eval))
	}
}

// SetBrackets records Hyperband's per-bracket survivors, ordered by bracket
// index, winners by descending score.
func (r *Report) SetBrackets(brackets []hpsearch.Bracket, results map[int]hpsearch.Scores) {
	summaries := make([]BracketSummary, 0, len(brackets))

	for i, b := range brackets {
		summary := BracketSummary{Index: i, Bracket: b, Winners: []Winner{}}

		for cfg, score := range results[i] {
			summary.Winners = append(summary.Winners, Winner{
				Name:         cfg.Name,
				LearningRate: cfg.LearningRate,
				Resource:     cfg.Resource,
				Score:        score,
			})
		}

		sort.Slice(summary.Winners, func(a, b int) bool {
			return summary.Winners[a].Score > summary.Winners[b].Score
		})

		summaries = append(summaries, summary)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.Brackets = summaries
}

// Finish marks the report complete.
func (r *Report) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.FinishedAt = time.Now().UTC()
	r.Complete = true
}

// Encode writes the report as YAML.
func (r *Report) Encode(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	return enc.Close()
}

// WriteFile writes the report to path, replacing any previous version.
func (r *Report) WriteFile(path string) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}

	if err := r.Encode(f); err != nil {
		f.Close()

		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing report: %w", err)
	}

	return os.Rename(tmp, path)
}

// Read parses a report written by WriteFile.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}

	return &r, nil
}

func entryFor(eval hpsearch.EvaluationResult) Entry {
	entry := Entry{
		Name:         eval.Config.Name,
		LearningRate: eval.Config.LearningRate,
		Resource:     eval.Config.Resource,
		Outcome:      eval.Outcome.String(),
		FinalValLoss: eval.FinalValLoss,
	}

	if eval.Err != nil {
		entry.Error = eval.Err.Error()
	}

	return entry
}
