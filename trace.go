package hpsearch

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Log line markers written by the trainer.
const (
	stepMarker      = "s:"
	trainLossMarker = "trl:"
	valLossMarker   = "tel:"
)

// ParseLog reads a trainer log artifact. A line takes part in the trace when
// it carries a `trl:` or `tel:` token preceded by an `s:<step>` token, e.g.
//
//	s:250 trl:3.2871
//	s:250 tel:3.4410
//
// Other lines are ignored. Point order follows file order. A marked line
// whose step or value does not parse yields ErrMalformedTrace. Point counts
// are not checked here; see DetectDivergence.
func ParseLog(r io.Reader) (MetricTrace, error) {
	var trace MetricTrace

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		point, ok, err := parseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedTrace, lineNo, err)
		}

		if ok {
			trace = append(trace, point)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}

	return trace, nil
}

func parseLine(line string) (MetricPoint, bool, error) {
	// The step token is only checked once the line turns out to be marked.
	var stepTok string

	for _, tok := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(tok, stepMarker):
			stepTok = tok

		case strings.HasPrefix(tok, trainLossMarker), strings.HasPrefix(tok, valLossMarker):
			metric, raw := MetricTrainLoss, strings.TrimPrefix(tok, trainLossMarker)
			if strings.HasPrefix(tok, valLossMarker) {
				metric, raw = MetricValLoss, strings.TrimPrefix(tok, valLossMarker)
			}

			if stepTok == "" {
				return MetricPoint{}, false, fmt.Errorf("%s value without a preceding step", metric)
			}

			step, err := strconv.Atoi(strings.TrimPrefix(stepTok, stepMarker))
			if err != nil {
				return MetricPoint{}, false, fmt.Errorf("bad step %q", stepTok)
			}

			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return MetricPoint{}, false, fmt.Errorf("bad %s value %q", metric, raw)
			}

			return MetricPoint{Step: step, Metric: metric, Value: v}, true, nil
		}
	}

	return MetricPoint{}, false, nil
}
