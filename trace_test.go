package hpsearch

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `max_steps: 1250
s:0 tel:10.9871
s:0 trl:10.9832 lr:0.000010 norm:15.1234
s:1 trl:10.1021 lr:0.000020 norm:9.8765
generating:
---
s:250 tel:6.2210
s:250 trl:6.0112 lr:0.0025 norm:1.0101
`

func TestParseLog(t *testing.T) {
	trace, err := ParseLog(strings.NewReader(sampleLog))
	require.NoError(t, err)

	assert.Equal(t, []float64{10.9832, 10.1021, 6.0112}, trace.TrainLosses())
	assert.Equal(t, []float64{10.9871, 6.2210}, trace.ValLosses())

	// File order is kept across metrics.
	require.Len(t, trace, 5)
	assert.Equal(t, MetricPoint{Step: 0, Metric: MetricValLoss, Value: 10.9871}, trace[0])
	assert.Equal(t, 250, trace[4].Step)
}

func TestParseLogSkipsUnmarkedStepLines(t *testing.T) {
	log := "s:final checkpoint saved\ns:0 trl:4\ns:0 tel:4\ns:x note\n"

	trace, err := ParseLog(strings.NewReader(log))
	require.NoError(t, err)

	assert.Equal(t, MetricTrace{
		{Step: 0, Metric: MetricTrainLoss, Value: 4},
		{Step: 0, Metric: MetricValLoss, Value: 4},
	}, trace)
}

func TestParseLogNaN(t *testing.T) {
	trace, err := ParseLog(strings.NewReader("s:0 trl:4.0\ns:1 trl:nan\ns:0 tel:4\ns:1 tel:inf\n"))
	require.NoError(t, err)

	train := trace.TrainLosses()
	require.Len(t, train, 2)
	assert.True(t, math.IsNaN(train[1]))
	assert.True(t, math.IsInf(trace.ValLosses()[1], 1))

	diverged, err := DetectDivergence(trace, DefaultLossIncreaseRatio)
	require.NoError(t, err)
	assert.True(t, diverged)
}

func TestParseLogMalformed(t *testing.T) {
	for _, log := range []string{
		"s:0 trl:abc\n",
		"s:x trl:1.0\n",
		"trl:1.0 s:0\n",
	} {
		_, err := ParseLog(strings.NewReader(log))
		assert.ErrorIs(t, err, ErrMalformedTrace, log)
	}
}

func TestParseLogEmpty(t *testing.T) {
	trace, err := ParseLog(strings.NewReader("nothing to see\n"))
	require.NoError(t, err)
	assert.Empty(t, trace)
}
