package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thalesfsp/hpsearch/internal/report"
)

// fakeTrainerScript diverges above a learning rate of 0.1 and otherwise ends
// with a validation loss of (lr - 0.05)^2.
const fakeTrainerScript = `#!/bin/sh
mkdir -p "$2"
lr="${10}"
echo "$@" >> calls
if awk -v lr="$lr" 'BEGIN { exit !(lr + 0 > 0.1) }'; then
  printf 's:0 trl:4.0\ns:0 tel:4.0\ns:1 trl:8.0\ns:1 tel:9.0\n' > "$2/main.log"
else
  awk -v lr="$lr" 'BEGIN { v = (lr - 0.05) ^ 2; printf "s:0 trl:4.0\ns:0 tel:%.17g\ns:1 trl:3.0\ns:1 tel:%.17g\n", v + 1, v }' > "$2/main.log"
fi
`

func setup(t *testing.T) (dir, trainer, reportPath string) {
	t.Helper()

	dir = t.TempDir()
	trainer = filepath.Join(dir, "train.sh")
	require.NoError(t, os.WriteFile(trainer, []byte(fakeTrainerScript), 0o755))

	return dir, trainer, filepath.Join(dir, "report.yaml")
}

func execute(t *testing.T, args ...string) error {
	t.Helper()

	cmd := newRootCmd()
	cmd.SetArgs(append(args, "--log", "error"))

	return cmd.Execute()
}

func TestBinaryCommand(t *testing.T) {
	dir, trainer, reportPath := setup(t)

	require.NoError(t, execute(t, "binary",
		"--trainer", trainer,
		"--workdir", dir,
		"--low", "0.01",
		"--high", "0.5",
		"--eps", "0.01",
		"--iters", "50",
		"--report", reportPath,
	))

	r, err := report.Read(reportPath)
	require.NoError(t, err)

	assert.Equal(t, "binary", r.Strategy)
	assert.True(t, r.Complete)
	require.NotNil(t, r.BestLearningRate)
	assert.GreaterOrEqual(t, *r.BestLearningRate, 0.09)
	assert.LessOrEqual(t, *r.BestLearningRate, 0.11)
	assert.NotEmpty(t, r.Evaluations)
	assert.Equal(t, "exp_binary_search_lr_0.255", r.Evaluations[0].Name)

	calls, err := os.ReadFile(filepath.Join(dir, "calls"))
	require.NoError(t, err)
	assert.Contains(t, string(calls), "-1d 1 -1c 64 -1h 1")
	assert.Contains(t, string(calls), "-x 50")
}

func TestHalvingCommandWithConfigFile(t *testing.T) {
	dir, trainer, reportPath := setup(t)

	configPath := filepath.Join(dir, "search.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
architecture:
  depth: 2
  channels: 128
  heads: 2
halving:
  low: 0.0
  high: 0.2
  eps: 0.01
  iterations: 10
`), 0o644))

	require.NoError(t, execute(t, "halving",
		"--config", configPath,
		"--trainer", trainer,
		"--workdir", dir,
		"--report", reportPath,
	))

	r, err := report.Read(reportPath)
	require.NoError(t, err)

	assert.True(t, r.Complete)
	require.NotNil(t, r.BestLearningRate)
	assert.InDelta(t, 0.05, *r.BestLearningRate, 0.02)

	calls, err := os.ReadFile(filepath.Join(dir, "calls"))
	require.NoError(t, err)
	assert.Contains(t, string(calls), "-1d 2 -1c 128 -1h 2")
}

func TestHyperbandCommand(t *testing.T) {
	dir, trainer, reportPath := setup(t)

	require.NoError(t, execute(t, "hyperband",
		"--trainer", trainer,
		"--workdir", dir,
		"--max-resource", "9",
		"--eta", "3",
		"--seed", "4",
		"--iters-per-unit", "10",
		"--report", reportPath,
	))

	r, err := report.Read(reportPath)
	require.NoError(t, err)

	assert.True(t, r.Complete)
	require.Len(t, r.Brackets, 3)
	assert.Equal(t, 9, r.Brackets[0].Bracket.N)
	assert.Equal(t, 1.0, r.Brackets[0].Bracket.R)

	for _, e := range r.Evaluations {
		require.NotNil(t, e.Score)
	}

	calls, err := os.ReadFile(filepath.Join(dir, "calls"))
	require.NoError(t, err)
	assert.Contains(t, string(calls), "-x 10\n")
}

func TestIterationsPerUnitIgnoredForIntervalSearches(t *testing.T) {
	dir, trainer, _ := setup(t)

	hook := test.NewGlobal()
	t.Cleanup(func() { logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks)) })

	cmd := newRootCmd()
	cmd.SetArgs([]string{"binary",
		"--trainer", trainer,
		"--workdir", dir,
		"--low", "0.01",
		"--high", "0.05",
		"--eps", "0.02",
		"--iters", "50",
		"--iters-per-unit", "10",
		"--report", "",
		"--log", "warn",
	})
	require.NoError(t, cmd.Execute())

	calls, err := os.ReadFile(filepath.Join(dir, "calls"))
	require.NoError(t, err)
	assert.Contains(t, string(calls), "-x 50\n")
	assert.NotContains(t, string(calls), "-x 500")

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "ignoring iterations per unit 10") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestInvalidBoundsFailFast(t *testing.T) {
	dir, trainer, _ := setup(t)

	err := execute(t, "binary",
		"--trainer", trainer,
		"--workdir", dir,
		"--low", "0.5",
		"--high", "0.1",
	)
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "calls"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnknownLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"binary", "--log", "loud"})

	assert.Error(t, cmd.Execute())
}
