package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPowerOffRunsCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "halted")

	PowerOff(context.Background(), "touch", marker)

	_, err := os.Stat(marker)
	assert.NoError(t, err)
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	assert.Error(t, run(context.Background(), nil))
	assert.Error(t, run(context.Background(), []string{""}))
}

func TestPowerOffSwallowsFailure(t *testing.T) {
	assert.NotPanics(t, func() {
		PowerOff(context.Background(), filepath.Join(t.TempDir(), "missing"))
	})
}
