// Package trainer runs the external training binary for one configuration
// and reads its log artifact back as a metric trace.
package trainer

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/thalesfsp/hpsearch"
)

// Defaults matching the llm.c style trainer the searches were built around.
const (
	DefaultBinary  = "./train_gpt2cu"
	DefaultLogFile = "main.log"
)

// Command launches the training binary as
//
//	<Binary> -o <name> -1d <depth> -1c <channels> -1h <heads> -l <lr> -x <iterations>
//
// and parses <WorkDir>/<name>/<LogFile> once it exits. It implements
// hpsearch.Runner.
type Command struct {
	// Binary is the trainer executable. A relative path is resolved against
	// WorkDir.
	Binary string

	// WorkDir is the directory the trainer runs in and writes its output
	// directories to. Empty means the current directory.
	WorkDir string

	// LogFile is the log artifact name inside each output directory.
	LogFile string

	// IterationsPerUnit converts a configuration's resource into iterations.
	IterationsPerUnit float64

	// Stdout and Stderr receive the trainer's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// New returns a Command for binary with default settings.
func New(binary string) *Command {
	return &Command{
		Binary:            binary,
		LogFile:           DefaultLogFile,
		IterationsPerUnit: 1,
	}
}

// Iterations maps resource to an iteration count, rounding up, never below 1.
func (c *Command) Iterations(resource float64) int {
	perUnit := c.IterationsPerUnit
	if perUnit <= 0 {
		perUnit = 1
	}

	// Round first so that 81 * 0.1 does not become 9 + ulp and ceil to 10.
	n := math.Ceil(math.Round(resource*perUnit*1e6) / 1e6)
	if n < 1 {
		return 1
	}

	return int(n)
}

// Args returns the trainer arguments for cfg.
func (c *Command) Args(cfg hpsearch.Configuration) []string {
	return []string{
		"-o", cfg.Name,
		"-1d", strconv.Itoa(cfg.Architecture.Depth),
		"-1c", strconv.Itoa(cfg.Architecture.Channels),
		"-1h", strconv.Itoa(cfg.Architecture.Heads),
		"-l", strconv.FormatFloat(cfg.LearningRate, 'g', -1, 64),
		"-x", strconv.Itoa(c.Iterations(cfg.Resource)),
	}
}

// LogPath returns where the trainer writes the log of the run named name.
func (c *Command) LogPath(name string) string {
	return filepath.Join(c.WorkDir, name, c.LogFile)
}

// Run implements hpsearch.Runner. A non-zero exit is wrapped with
// hpsearch.ErrTrainingInvocation and not retried; a missing or unreadable log
// is hpsearch.ErrMalformedTrace.
func (c *Command) Run(ctx context.Context, cfg hpsearch.Configuration) (hpsearch.MetricTrace, error) {
	args := c.Args(cfg)

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Dir = c.WorkDir
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	logrus.Debugf("exec %s %v", c.Binary, args)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", hpsearch.ErrTrainingInvocation, cfg.Name, err)
	}

	return c.ReadTrace(cfg.Name)
}

// ReadTrace parses the log artifact of the run named name.
func (c *Command) ReadTrace(name string) (hpsearch.MetricTrace, error) {
	path := c.LogPath(name)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hpsearch.ErrMalformedTrace, err)
	}
	defer f.Close()

	trace, err := hpsearch.ParseLog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return trace, nil
}
