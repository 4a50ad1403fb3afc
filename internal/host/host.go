// Package host manages the lifecycle of the machine running a search.
package host

import (
	"context"
	"errors"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// DefaultPowerOffCommand halts the machine immediately.
var DefaultPowerOffCommand = []string{"sudo", "shutdown", "-h", "now"}

// PowerOff asks the host to power off by running command, or
// DefaultPowerOffCommand when command is empty. It is the last thing a
// completed search does: failures are logged, there is nothing to recover.
func PowerOff(ctx context.Context, command ...string) {
	if len(command) == 0 {
		command = DefaultPowerOffCommand
	}

	logrus.Infof("Powering off host: %v", command)

	if err := run(ctx, command); err != nil {
		logrus.Errorf("power off failed: %v", err)
	}
}

func run(ctx context.Context, command []string) error {
	if len(command) == 0 || command[0] == "" {
		return errors.New("empty power off command")
	}

	return exec.CommandContext(ctx, command[0], command[1:]...).Run()
}
