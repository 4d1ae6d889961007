package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// DefaultShutdownCommand powers the host off.
var DefaultShutdownCommand = []string{"sudo", "shutdown", "-h", "now"}

// ShellTerminator runs a local command that powers the host off.
type ShellTerminator struct {
	command []string
	logger  *slog.Logger
}

// NewShellTerminator creates a ShellTerminator. An empty command falls back
// to DefaultShutdownCommand.
func NewShellTerminator(logger *slog.Logger, command ...string) *ShellTerminator {
	if len(command) == 0 {
		command = DefaultShutdownCommand
	}
	return &ShellTerminator{
		command: command,
		logger:  logger,
	}
}

// Terminate runs the shutdown command.
func (t *ShellTerminator) Terminate(ctx context.Context) error {
	t.logger.Info("running shutdown command", "command", strings.Join(t.command, " "))

	output, err := exec.CommandContext(ctx, t.command[0], t.command[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %q: %w: %s", t.command[0], err, strings.TrimSpace(string(output)))
	}
	return nil
}

// InstanceStopper stops a compute instance through its control plane.
type InstanceStopper interface {
	ID() string
	Stop(ctx context.Context) error
}

// InstanceTerminator stops the node through the control plane instead of
// the local operating system.
type InstanceTerminator struct {
	instance InstanceStopper
	logger   *slog.Logger
}

// NewInstanceTerminator creates an InstanceTerminator.
func NewInstanceTerminator(instance InstanceStopper, logger *slog.Logger) (*InstanceTerminator, error) {
	if instance == nil {
		return nil, errors.New("instance cannot be nil")
	}
	return &InstanceTerminator{instance: instance, logger: logger}, nil
}

// Terminate asks the control plane to stop the instance.
func (t *InstanceTerminator) Terminate(ctx context.Context) error {
	t.logger.Info("stopping instance", "instance_id", t.instance.ID())
	if err := t.instance.Stop(ctx); err != nil {
		return fmt.Errorf("stop instance %s: %w", t.instance.ID(), err)
	}
	return nil
}

// LogTerminator only records that termination was requested. It is used
// for local runs where powering the host off is not wanted.
type LogTerminator struct {
	logger *slog.Logger
}

// NewLogTerminator creates a LogTerminator.
func NewLogTerminator(logger *slog.Logger) *LogTerminator {
	return &LogTerminator{logger: logger}
}

// Terminate logs the request.
func (t *LogTerminator) Terminate(ctx context.Context) error {
	t.logger.Warn("SIMULATION: would shut down instance now")
	return nil
}
