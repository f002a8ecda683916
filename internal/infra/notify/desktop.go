package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner runs a notification command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Desktop shows messages through notify-send.
type Desktop struct {
	icon string
	run  CommandRunner
}

// NewDesktop creates a desktop provider. A nil runner executes notify-send.
func NewDesktop(icon string, run CommandRunner) *Desktop {
	if run == nil {
		run = runCommand
	}
	return &Desktop{icon: icon, run: run}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Send(ctx context.Context, m Message) error {
	args := []string{"--app-name=CastBridge"}
	if d.icon != "" {
		args = append(args, "--icon="+d.icon)
	}
	args = append(args, m.Title, m.Body)
	return d.run(ctx, "notify-send", args...)
}
