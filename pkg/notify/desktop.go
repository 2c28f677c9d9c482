package notify

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/executor"
)

// Desktop shows a notification bubble through notify-send. When the run
// was started through sudo the bubble is sent to the invoking user's
// session bus.
type Desktop struct {
	runner   executor.Runner
	sudoUser string
	lookup   func(name string) (*user.User, error)
}

// NewDesktop creates a desktop notifier.
func NewDesktop(runner executor.Runner) *Desktop {
	return &Desktop{
		runner:   runner,
		sudoUser: os.Getenv("SUDO_USER"),
		lookup:   user.Lookup,
	}
}

// Name implements Notifier.
func (d *Desktop) Name() string { return "desktop" }

// Notify implements Notifier.
func (d *Desktop) Notify(ctx context.Context, summary *engine.RunSummary) error {
	if !executor.Installed(d.runner, "notify-send") {
		return fmt.Errorf("notify-send: %w", executor.ErrNotInstalled)
	}

	urgency := "normal"
	if summary.Status == engine.RunStatusAborted {
		urgency = "critical"
	}
	args := []string{"--app-name=upkeep", "--urgency=" + urgency, Title(summary), Body(summary)}

	cmd := executor.Read("notify-send", args...)
	if d.sudoUser != "" && d.sudoUser != "root" {
		u, err := d.lookup(d.sudoUser)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", d.sudoUser, err)
		}
		cmd = executor.Read("sudo", append([]string{"-u", d.sudoUser,
			"DBUS_SESSION_BUS_ADDRESS=unix:path=/run/user/" + u.Uid + "/bus",
			"notify-send"}, args...)...)
	}

	res, err := d.runner.Run(ctx, cmd)
	if err != nil {
		return err
	}
	return res.Err()
}
