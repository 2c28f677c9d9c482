// Package notify delivers the run summary to the operator once a run
// reaches a terminal state. Notifiers are subscribed to the run's event
// publisher and only see run_completed and run_aborted events.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/executor"
	"github.com/openfroyo/upkeep/pkg/telemetry"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// Notifier delivers a finished run summary.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, summary *engine.RunSummary) error
}

// FromConfig builds the notifiers enabled in cfg.
func FromConfig(cfg *config.Configuration, runner executor.Runner) []Notifier {
	var out []Notifier
	if cfg.NotifierEnabled(config.NotifierDesktop) {
		out = append(out, NewDesktop(runner))
	}
	if cfg.NotifierEnabled(config.NotifierWebhook) && cfg.WebhookURL != "" {
		out = append(out, NewWebhook(cfg.WebhookURL))
	}
	return out
}

// Attach subscribes notifiers to the terminal run events of events.
// Delivery failures are logged as warnings and never change the run result.
func Attach(events *telemetry.EventPublisher, logger *telemetry.Logger, notifiers ...Notifier) {
	if len(notifiers) == 0 {
		return
	}
	logger = logger.NewComponentLogger("notify")
	events.Subscribe(func(event telemetry.Event) {
		if event.Summary == nil {
			return
		}
		for _, n := range notifiers {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
			err := n.Notify(ctx, event.Summary)
			cancel()
			if err != nil {
				logger.WithError(err).Warnf("%s notification failed", n.Name())
				continue
			}
			logger.Debugf("%s notification sent", n.Name())
		}
	}, telemetry.FilterByType(engine.EventTypeRunCompleted, engine.EventTypeRunAborted))
}

// Title is the one-line headline of a summary.
func Title(s *engine.RunSummary) string {
	prefix := "upkeep"
	if s.DryRun {
		prefix = "upkeep (dry run)"
	}
	if s.Status == engine.RunStatusAborted {
		return fmt.Sprintf("%s: run aborted (%s)", prefix, s.AbortClass)
	}
	return prefix + ": maintenance completed"
}

// Body describes a summary in a few short lines.
func Body(s *engine.RunSummary) string {
	counts := s.Counts()
	lines := []string{fmt.Sprintf("%d ok, %d warnings, %d errors, %d skipped",
		counts[engine.StepStatusSuccess], counts[engine.StepStatusWarning],
		counts[engine.StepStatusError], counts[engine.StepStatusSkipped])}
	if s.AbortMessage != "" {
		lines = append(lines, s.AbortMessage)
	}
	if s.FreedBytes > 0 {
		lines = append(lines, humanize.IBytes(uint64(s.FreedBytes))+" freed")
	}
	if s.RebootRequired {
		lines = append(lines, "Reboot required")
	}
	return strings.Join(lines, "\n")
}
