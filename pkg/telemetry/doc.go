// Package telemetry provides the observability stack of a maintenance run.
//
// A run produces four kinds of signal:
//
//  1. A per-run log file written through zerolog, with an extra SUCCESS level
//  2. OpenTelemetry spans for the run and for every step
//  3. Prometheus metrics exported through the node_exporter textfile collector
//  4. Events delivered synchronously to the history store and notifiers
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Console = os.Stderr
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Run Logs
//
// Log files are named upkeep-YYYYMMDD-HHMMSS.log. Only the newest
// LoggingConfig.Retain files are kept. Lines look like
//
//	2024-05-01T03:00:00Z SUCCESS upkeep: 12 packages upgraded step=upgrade
//
// # Steps
//
// The pipeline wraps every step in a StepScope:
//
//	scope := tel.BeginStep(ctx, runID, engine.StepAutoremove)
//	outcome := step.Run(scope.Ctx)
//	scope.End(outcome)
//
// End closes the span, records the step metrics, writes the log entry and
// publishes the step completed or step failed event.
//
// # Metrics
//
// Metrics live in a private registry. Shutdown writes them to
// MetricsConfig.TextfilePath when one is configured.
package telemetry
