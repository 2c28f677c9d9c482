package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// Telemetry combines the run log, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	if cfg.Tracing.Exporter == "stdout" && cfg.Tracing.Output == nil && logger.file != nil {
		cfg.Tracing.Output = logger.file
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}, nil
}

// NewNop returns telemetry that records nothing. Useful in tests and for
// read-only commands.
func NewNop() *Telemetry {
	tracer, _ := NewTracer(TracingConfig{Exporter: "none"}, "upkeep", "test")
	metrics, _ := NewMetrics(MetricsConfig{})
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(EventsConfig{Enabled: true}),
		Config:  DefaultConfig(),
	}
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes metrics and spans and closes the run log.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Metrics.WriteTextfile(); err != nil {
		errs = append(errs, err)
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.Logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StepScope instruments one step: a span, a step logger and the events
// and metrics emitted when it ends.
type StepScope struct {
	Ctx    context.Context
	Logger *Logger

	tel   *Telemetry
	span  trace.Span
	runID string
	step  engine.StepID
}

// BeginStep starts instrumentation for step.
func (t *Telemetry) BeginStep(ctx context.Context, runID string, step engine.StepID) *StepScope {
	spanCtx, span := t.Tracer.StartStepSpan(ctx, string(step))
	logger := t.Logger.WithRunID(runID).WithStep(string(step))
	t.Events.PublishStepStarted(runID, step)
	return &StepScope{
		Ctx:    logger.WithContext(spanCtx),
		Logger: logger,
		tel:    t,
		span:   span,
		runID:  runID,
		step:   step,
	}
}

// End records the outcome on the span, in metrics, in the run log and as
// an event.
func (s *StepScope) End(outcome engine.StepOutcome) {
	s.span.SetAttributes(AttrStepStatus.String(string(outcome.Status)))
	switch outcome.Status {
	case engine.StepStatusError:
		RecordError(s.span, errors.New(outcome.Message))
		s.Logger.Errorf("%s failed: %s", s.step, outcome.Message)
	case engine.StepStatusWarning:
		s.Logger.Warnf("%s: %s", s.step, outcome.Message)
		RecordSuccess(s.span)
	case engine.StepStatusSkipped:
		s.Logger.Infof("%s skipped: %s", s.step, outcome.Message)
		RecordSuccess(s.span)
	default:
		s.Logger.Successf("%s: %s", s.step, outcome.Message)
		RecordSuccess(s.span)
	}
	s.span.End()

	s.tel.Metrics.RecordStep(string(s.step), string(outcome.Status), outcome.Duration())
	s.tel.Events.PublishStepCompleted(s.runID, outcome)
}
