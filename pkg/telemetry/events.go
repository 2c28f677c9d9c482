package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// Event is a point on the run timeline. Events are persisted to the run
// history and delivered to notifiers.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type engine.EventType `json:"type"`

	// RunID is the associated run ID.
	RunID string `json:"run_id,omitempty"`

	// StepID is the associated step, if applicable.
	StepID engine.StepID `json:"step_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`

	// Summary is attached to run completion and abort events.
	Summary *engine.RunSummary `json:"-"`
}

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events synchronously to subscribers, in
// subscription order. A run is a single thread of control, so delivery
// finishes before Publish returns.
type EventPublisher struct {
	config      EventsConfig
	subscribers []subscriberEntry
	filters     []EventFilter
	mu          sync.RWMutex
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{config: cfg}
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) {
	if ep == nil || !ep.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, filter := range ep.filters {
		if !filter(event) {
			return
		}
	}
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID string, mode engine.Mode, dryRun bool) {
	ep.Publish(Event{
		Type:    engine.EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started (%s)", runID, mode),
		Data: map[string]interface{}{
			"mode":    string(mode),
			"dry_run": dryRun,
		},
	})
}

// PublishStateChanged publishes a pipeline state transition.
func (ep *EventPublisher) PublishStateChanged(runID string, from, to engine.PipelineState) {
	ep.Publish(Event{
		Type:    engine.EventTypeStateChanged,
		RunID:   runID,
		Message: fmt.Sprintf("%s -> %s", from, to),
		Data: map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		},
	})
}

// PublishStepStarted publishes a step started event.
func (ep *EventPublisher) PublishStepStarted(runID string, step engine.StepID) {
	ep.Publish(Event{
		Type:    engine.EventTypeStepStarted,
		RunID:   runID,
		StepID:  step,
		Message: fmt.Sprintf("Step %s started", step),
	})
}

// PublishStepCompleted publishes the outcome of a step.
func (ep *EventPublisher) PublishStepCompleted(runID string, outcome engine.StepOutcome) {
	eventType := engine.EventTypeStepCompleted
	if outcome.Status == engine.StepStatusError {
		eventType = engine.EventTypeStepFailed
	}
	ep.Publish(Event{
		Type:    eventType,
		RunID:   runID,
		StepID:  outcome.StepID,
		Message: fmt.Sprintf("Step %s %s: %s", outcome.StepID, outcome.Status, outcome.Message),
		Data: map[string]interface{}{
			"status":   string(outcome.Status),
			"duration": outcome.Duration().Seconds(),
		},
	})
}

// PublishRiskDetected publishes a risky upgrade simulation.
func (ep *EventPublisher) PublishRiskDetected(runID string, removals int, sample []string) {
	ep.Publish(Event{
		Type:    engine.EventTypeRiskDetected,
		RunID:   runID,
		StepID:  engine.StepUpgrade,
		Message: fmt.Sprintf("Upgrade proposes removing %d packages", removals),
		Data: map[string]interface{}{
			"removals": removals,
			"sample":   sample,
		},
	})
}

// PublishRunFinished publishes a run completed or aborted event carrying the summary.
func (ep *EventPublisher) PublishRunFinished(summary *engine.RunSummary) {
	event := Event{
		Type:    engine.EventTypeRunCompleted,
		RunID:   summary.RunID,
		Message: fmt.Sprintf("Run %s completed", summary.RunID),
		Summary: summary,
		Data: map[string]interface{}{
			"status":   string(summary.Status),
			"duration": summary.Duration().Seconds(),
		},
	}
	if summary.Status == engine.RunStatusAborted {
		event.Type = engine.EventTypeRunAborted
		event.Message = fmt.Sprintf("Run %s aborted: %s", summary.RunID, summary.AbortMessage)
		event.Data["class"] = string(summary.AbortClass)
	}
	ep.Publish(event)
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
