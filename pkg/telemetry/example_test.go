package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/telemetry"
)

// Example_stepScope shows how a step is instrumented.
func Example_stepScope() {
	tel := telemetry.NewNop()

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.StepID)
	}, nil)

	scope := tel.BeginStep(context.Background(), "run-1", engine.StepAutoclean)
	now := time.Now()
	scope.End(engine.StepOutcome{
		StepID:    engine.StepAutoclean,
		Status:    engine.StepStatusSuccess,
		StartedAt: now,
		EndedAt:   now,
		Message:   "package cache cleaned",
	})

	// Output:
	// step_started autoclean
	// step_completed autoclean
}

// Example_eventFilter shows filtered subscriptions.
func Example_eventFilter() {
	publisher := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})

	publisher.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Level, e.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	publisher.PublishStepStarted("run-1", engine.StepUpgrade)
	publisher.PublishRiskDetected("run-1", 7, []string{"libfoo1"})

	// Output:
	// warning Upgrade proposes removing 7 packages
}

// ExampleRunLogName shows how run log files are named.
func ExampleRunLogName() {
	fmt.Println(telemetry.RunLogName(time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)))

	// Output:
	// upkeep-20240501-030000.log
}
