package pipeline

import (
	"context"
	"encoding/json"

	"github.com/openfroyo/upkeep/pkg/diskspace"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/stores"
	"github.com/openfroyo/upkeep/pkg/telemetry"
)

// HistoryKeep is how many runs the history database retains.
const HistoryKeep = 200

// history mirrors a run into the store. Store failures are logged and never
// affect the run.
type history struct {
	store  stores.Store
	logger *telemetry.Logger
	runID  string
	open   bool
}

// attachHistory subscribes the recorder to the run's events. Events
// published before the run row exists are dropped; they all describe the
// pre-lock phase which belongs to whichever run holds the lock.
func (p *Pipeline) attachHistory(rc *RunContext) *history {
	h := &history{store: p.deps.Store, logger: p.tel.Logger.NewComponentLogger("history"), runID: rc.ID}
	if h.store == nil {
		return h
	}
	p.tel.Events.Subscribe(h.record, telemetry.FilterByRunID(rc.ID))
	return h
}

func (h *history) begin(ctx context.Context, rc *RunContext, logPath string) {
	if h.store == nil {
		return
	}
	err := h.store.CreateRun(ctx, &stores.Run{
		ID:        rc.ID,
		Status:    engine.RunStatusRunning,
		Mode:      rc.Mode,
		DryRun:    rc.DryRun,
		Profile:   rc.Config.Profile,
		StartedAt: rc.StartedAt,
		LogPath:   logPath,
	})
	if err != nil {
		h.logger.WithError(err).Warn("failed to record run")
		return
	}
	h.open = true
}

func (h *history) record(event telemetry.Event) {
	if !h.open {
		return
	}
	var data string
	if len(event.Data) > 0 {
		if b, err := json.Marshal(event.Data); err == nil {
			data = string(b)
		}
	}
	err := h.store.AppendEvent(context.Background(), &stores.Event{
		RunID:     event.RunID,
		StepID:    string(event.StepID),
		Type:      string(event.Type),
		Level:     event.Level,
		Message:   event.Message,
		Data:      data,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		h.logger.WithError(err).Debug("failed to record event")
	}
}

func (h *history) saveDisk(rc *RunContext, phase stores.Phase, snap *diskspace.Snapshot) {
	if !h.open {
		return
	}
	for _, u := range snap.Usages() {
		err := h.store.SaveDiskSnapshot(context.Background(), &stores.DiskSnapshot{
			RunID:     rc.ID,
			Phase:     phase,
			Mount:     u.Mount,
			Total:     u.Total,
			Available: u.Available,
			Used:      u.Used,
			TakenAt:   snap.TakenAt,
		})
		if err != nil {
			h.logger.WithError(err).Warn("failed to record disk usage")
			return
		}
	}
}

// finish writes the final status. It runs on the abort path too, so it
// must not depend on ctx still being live.
func (h *history) finish(_ context.Context, summary *engine.RunSummary) {
	if !h.open {
		return
	}
	ctx := context.Background()
	if err := h.store.FinishRun(ctx, summary); err != nil {
		h.logger.WithError(err).Warn("failed to finish run record")
		return
	}
	if n, err := h.store.PruneRuns(ctx, HistoryKeep); err != nil {
		h.logger.WithError(err).Warn("failed to prune run history")
	} else if n > 0 {
		h.logger.Debugf("pruned %d old runs", n)
	}
}
