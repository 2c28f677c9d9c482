package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/upkeep/pkg/backup"
	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/diskspace"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/executor"
	"github.com/openfroyo/upkeep/pkg/executor/executortest"
	"github.com/openfroyo/upkeep/pkg/kernel"
	"github.com/openfroyo/upkeep/pkg/lock"
	"github.com/openfroyo/upkeep/pkg/stores"
	"github.com/openfroyo/upkeep/pkg/telemetry"
)

const (
	kernelList = "linux-image-6.8.0-40-generic\t6.8.0-40.40\tii \n" +
		"linux-image-6.8.0-44-generic\t6.8.0-44.44\tii \n" +
		"linux-image-6.8.0-45-generic\t6.8.0-45.45\tii \n" +
		"linux-headers-6.8.0-40-generic\t6.8.0-40.40\tii \n"

	upgradeSim = "Inst libc6 [2.39-0ubuntu8] (2.39-0ubuntu8.3 Ubuntu:24.04/noble-updates [amd64])\n" +
		"Conf libc6 (2.39-0ubuntu8.3 Ubuntu:24.04/noble-updates [amd64])\n"

	riskySim = upgradeSim +
		"Remv ubuntu-desktop [1.539]\n" +
		"Remv gnome-shell [46.0-0ubuntu6]\n"

	autoremoveOut = "0 upgraded, 0 newly installed, 3 to remove and 0 not upgraded.\n" +
		"After this operation, 52.4 MB disk space will be freed.\n"

	journalOut = "Vacuuming done, freed 8.0M of archived journals from /var/log/journal.\n"

	upgradeCmd = "apt-get -y -o Dpkg::Options::=--force-confdef -o Dpkg::Options::=--force-confold full-upgrade"
)

type fakeFS struct {
	avail uint64
}

func (f *fakeFS) Statfs(path string) (diskspace.Usage, error) {
	return diskspace.Usage{Mount: path, Total: 100 * humanize.GiByte, Available: f.avail, Used: 100*humanize.GiByte - f.avail}, nil
}

func (f *fakeFS) Device(string) (uint64, error) {
	return 1, nil
}

type fakePrompter struct {
	answer string
	err    error
	asked  []string
}

func (p *fakePrompter) Ask(_ context.Context, message string) (string, error) {
	p.asked = append(p.asked, message)
	return p.answer, p.err
}

type harness struct {
	t        *testing.T
	cfg      *config.Configuration
	opts     Options
	fake     *executortest.Fake
	fs       *fakeFS
	store    *stores.SQLiteStore
	tel      *telemetry.Telemetry
	prompter Prompter
	reboot   string
	etc      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Paths.LockFile = filepath.Join(dir, "upkeep.lock")
	cfg.Paths.BackupDir = filepath.Join(dir, "backups")
	cfg.Paths.LogDir = filepath.Join(dir, "log")
	cfg.Paths.HistoryDB = filepath.Join(dir, "history.db")

	etc := filepath.Join(dir, "etc")
	require.NoError(t, os.MkdirAll(etc, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(etc, "hostname"), []byte("web1\n"), 0o644))

	store, err := stores.Open(context.Background(), stores.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fake := executortest.New().
		OnStdout("dpkg-query -W", kernelList).
		OnStdout("apt-get -s full-upgrade", upgradeSim).
		OnStdout("apt-get -y autoremove", autoremoveOut).
		OnStdout("journalctl --vacuum-time", journalOut)

	return &harness{
		t:      t,
		cfg:    cfg,
		opts:   Options{Mode: engine.ModeUnattended, RunID: "run-1"},
		fake:   fake,
		fs:     &fakeFS{avail: 50 * humanize.GiByte},
		store:  store,
		tel:    telemetry.NewNop(),
		reboot: filepath.Join(dir, "reboot-required"),
		etc:    etc,
	}
}

func (h *harness) run(ctx context.Context) (*engine.RunSummary, error) {
	p := New(h.cfg, h.opts, Deps{
		Runner:     h.fake,
		Locks:      lock.NewManager(h.cfg.Paths.LockFile),
		Disk:       diskspace.NewMonitor(h.fs),
		Backups:    backup.NewManager(h.cfg.Paths.BackupDir, h.fake, h.tel.Logger, backup.WithSources(h.etc)),
		Kernels:    kernel.NewInventory(h.fake).WithRelease(func() (string, error) { return "6.8.0-45-generic", nil }),
		Store:      h.store,
		Telemetry:  h.tel,
		Prompter:   h.prompter,
		RebootFile: h.reboot,
	})
	return p.Run(ctx)
}

func (h *harness) enable(ids ...engine.StepID) {
	for _, id := range ids {
		require.NoError(h.t, h.cfg.Apply(id, true))
	}
}

// assertLockFree checks that the run left the lock available.
func (h *harness) assertLockFree() {
	token, err := lock.NewManager(h.cfg.Paths.LockFile).Acquire()
	require.NoError(h.t, err, "lock must be released after the run")
	require.NoError(h.t, token.Release())
}

func outcome(t *testing.T, s *engine.RunSummary, id engine.StepID) engine.StepOutcome {
	t.Helper()
	o, ok := s.Outcome(id)
	require.True(t, ok, "missing outcome for %s", id)
	return o
}

func TestRunSucceeds(t *testing.T) {
	h := newHarness(t)

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.RunStatusSucceeded, summary.Status)
	assert.Equal(t, 0, engine.ExitCodeOf(err))
	require.Len(t, summary.Outcomes, len(config.Catalog()))
	for i, step := range config.Catalog() {
		assert.Equal(t, step.ID, summary.Outcomes[i].StepID, "outcomes must follow catalog order")
		assert.NoError(t, summary.Outcomes[i].Validate())
	}

	assert.Equal(t, engine.StepStatusSuccess, outcome(t, summary, engine.StepBackup).Status)
	assert.Equal(t, engine.StepStatusSkipped, outcome(t, summary, engine.StepSnapshot).Status)
	assert.Equal(t, "disabled", outcome(t, summary, engine.StepSnapshot).Message)
	assert.Equal(t, engine.StepStatusSuccess, outcome(t, summary, engine.StepUpgrade).Status)
	assert.True(t, h.fake.Ran(upgradeCmd))

	cleanup := outcome(t, summary, engine.StepKernelCleanup)
	assert.Equal(t, engine.StepStatusSuccess, cleanup.Status)
	assert.Contains(t, cleanup.Message, "linux-image-6.8.0-40-generic")
	for _, c := range h.fake.Calls() {
		if strings.HasPrefix(c.String(), "apt-get -y purge") {
			assert.NotContains(t, c.Args, "linux-image-6.8.0-45-generic", "running kernel must survive")
			assert.NotContains(t, c.Args, "linux-image-6.8.0-44-generic")
			assert.Contains(t, c.Args, "linux-headers-6.8.0-40-generic")
		}
	}

	assert.Equal(t, int64(52_400_000), outcome(t, summary, engine.StepAutoremove).FreedBytes)
	assert.Equal(t, int64(8*humanize.MiByte), outcome(t, summary, engine.StepJournalVacuum).FreedBytes)
	assert.GreaterOrEqual(t, summary.FreedBytes, int64(52_400_000+8*humanize.MiByte))

	backups, err := os.ReadDir(h.cfg.Paths.BackupDir)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	h.assertLockFree()
}

func TestRunRecordsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	summary, err := h.run(ctx)
	require.NoError(t, err)

	run, err := h.store.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusSucceeded, run.Status)
	assert.Equal(t, engine.ModeUnattended, run.Mode)
	require.NotNil(t, run.EndedAt)

	outcomes, err := h.store.ListOutcomes(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Len(t, outcomes, len(config.Catalog()))

	snaps, err := h.store.ListDiskSnapshots(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, stores.PhasePreflight, snaps[0].Phase)
	assert.Equal(t, stores.PhasePostflight, snaps[1].Phase)

	events, err := h.store.GetEvents(ctx, summary.RunID, 0)
	require.NoError(t, err)
	types := make(map[string]bool)
	for _, e := range events {
		types[e.Type] = true
	}
	assert.True(t, types[string(engine.EventTypeStepCompleted)])
	assert.True(t, types[string(engine.EventTypeStateChanged)])
	assert.True(t, types[string(engine.EventTypeRunCompleted)])
}

func TestStateTransitions(t *testing.T) {
	h := newHarness(t)
	var states []string
	h.tel.Events.Subscribe(func(e telemetry.Event) {
		states = append(states, e.Data["to"].(string))
	}, telemetry.FilterByType(engine.EventTypeStateChanged))

	_, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		string(engine.StateValidating),
		string(engine.StateLockAcquired),
		string(engine.StatePreflighted),
		string(engine.StateRunning),
		string(engine.StateSummarizing),
		string(engine.StateSucceeded),
	}, states)
}

func TestValidationErrorAbortsBeforeLock(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.cfg.Apply(engine.StepRepoRefresh, false))

	summary, err := h.run(context.Background())
	require.Error(t, err)

	assert.True(t, engine.IsValidation(err))
	assert.Equal(t, 2, engine.ExitCodeOf(err))
	assert.Equal(t, engine.RunStatusAborted, summary.Status)
	assert.Equal(t, engine.ErrorClassValidation, summary.AbortClass)
	assert.Contains(t, summary.AbortMessage, "upgrade requires repo_refresh")
	assert.Empty(t, h.fake.Calls())

	_, statErr := os.Stat(h.cfg.Paths.LockFile)
	assert.True(t, os.IsNotExist(statErr), "validation must fail before the lock is touched")

	_, err = h.store.GetRun(context.Background(), summary.RunID)
	assert.ErrorIs(t, err, stores.ErrRunNotFound)
}

func TestConcurrentRunIsRefused(t *testing.T) {
	h := newHarness(t)
	held, err := lock.NewManager(h.cfg.Paths.LockFile).Acquire()
	require.NoError(t, err)
	defer held.Release()

	summary, err := h.run(context.Background())
	require.Error(t, err)

	assert.True(t, engine.IsConcurrency(err))
	assert.Equal(t, 3, engine.ExitCodeOf(err))
	assert.Equal(t, engine.ErrorClassConcurrency, summary.AbortClass)
	assert.Equal(t, engine.RemediationConcurrency, summary.Remediation)
	assert.Empty(t, h.fake.Calls())
	for _, o := range summary.Outcomes {
		assert.Equal(t, engine.StepStatusSkipped, o.Status)
	}
}

func TestLowDiskSpaceAbortsBeforeAnyStep(t *testing.T) {
	h := newHarness(t)
	h.fs.avail = 1 * humanize.GiByte

	summary, err := h.run(context.Background())
	require.Error(t, err)

	assert.True(t, engine.IsDiskSpace(err))
	assert.Equal(t, 4, engine.ExitCodeOf(err))
	assert.Equal(t, engine.RunStatusAborted, summary.Status)
	assert.Empty(t, h.fake.Calls(), "no step may run")
	assert.Equal(t, "run aborted", outcome(t, summary, engine.StepBackup).Message)
	h.assertLockFree()

	run, err := h.store.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusAborted, run.Status)
	assert.Equal(t, string(engine.ErrorClassDiskSpace), run.AbortClass)

	snaps, err := h.store.ListDiskSnapshots(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestDryRunExecutesNoMutatingCommands(t *testing.T) {
	h := newHarness(t)
	h.opts.DryRun = true
	h.enable(engine.StepFlatpak, engine.StepSnap, engine.StepFirmware)

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Empty(t, h.fake.MutatingCalls())
	assert.True(t, h.fake.Ran("apt-get -s full-upgrade"), "simulation is read-only and still runs")
	assert.Contains(t, outcome(t, summary, engine.StepBackup).Message, "dry run")
	assert.Contains(t, outcome(t, summary, engine.StepKernelCleanup).Message, "would purge")
	assert.Zero(t, summary.FreedBytes)

	// Tools that rewrite their own caches count as mutating as well.
	for _, cmd := range []string{"apt-get update", "fwupdmgr", "flatpak", "snap refresh"} {
		assert.False(t, h.fake.Ran(cmd), "dry run executed %s", cmd)
	}
	fw := outcome(t, summary, engine.StepFirmware)
	assert.Equal(t, engine.StepStatusSuccess, fw.Status)
	assert.Contains(t, fw.Message, "dry run")

	_, statErr := os.Stat(h.cfg.Paths.BackupDir)
	assert.True(t, os.IsNotExist(statErr))

	run, err := h.store.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.True(t, run.DryRun)
}

func TestRiskGate(t *testing.T) {
	tests := []struct {
		name      string
		mode      engine.Mode
		prompter  Prompter
		wantAbort bool
	}{
		{name: "unattended aborts", mode: engine.ModeUnattended, wantAbort: true},
		{name: "interactive confirmed", mode: engine.ModeInteractive, prompter: &fakePrompter{answer: "YES\n"}},
		{name: "interactive lowercase refused", mode: engine.ModeInteractive, prompter: &fakePrompter{answer: "yes"}, wantAbort: true},
		{name: "interactive prompt failed", mode: engine.ModeInteractive, prompter: &fakePrompter{err: errors.New("eof")}, wantAbort: true},
		{name: "interactive without prompter", mode: engine.ModeInteractive, wantAbort: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.opts.Mode = tt.mode
			h.prompter = tt.prompter
			h.fake.OnStdout("apt-get -s full-upgrade", riskySim)

			summary, err := h.run(context.Background())

			upgrade := outcome(t, summary, engine.StepUpgrade)
			if !tt.wantAbort {
				require.NoError(t, err)
				assert.Equal(t, engine.StepStatusSuccess, upgrade.Status)
				assert.True(t, h.fake.Ran(upgradeCmd))
				return
			}

			require.Error(t, err)
			assert.True(t, engine.IsRiskAbort(err))
			assert.Equal(t, 5, engine.ExitCodeOf(err))
			assert.Equal(t, engine.StepStatusError, upgrade.Status)
			assert.Equal(t, engine.ErrorClassRiskAbort, upgrade.ErrorClass)
			assert.False(t, h.fake.Ran(upgradeCmd), "upgrade must not run")
			assert.Equal(t, "run aborted", outcome(t, summary, engine.StepAutoremove).Message)
			assert.Contains(t, summary.AbortMessage, "remove 2 packages")
			h.assertLockFree()
		})
	}
}

func TestRiskThresholdTolerance(t *testing.T) {
	h := newHarness(t)
	h.cfg.Thresholds.RiskThreshold = 2
	h.fake.OnStdout("apt-get -s full-upgrade", riskySim)

	_, err := h.run(context.Background())
	require.NoError(t, err)
	assert.True(t, h.fake.Ran(upgradeCmd))
}

func TestSnapshot(t *testing.T) {
	t.Run("timeshift preferred", func(t *testing.T) {
		h := newHarness(t)
		h.enable(engine.StepSnapshot)

		summary, err := h.run(context.Background())
		require.NoError(t, err)
		assert.True(t, h.fake.Ran("timeshift --create --scripted"))
		assert.False(t, h.fake.Ran("snapper"))
		assert.Equal(t, engine.StepStatusSuccess, outcome(t, summary, engine.StepSnapshot).Status)
	})

	t.Run("snapper fallback", func(t *testing.T) {
		h := newHarness(t)
		h.enable(engine.StepSnapshot)
		h.fake.Missing("timeshift")

		_, err := h.run(context.Background())
		require.NoError(t, err)
		assert.True(t, h.fake.Ran("snapper create --description"))
	})

	t.Run("missing tool aborts unattended", func(t *testing.T) {
		h := newHarness(t)
		h.enable(engine.StepSnapshot)
		h.fake.Missing("timeshift", "snapper")

		summary, err := h.run(context.Background())
		require.Error(t, err)
		assert.True(t, engine.IsSnapshotFailure(err))
		assert.Equal(t, 6, engine.ExitCodeOf(err))
		assert.False(t, h.fake.Ran("apt-get update"))
		assert.Equal(t, engine.ErrorClassSnapshot, outcome(t, summary, engine.StepSnapshot).ErrorClass)
	})

	t.Run("failure overridden interactively", func(t *testing.T) {
		h := newHarness(t)
		h.enable(engine.StepSnapshot)
		h.opts.Mode = engine.ModeInteractive
		prompter := &fakePrompter{answer: "YES"}
		h.prompter = prompter
		h.fake.OnExit("timeshift --create", 1, "E: no snapshot device")

		summary, err := h.run(context.Background())
		require.NoError(t, err)
		assert.Len(t, prompter.asked, 1)
		assert.Equal(t, engine.StepStatusWarning, outcome(t, summary, engine.StepSnapshot).Status)
		assert.True(t, h.fake.Ran("apt-get update"))
	})

	t.Run("failure refused interactively", func(t *testing.T) {
		h := newHarness(t)
		h.enable(engine.StepSnapshot)
		h.opts.Mode = engine.ModeInteractive
		h.prompter = &fakePrompter{answer: "no"}
		h.fake.OnExit("timeshift --create", 1, "E: no snapshot device")

		_, err := h.run(context.Background())
		assert.True(t, engine.IsSnapshotFailure(err))
	})
}

func TestCriticalStepFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.fake.OnExit("apt-get update", 100, "E: Could not get lock /var/lib/apt/lists/lock. It is held by process 4242 (apt-get)")

	summary, err := h.run(context.Background())
	require.Error(t, err)

	assert.True(t, engine.IsStepExecution(err))
	assert.Equal(t, 7, engine.ExitCodeOf(err))
	assert.Equal(t, engine.RemediationPkgLock, summary.Remediation)
	refresh := outcome(t, summary, engine.StepRepoRefresh)
	assert.Equal(t, engine.StepStatusError, refresh.Status)
	assert.Equal(t, engine.ErrorClassStepExecution, refresh.ErrorClass)
	assert.Equal(t, "run aborted", outcome(t, summary, engine.StepUpgrade).Message)
	assert.False(t, h.fake.Ran("apt-get -s"))
	h.assertLockFree()
}

func TestNonCriticalFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.fake.OnExit("apt-get -y autoremove", 1, "E: Sub-process /usr/bin/dpkg returned an error code (1)")

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.RunStatusSucceeded, summary.Status)
	autoremove := outcome(t, summary, engine.StepAutoremove)
	assert.Equal(t, engine.StepStatusError, autoremove.Status)
	assert.Equal(t, engine.ErrorClassStepExecution, autoremove.ErrorClass)
	assert.Equal(t, 1, summary.Counts()[engine.StepStatusError])
	assert.True(t, h.fake.Ran("apt-get -y autoclean"))
}

func TestOptionalToolsMissing(t *testing.T) {
	h := newHarness(t)
	h.enable(engine.StepFlatpak, engine.StepSnap, engine.StepFirmware)
	h.fake.Missing("flatpak", "snap", "fwupdmgr")

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	for _, id := range []engine.StepID{engine.StepFlatpak, engine.StepSnap, engine.StepFirmware} {
		o := outcome(t, summary, id)
		assert.Equal(t, engine.StepStatusSkipped, o.Status, id)
		assert.Contains(t, o.Message, "not installed")
	}
}

func TestFirmwareNothingToDo(t *testing.T) {
	h := newHarness(t)
	h.enable(engine.StepFirmware)
	h.fake.OnExit("fwupdmgr refresh", 2, "Metadata is up to date")
	h.fake.OnExit("fwupdmgr update", 2, "No updatable devices")

	summary, err := h.run(context.Background())
	require.NoError(t, err)
	o := outcome(t, summary, engine.StepFirmware)
	assert.Equal(t, engine.StepStatusSuccess, o.Status)
	assert.Equal(t, "firmware is up to date", o.Message)
}

func TestKernelCleanupNothingToRemove(t *testing.T) {
	h := newHarness(t)
	h.fake.OnStdout("dpkg-query -W",
		"linux-image-6.8.0-44-generic\t6.8.0-44.44\tii \n"+
			"linux-image-6.8.0-45-generic\t6.8.0-45.45\tii \n")

	summary, err := h.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.StepStatusSkipped, outcome(t, summary, engine.StepKernelCleanup).Status)
	assert.False(t, h.fake.Ran("apt-get -y purge"))
}

func TestResidualConfigPurge(t *testing.T) {
	h := newHarness(t)
	h.fake.OnStdout("dpkg -l",
		"ii  bash            5.2.21-2ubuntu4   amd64  GNU Bourne Again SHell\n"+
			"rc  libfoo1:amd64   1.0-1             amd64  foo library\n"+
			"rc  oldtool         2.3               all    old tool\n")

	summary, err := h.run(context.Background())
	require.NoError(t, err)
	assert.True(t, h.fake.Ran("dpkg --purge libfoo1:amd64 oldtool"))
	assert.Contains(t, outcome(t, summary, engine.StepResidualConfig).Message, "2 packages")
}

func TestRebootRequired(t *testing.T) {
	t.Run("marker and critical upgrade", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, os.WriteFile(h.reboot, []byte("*** System restart required ***\n"), 0o644))
		require.NoError(t, os.WriteFile(h.reboot+".pkgs", []byte("linux-base\nlinux-base\n"), 0o644))

		summary, err := h.run(context.Background())
		require.NoError(t, err)
		assert.True(t, summary.RebootRequired)
		require.Len(t, summary.RebootReasons, 2)
		assert.Contains(t, summary.RebootReasons[0], "(linux-base)")
		assert.Equal(t, "upgraded libc6", summary.RebootReasons[1])
	})

	t.Run("dry run ignores simulated upgrades", func(t *testing.T) {
		h := newHarness(t)
		h.opts.DryRun = true

		summary, err := h.run(context.Background())
		require.NoError(t, err)
		assert.False(t, summary.RebootRequired)
	})

	t.Run("nothing pending", func(t *testing.T) {
		h := newHarness(t)
		h.fake.OnStdout("apt-get -s full-upgrade", "")

		summary, err := h.run(context.Background())
		require.NoError(t, err)
		assert.False(t, summary.RebootRequired)
		assert.False(t, h.fake.Ran(upgradeCmd))
		assert.Equal(t, "system is up to date", outcome(t, summary, engine.StepUpgrade).Message)
	})
}

func TestInterruptedRunReleasesLock(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fake.OnRun(func(c executor.Command) {
		if c.String() == "apt-get update" {
			cancel()
		}
	})

	summary, err := h.run(ctx)
	require.Error(t, err)

	assert.Equal(t, 130, engine.ExitCodeOf(err))
	assert.Equal(t, engine.ErrorClassInterrupted, summary.AbortClass)
	assert.Equal(t, engine.ErrorClassInterrupted, outcome(t, summary, engine.StepRepoRefresh).ErrorClass)
	assert.False(t, h.fake.Ran("apt-get -s"))
	h.assertLockFree()

	run, err := h.store.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusAborted, run.Status)
}

func TestDisabledStepsNeverRun(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.cfg.Apply(engine.StepJournalVacuum, false))
	require.NoError(t, h.cfg.Apply(engine.StepAutoclean, false))

	summary, err := h.run(context.Background())
	require.NoError(t, err)
	assert.False(t, h.fake.Ran("journalctl"))
	assert.False(t, h.fake.Ran("apt-get -y autoclean"))
	assert.Equal(t, "disabled", outcome(t, summary, engine.StepJournalVacuum).Message)
}
