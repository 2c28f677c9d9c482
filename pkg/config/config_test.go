package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/upkeep/pkg/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCatalog(t *testing.T) {
	steps := Catalog()
	require.Len(t, steps, 13)
	assert.Equal(t, engine.StepBackup, steps[0].ID)
	assert.Equal(t, engine.StepRebootCheck, steps[12].ID)
	for i, s := range steps {
		assert.Equal(t, i+1, s.Order)
	}

	upgrade, ok := Lookup(engine.StepUpgrade)
	require.True(t, ok)
	assert.Equal(t, []engine.StepID{engine.StepRepoRefresh}, upgrade.DependsOn)

	refresh, _ := Lookup(engine.StepRepoRefresh)
	assert.True(t, refresh.Critical)

	g, err := Graph()
	require.NoError(t, err)
	assert.Equal(t, StepIDs(), g.Steps())
}

func TestBuildGraphRejectsCycles(t *testing.T) {
	_, err := BuildGraph([]Step{
		{ID: "a", DependsOn: []engine.StepID{"b"}},
		{ID: "b", DependsOn: []engine.StepID{"a"}},
	})
	require.Error(t, err)

	_, err = BuildGraph([]Step{{ID: "a", DependsOn: []engine.StepID{"ghost"}}})
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.True(t, cfg.Enabled(engine.StepUpgrade))
	assert.False(t, cfg.Enabled(engine.StepSnapshot))
	assert.False(t, cfg.Enabled(engine.StepFlatpak))
	assert.Equal(t, 2, cfg.Thresholds.KernelsKeep)
	assert.Equal(t, 0, cfg.Thresholds.RiskThreshold)
}

func TestValidateDependencyFailure(t *testing.T) {
	cfg := Default()
	cfg.Steps[engine.StepRepoRefresh] = ToggleState{Enabled: false}
	cfg.Steps[engine.StepUpgrade] = ToggleState{Enabled: true}

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
	assert.Equal(t, engine.ExitValidation, engine.ExitCodeOf(err))
	assert.Contains(t, err.Error(), "upgrade requires repo_refresh")

	// No auto-fix.
	assert.False(t, cfg.Enabled(engine.StepRepoRefresh))

	cfg.Steps[engine.StepUpgrade] = ToggleState{Enabled: false}
	assert.NoError(t, Validate(cfg))
}

func TestApplyLockedStep(t *testing.T) {
	cfg := Default()
	cfg.Steps[engine.StepUpgrade] = ToggleState{Enabled: true, Locked: true}

	err := cfg.Apply(engine.StepUpgrade, false)
	require.Error(t, err)
	assert.True(t, engine.IsLockedStep(err))
	assert.True(t, cfg.Enabled(engine.StepUpgrade))

	require.NoError(t, cfg.Apply(engine.StepSnap, true))
	assert.True(t, cfg.Enabled(engine.StepSnap))

	err = cfg.Apply("defrag", true)
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
}

func TestSelectAllPreservesLocks(t *testing.T) {
	cfg := Default()
	cfg.Steps[engine.StepSnapshot] = ToggleState{Enabled: false, Locked: true}
	cfg.Steps[engine.StepBackup] = ToggleState{Enabled: true, Locked: true}

	changed := cfg.SelectAll(true)
	assert.NotContains(t, changed, engine.StepSnapshot)
	assert.False(t, cfg.Enabled(engine.StepSnapshot))
	assert.True(t, cfg.Enabled(engine.StepFlatpak))

	cfg.SelectAll(false)
	assert.True(t, cfg.Enabled(engine.StepBackup))
	assert.False(t, cfg.Enabled(engine.StepUpgrade))
	assert.Equal(t, []engine.StepID{engine.StepBackup}, cfg.EnabledSteps())
}

func TestApplyNotifier(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyNotifier(NotifierDesktop, true))
	assert.True(t, cfg.NotifierEnabled(NotifierDesktop))

	cfg.Notifiers[NotifierWebhook] = ToggleState{Locked: true}
	assert.Error(t, cfg.ApplyNotifier(NotifierWebhook, true))
	assert.Error(t, cfg.ApplyNotifier("pager", true))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
profile: default
theme: dark
steps:
  snap: {enabled: true}
  upgrade: {enabled: true, locked: true}
thresholds:
  kernels_keep: 3
  risk_threshold: 5
`)
	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "dark", cfg.Theme)
	assert.True(t, cfg.Enabled(engine.StepSnap))
	assert.True(t, cfg.Locked(engine.StepUpgrade))
	assert.True(t, cfg.Enabled(engine.StepAutoclean), "unlisted steps keep defaults")
	assert.Equal(t, 3, cfg.Thresholds.KernelsKeep)
	assert.Equal(t, 5, cfg.Thresholds.RiskThreshold)
	assert.Equal(t, 5, cfg.Thresholds.MinRootGB)
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"unknown key":       "shell: rm -rf /\n",
		"unknown step":      "steps:\n  defrag: {enabled: true}\n",
		"bad threshold":     "thresholds:\n  min_root_gb: 0\n",
		"bad locale":        "locale: tlh\n",
		"sftp without host": "mirror:\n  kind: sftp\n",
		"otlp no endpoint":  "telemetry:\n  tracing: otlp\n",
		"malformed yaml":    "steps: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(LoadOptions{Path: writeConfig(t, doc)})
			require.Error(t, err)
			assert.True(t, engine.IsValidation(err), "%v", err)
		})
	}
}

func TestProfilePrecedence(t *testing.T) {
	path := writeConfig(t, `
steps:
  upgrade: {enabled: false}
  snapshot: {enabled: true, locked: true}
`)
	cfg, err := Load(LoadOptions{Path: path, Profile: ProfileMinimal})
	require.NoError(t, err)

	assert.Equal(t, ProfileMinimal, cfg.Profile)
	assert.True(t, cfg.Enabled(engine.StepUpgrade), "profile overrides file")
	assert.False(t, cfg.Enabled(engine.StepBackup))
	assert.True(t, cfg.Enabled(engine.StepSnapshot), "locked step survives profile")
}

func TestCustomProfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "desktop.yaml"),
		[]byte("description: desktop\nsteps:\n  flatpak: true\n  snap: true\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"),
		[]byte("steps:\n  defrag: true\n"), 0o644))

	cfg, err := Load(LoadOptions{Profile: "desktop", ProfileDir: dir})
	require.NoError(t, err)
	assert.True(t, cfg.Enabled(engine.StepFlatpak))
	assert.True(t, cfg.Enabled(engine.StepUpgrade))

	_, err = Load(LoadOptions{Profile: "broken", ProfileDir: dir})
	assert.True(t, engine.IsValidation(err))

	_, err = Load(LoadOptions{Profile: "nope", ProfileDir: dir})
	assert.True(t, engine.IsValidation(err))

	_, err = Load(LoadOptions{Profile: "../etc/passwd", ProfileDir: dir})
	assert.True(t, engine.IsValidation(err))

	assert.Equal(t, []string{"broken", "default", "desktop", "full", "minimal", "server"}, ProfileNames(dir))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Apply(engine.StepSnap, true))
	cfg.Steps[engine.StepUpgrade] = ToggleState{Enabled: true, Locked: true}

	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	require.NoError(t, clone.Apply(engine.StepSnap, true))
	clone.ProtectedPackages = append(clone.ProtectedPackages, "docker-ce")

	assert.False(t, cfg.Enabled(engine.StepSnap))
	assert.Empty(t, cfg.ProtectedPackages)
}
