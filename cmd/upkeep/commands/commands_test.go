package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/engine"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--theme", "none"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig saves a default config whose paths all live under a temp dir.
func writeConfig(t *testing.T, mutate func(*config.Configuration)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		LockFile:   filepath.Join(dir, "upkeep.lock"),
		LogDir:     filepath.Join(dir, "log"),
		BackupDir:  t.TempDir(),
		HistoryDB:  filepath.Join(dir, "lib", "history.db"),
		PolicyDir:  filepath.Join(dir, "policies"),
		ProfileDir: filepath.Join(dir, "profiles"),
	}
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(cfg, path))
	return path
}

func TestPlanDOT(t *testing.T) {
	out, err := execute(t, "plan", "--dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph Steps {")
	assert.Contains(t, out, `"repo_refresh" -> "upgrade";`)
}

func TestValidate(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		path := writeConfig(t, nil)
		out, err := execute(t, "validate", "-c", path)
		require.NoError(t, err)
		assert.Contains(t, out, path+" is valid")
	})

	t.Run("json", func(t *testing.T) {
		path := writeConfig(t, nil)
		out, err := execute(t, "validate", "-c", path, "--json")
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "default", got["profile"])
	})

	t.Run("upgrade without repo refresh", func(t *testing.T) {
		path := writeConfig(t, func(c *config.Configuration) {
			c.Steps[engine.StepRepoRefresh] = config.ToggleState{Enabled: false}
		})
		_, err := execute(t, "validate", "-c", path)
		require.Error(t, err)
		assert.True(t, engine.IsValidation(err))
		assert.Equal(t, 2, engine.ExitCodeOf(err))
		assert.Contains(t, err.Error(), "upgrade requires repo_refresh")
	})
}

func TestConfigureScripted(t *testing.T) {
	path := writeConfig(t, nil)

	_, err := execute(t, "configure", "-c", path,
		"--enable", "flatpak", "--disable", "autoclean", "--notify", "desktop=true")
	require.NoError(t, err)

	cfg, err := config.Load(config.LoadOptions{Path: path})
	require.NoError(t, err)
	assert.True(t, cfg.Enabled(engine.StepFlatpak))
	assert.False(t, cfg.Enabled(engine.StepAutoclean))
	assert.True(t, cfg.NotifierEnabled("desktop"))
}

func TestConfigureRefusesBrokenDependency(t *testing.T) {
	path := writeConfig(t, nil)

	_, err := execute(t, "configure", "-c", path, "--disable", "repo_refresh")
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))

	cfg, err := config.Load(config.LoadOptions{Path: path})
	require.NoError(t, err)
	assert.True(t, cfg.Enabled(engine.StepRepoRefresh), "config file must stay unchanged")
}

func TestConfigureBadNotifyValue(t *testing.T) {
	path := writeConfig(t, nil)
	_, err := execute(t, "configure", "-c", path, "--notify", "desktop=maybe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want true or false")
}

func TestHistory(t *testing.T) {
	path := writeConfig(t, nil)

	out, err := execute(t, "history", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded yet")

	_, err = execute(t, "history", "show", "does-not-exist", "-c", path)
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
}

func TestBackupsListEmpty(t *testing.T) {
	path := writeConfig(t, nil)
	out, err := execute(t, "backups", "list", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No backups in")
}

func TestReportedError(t *testing.T) {
	inner := engine.NewRiskAbortError("3 packages would be removed")
	err := error(&reportedError{err: inner})
	assert.True(t, Reported(err))
	assert.Equal(t, 5, engine.ExitCodeOf(err))
	assert.False(t, Reported(inner))
}

func TestSchema(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "config\nprofile\n")

	out, err = execute(t, "schema", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "#Config:")
	assert.Contains(t, out, "kernels_keep?:")
	assert.Contains(t, out, "int & >=1 & <=10")

	_, err = execute(t, "schema", "nope")
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
	assert.Contains(t, err.Error(), "config, profile")
}

func TestRunPlainFlag(t *testing.T) {
	run := newRunCommand("test")
	f := run.Flags().Lookup("plain")
	require.NotNil(t, f)
	assert.Equal(t, "false", f.DefValue)
}
