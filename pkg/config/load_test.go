package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/upkeep/pkg/engine"
)

func TestLoadNullSectionsKeepDefaults(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		profile string
	}{
		{name: "null steps and notifiers", doc: "steps:\nnotifiers:\n"},
		{name: "null steps", doc: "steps:\n"},
		{name: "explicit null notifiers", doc: "notifiers: null\n"},
		{name: "null steps with profile", doc: "steps:\n", profile: ProfileFull},
		{name: "null notifiers with profile", doc: "notifiers: ~\n", profile: ProfileMinimal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(LoadOptions{Path: writeConfig(t, tt.doc), Profile: tt.profile})
			require.NoError(t, err)
			require.NotNil(t, cfg.Steps)
			require.NotNil(t, cfg.Notifiers)
			assert.Len(t, cfg.Steps, len(Catalog()))
			assert.Len(t, cfg.Notifiers, len(Notifiers))

			require.NoError(t, cfg.Apply(engine.StepBackup, true))
			require.NoError(t, cfg.ApplyNotifier("desktop", true))
			assert.True(t, cfg.Enabled(engine.StepBackup))
			assert.True(t, cfg.NotifierEnabled("desktop"))
		})
	}
}

func TestLoadNullStepsUsesCatalogDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Path: writeConfig(t, "steps:\n")})
	require.NoError(t, err)
	assert.Equal(t, Default().Steps, cfg.Steps)
}

func TestApplyOnZeroConfiguration(t *testing.T) {
	var cfg Configuration
	require.NoError(t, cfg.Apply(engine.StepFlatpak, true))
	require.NoError(t, cfg.ApplyNotifier("webhook", true))
	assert.Len(t, cfg.SelectAll(false), 1)
	cfg.ApplyProfile(Profile{Name: "custom", Steps: map[engine.StepID]bool{engine.StepSnap: true}})
	assert.True(t, cfg.Enabled(engine.StepSnap))
}

func TestLoadKernelsKeepBounds(t *testing.T) {
	tests := []struct {
		keep    string
		wantErr bool
	}{
		{keep: "0", wantErr: true},
		{keep: "1"},
		{keep: "10"},
		{keep: "11", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("kernels_keep="+tt.keep, func(t *testing.T) {
			cfg, err := Load(LoadOptions{Path: writeConfig(t, "thresholds:\n  kernels_keep: "+tt.keep+"\n")})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, engine.IsValidation(err), "%v", err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, Validate(cfg))
		})
	}
}
