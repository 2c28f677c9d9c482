package diskspace

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/upkeep/pkg/engine"
)

type fakeFS struct {
	usage   map[string]Usage
	devices map[string]uint64
	err     error
}

func (f *fakeFS) Statfs(path string) (Usage, error) {
	if f.err != nil {
		return Usage{}, f.err
	}
	u, ok := f.usage[path]
	if !ok {
		return Usage{}, os.ErrNotExist
	}
	u.Mount = path
	return u, nil
}

func (f *fakeFS) Device(path string) (uint64, error) {
	dev, ok := f.devices[path]
	if !ok {
		return 0, os.ErrNotExist
	}
	return dev, nil
}

func newFake(rootAvail, bootAvail uint64, separateBoot bool) *fakeFS {
	f := &fakeFS{
		usage: map[string]Usage{
			"/":     {Total: 100 * humanize.GiByte, Available: rootAvail, Used: 40 * humanize.GiByte},
			"/boot": {Total: 1 * humanize.GiByte, Available: bootAvail, Used: 300 * humanize.MiByte},
		},
		devices: map[string]uint64{"/": 1, "/boot": 1},
	}
	if separateBoot {
		f.devices["/boot"] = 2
	}
	return f
}

func TestCheckPreflight(t *testing.T) {
	tests := []struct {
		name         string
		fs           *fakeFS
		wantErr      bool
		wantWarnings int
		wantBoot     bool
	}{
		{
			name:     "plenty of space",
			fs:       newFake(50*humanize.GiByte, 500*humanize.MiByte, true),
			wantBoot: true,
		},
		{
			name:    "root below threshold",
			fs:      newFake(4*humanize.GiByte, 500*humanize.MiByte, true),
			wantErr: true,
		},
		{
			name:         "boot below threshold warns",
			fs:           newFake(50*humanize.GiByte, 50*humanize.MiByte, true),
			wantWarnings: 1,
			wantBoot:     true,
		},
		{
			name: "boot on root filesystem is not checked",
			fs:   newFake(50*humanize.GiByte, 1, false),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, warnings, err := NewMonitor(tt.fs).CheckPreflight(5, 100)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, engine.IsDiskSpace(err))
				assert.Equal(t, engine.ExitDiskSpace, engine.ExitCodeOf(err))
				assert.Equal(t, engine.RemediationDiskSpace, engine.RemediationOf(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, warnings, tt.wantWarnings)
			assert.Equal(t, tt.wantBoot, snap.Boot != nil)
		})
	}
}

func TestCheckPreflightExactThreshold(t *testing.T) {
	_, _, err := NewMonitor(newFake(5*humanize.GiByte, 100*humanize.MiByte, true)).CheckPreflight(5, 100)
	assert.NoError(t, err)
}

func TestMissingBootIsIgnored(t *testing.T) {
	fs := newFake(50*humanize.GiByte, 0, false)
	delete(fs.devices, "/boot")

	snap, err := NewMonitor(fs).Measure()
	require.NoError(t, err)
	assert.Nil(t, snap.Boot)
	assert.Len(t, snap.Usages(), 1)
}

func TestMeasureError(t *testing.T) {
	fs := newFake(0, 0, false)
	fs.err = errors.New("boom")

	_, _, err := NewMonitor(fs).CheckPreflight(5, 100)
	require.Error(t, err)
	assert.False(t, engine.IsDiskSpace(err))
}

func TestDiff(t *testing.T) {
	before := &Snapshot{
		TakenAt: time.Now(),
		Root:    Usage{Used: 10 * humanize.GiByte},
		Boot:    &Usage{Used: 400 * humanize.MiByte},
	}
	after := &Snapshot{
		Root: Usage{Used: 9 * humanize.GiByte},
		Boot: &Usage{Used: 200 * humanize.MiByte},
	}

	d := Diff(before, after)
	assert.Equal(t, int64(humanize.GiByte), d.RootFreed)
	assert.Equal(t, int64(200*humanize.MiByte), d.BootFreed)
	assert.Equal(t, d.RootFreed+d.BootFreed, d.Total())

	assert.Equal(t, Delta{}, Diff(nil, after))
}

func TestFormatDelta(t *testing.T) {
	assert.Equal(t, "1.0 GiB freed", FormatDelta(humanize.GiByte))
	assert.Equal(t, "2.0 MiB used", FormatDelta(-2*humanize.MiByte))
	assert.Equal(t, "no change", FormatDelta(0))
}
