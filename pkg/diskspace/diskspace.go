// Package diskspace measures free space before and after a maintenance run.
package diskspace

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// Default mount points.
const (
	RootMount = "/"
	BootMount = "/boot"
)

// Usage is the space accounting of one filesystem.
type Usage struct {
	Mount     string `json:"mount"`
	Total     uint64 `json:"total"`
	Available uint64 `json:"available"`
	Used      uint64 `json:"used"`
}

// String formats usage as "/: 12 GiB free, 30 GiB used".
func (u Usage) String() string {
	return fmt.Sprintf("%s: %s free, %s used", u.Mount, humanize.IBytes(u.Available), humanize.IBytes(u.Used))
}

// Snapshot is a point-in-time measurement of the monitored filesystems.
// Boot is nil when /boot is not a separate filesystem.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`
	Root    Usage     `json:"root"`
	Boot    *Usage    `json:"boot,omitempty"`
}

// Usages returns root followed by boot, when present.
func (s *Snapshot) Usages() []Usage {
	out := []Usage{s.Root}
	if s.Boot != nil {
		out = append(out, *s.Boot)
	}
	return out
}

// Warning is a non-fatal preflight finding.
type Warning struct {
	Mount   string
	Message string
}

func (w Warning) String() string {
	return w.Mount + ": " + w.Message
}

// Filesystem abstracts statfs so tests can supply fixed numbers.
type Filesystem interface {
	Statfs(path string) (Usage, error)
	Device(path string) (uint64, error)
}

// OSFilesystem reads the real filesystems.
type OSFilesystem struct{}

// Statfs returns usage for the filesystem containing path.
func (OSFilesystem) Statfs(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return Usage{
		Mount:     path,
		Total:     st.Blocks * bsize,
		Available: st.Bavail * bsize,
		Used:      (st.Blocks - st.Bfree) * bsize,
	}, nil
}

// Device returns the device number of path.
func (OSFilesystem) Device(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}

// Monitor checks the root and boot filesystems.
type Monitor struct {
	fs   Filesystem
	root string
	boot string
	now  func() time.Time
}

// NewMonitor returns a Monitor for / and /boot.
func NewMonitor(fs Filesystem) *Monitor {
	if fs == nil {
		fs = OSFilesystem{}
	}
	return &Monitor{fs: fs, root: RootMount, boot: BootMount, now: time.Now}
}

// WithMounts overrides the monitored paths.
func (m *Monitor) WithMounts(root, boot string) *Monitor {
	m.root, m.boot = root, boot
	return m
}

// Measure takes a snapshot.
func (m *Monitor) Measure() (*Snapshot, error) {
	root, err := m.fs.Statfs(m.root)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{TakenAt: m.now().UTC(), Root: root}

	separate, err := m.bootIsSeparate()
	if err != nil {
		return nil, err
	}
	if separate {
		boot, err := m.fs.Statfs(m.boot)
		if err != nil {
			return nil, err
		}
		snap.Boot = &boot
	}
	return snap, nil
}

func (m *Monitor) bootIsSeparate() (bool, error) {
	if m.boot == "" {
		return false, nil
	}
	bootDev, err := m.fs.Device(m.boot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", m.boot, err)
	}
	rootDev, err := m.fs.Device(m.root)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", m.root, err)
	}
	return bootDev != rootDev, nil
}

// CheckPreflight measures both filesystems. Root below minRootGB is fatal
// with a DiskSpaceError; boot below minBootMB is only a warning.
func (m *Monitor) CheckPreflight(minRootGB, minBootMB int) (*Snapshot, []Warning, error) {
	snap, err := m.Measure()
	if err != nil {
		return nil, nil, engine.NewInternalError("failed to measure disk space", err)
	}

	rootMin := uint64(minRootGB) * humanize.GiByte
	if snap.Root.Available < rootMin {
		return snap, nil, engine.NewDiskSpaceError(
			fmt.Sprintf("only %s free on %s, need at least %s",
				humanize.IBytes(snap.Root.Available), snap.Root.Mount, humanize.IBytes(rootMin)), nil).
			WithDetail("available", snap.Root.Available).
			WithDetail("required", rootMin)
	}

	var warnings []Warning
	if snap.Boot != nil {
		bootMin := uint64(minBootMB) * humanize.MiByte
		if snap.Boot.Available < bootMin {
			warnings = append(warnings, Warning{
				Mount: snap.Boot.Mount,
				Message: fmt.Sprintf("only %s free, below %s; kernel installs may fail",
					humanize.IBytes(snap.Boot.Available), humanize.IBytes(bootMin)),
			})
		}
	}
	return snap, warnings, nil
}

// Delta is the change between two snapshots. Positive values mean space
// was released.
type Delta struct {
	RootFreed int64
	BootFreed int64
}

// Diff compares the used bytes of two snapshots.
func Diff(before, after *Snapshot) Delta {
	if before == nil || after == nil {
		return Delta{}
	}
	d := Delta{RootFreed: int64(before.Root.Used) - int64(after.Root.Used)}
	if before.Boot != nil && after.Boot != nil {
		d.BootFreed = int64(before.Boot.Used) - int64(after.Boot.Used)
	}
	return d
}

// Total returns the combined change.
func (d Delta) Total() int64 {
	return d.RootFreed + d.BootFreed
}

// FormatDelta renders a signed byte count such as "1.2 GiB freed" or
// "300 MiB used".
func FormatDelta(n int64) string {
	switch {
	case n > 0:
		return humanize.IBytes(uint64(n)) + " freed"
	case n < 0:
		return humanize.IBytes(uint64(-n)) + " used"
	default:
		return "no change"
	}
}
