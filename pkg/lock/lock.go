// Package lock guarantees that at most one maintenance run is active on a host.
//
// The lock is a file taken with flock(LOCK_EX|LOCK_NB). The holder writes its
// PID and acquisition time into the file so a competing run can report who
// holds it. Locks left behind by dead processes are reclaimed.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// DefaultPath is the lock file used when none is configured.
const DefaultPath = "/run/upkeep.lock"

// maxAttempts bounds the reclaim/retry loop when lock files are replaced
// underneath us.
const maxAttempts = 5

var flockFn = unix.Flock

// Record is the content of a lock file.
type Record struct {
	PID        int
	AcquiredAt time.Time
}

// Manager acquires the run lock at a fixed path.
type Manager struct {
	path     string
	pid      int
	now      func() time.Time
	pidAlive func(pid int) bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithPID overrides the PID written into the lock file.
func WithPID(pid int) Option {
	return func(m *Manager) { m.pid = pid }
}

// WithClock overrides the acquisition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLiveness overrides the process liveness check.
func WithLiveness(alive func(pid int) bool) Option {
	return func(m *Manager) { m.pidAlive = alive }
}

// NewManager returns a Manager for the lock file at path.
func NewManager(path string, opts ...Option) *Manager {
	if path == "" {
		path = DefaultPath
	}
	m := &Manager{
		path:     path,
		pid:      os.Getpid(),
		now:      time.Now,
		pidAlive: ProcessAlive,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the lock file path.
func (m *Manager) Path() string {
	return m.path
}

// Token is a held lock. Release it exactly once; further calls are no-ops.
type Token struct {
	Record

	// Reclaimed is the PID of a dead previous holder whose lock was taken
	// over, or 0.
	Reclaimed int

	path string
	file *os.File
	once sync.Once
	err  error
}

// Acquire takes the lock without waiting. If a live process holds it the
// error is a ConcurrencyError carrying the holder PID.
func (m *Manager) Acquire() (*Token, error) {
	reclaimed := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		file, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, engine.NewInternalError("failed to open lock file", err).
				WithDetail("path", m.path)
		}

		if err := flockFn(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = file.Close()
			if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
				return nil, engine.NewInternalError("failed to lock "+m.path, err)
			}

			holder, _ := ReadRecord(m.path)
			if holder.PID > 0 && !m.pidAlive(holder.PID) {
				// The lock is held through a descriptor inherited from a
				// dead process. Unlink the file so a new inode is locked.
				if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
					return nil, engine.NewInternalError("failed to remove stale lock", err)
				}
				reclaimed = holder.PID
				continue
			}
			return nil, engine.NewConcurrencyError(holder.PID, nil).
				WithDetail("path", m.path)
		}

		same, err := sameFile(file, m.path)
		if err != nil || !same {
			// The file was unlinked or replaced between open and flock.
			_ = flockFn(int(file.Fd()), unix.LOCK_UN)
			_ = file.Close()
			continue
		}

		if previous, err := readRecord(file); err == nil && previous.PID > 0 && previous.PID != m.pid {
			reclaimed = previous.PID
		}

		record := Record{PID: m.pid, AcquiredAt: m.now().UTC()}
		if err := writeRecord(file, record); err != nil {
			_ = flockFn(int(file.Fd()), unix.LOCK_UN)
			_ = file.Close()
			return nil, engine.NewInternalError("failed to write lock file", err)
		}

		return &Token{Record: record, Reclaimed: reclaimed, path: m.path, file: file}, nil
	}

	return nil, engine.NewInternalError(
		fmt.Sprintf("lock file %s kept changing while acquiring", m.path), nil)
}

// Holder returns the record of the current lock holder. ok is false when
// the lock is free, including when the file only holds a stale record.
func (m *Manager) Holder() (Record, bool, error) {
	file, err := os.Open(m.path)
	if os.IsNotExist(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	defer file.Close()

	if err := flockFn(int(file.Fd()), unix.LOCK_SH|unix.LOCK_NB); err == nil {
		_ = flockFn(int(file.Fd()), unix.LOCK_UN)
		return Record{}, false, nil
	}

	record, err := readRecord(file)
	if err != nil {
		return Record{}, true, err
	}
	return record, record.PID == 0 || m.pidAlive(record.PID), nil
}

// Release removes the lock file and unlocks. It is safe to call more than
// once and from deferred cleanup.
func (t *Token) Release() error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		if same, _ := sameFile(t.file, t.path); same {
			if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
				t.err = fmt.Errorf("remove lock file: %w", err)
			}
		}
		if err := flockFn(int(t.file.Fd()), unix.LOCK_UN); err != nil && t.err == nil {
			t.err = fmt.Errorf("unlock: %w", err)
		}
		if err := t.file.Close(); err != nil && t.err == nil {
			t.err = fmt.Errorf("close lock file: %w", err)
		}
	})
	return t.err
}

// Path returns the lock file path.
func (t *Token) Path() string {
	return t.path
}

// ProcessAlive reports whether pid names a running process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// ReadRecord reads the lock file at path.
func ReadRecord(path string) (Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer file.Close()
	return readRecord(file)
}

// sameFile reports whether the open file is still the file at path.
func sameFile(file *os.File, path string) (bool, error) {
	var open, named unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &open); err != nil {
		return false, err
	}
	if err := unix.Stat(path, &named); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, err
	}
	return open.Dev == named.Dev && open.Ino == named.Ino, nil
}

func writeRecord(file *os.File, record Record) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nacquired_at=%s\n", record.PID, record.AcquiredAt.Format(time.RFC3339))
	if _, err := file.WriteAt([]byte(content), 0); err != nil {
		return err
	}
	return file.Sync()
}

// readRecord parses "key=value" lines. A bare integer is accepted as the
// PID for lock files written by older tooling.
func readRecord(file *os.File) (Record, error) {
	if _, err := file.Seek(0, 0); err != nil {
		return Record{}, err
	}

	var record Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			key, value = "pid", line
		}
		switch key {
		case "pid":
			pid, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return Record{}, fmt.Errorf("invalid pid in lock file: %q", value)
			}
			record.PID = pid
		case "acquired_at":
			t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
			if err == nil {
				record.AcquiredAt = t
			}
		}
	}
	return record, scanner.Err()
}
