// Package executor runs the external maintenance tools (apt-get, dpkg,
// snapshot tools, flatpak, snap, fwupdmgr, journalctl) and captures their
// exit status and output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/openfroyo/upkeep/pkg/telemetry"
)

// Command describes one external program invocation.
type Command struct {
	// Name is the program to run, resolved through PATH.
	Name string

	// Args are passed verbatim; no shell is involved.
	Args []string

	// Mutating marks commands that change package or filesystem state.
	// Dry-run runners never execute them.
	Mutating bool

	// Env holds extra KEY=VALUE pairs appended to the inherited environment.
	Env []string

	// Timeout bounds the command; zero means no limit beyond ctx.
	Timeout time.Duration
}

// Read builds a read-only command.
func Read(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// Mutate builds a state-changing command.
func Mutate(name string, args ...string) Command {
	return Command{Name: name, Args: args, Mutating: true}
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the observed outcome of a command.
type Result struct {
	Command  Command
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	// DryRun is true when the command was logged instead of executed.
	DryRun bool
}

// Failed reports whether the command exited non-zero.
func (r *Result) Failed() bool {
	return r.ExitCode != 0
}

// Err converts a non-zero exit into an error carrying the tail of stderr.
func (r *Result) Err() error {
	if !r.Failed() {
		return nil
	}
	tail := lastLines(r.Stderr, 3)
	if tail == "" {
		tail = lastLines(r.Stdout, 3)
	}
	if tail == "" {
		return fmt.Errorf("%s: exit status %d", r.Command.Name, r.ExitCode)
	}
	return fmt.Errorf("%s: exit status %d: %s", r.Command.Name, r.ExitCode, tail)
}

// Runner executes commands.
type Runner interface {
	// Run executes cmd. A non-zero exit is reported through Result.ExitCode,
	// not as an error; the error is reserved for commands that could not be
	// started at all or were cancelled.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// LookPath reports where name is installed.
	LookPath(name string) (string, error)
}

// ErrNotInstalled is returned by LookPath implementations for missing tools.
var ErrNotInstalled = errors.New("tool not installed")

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *telemetry.Logger

	// Output, when set, receives a copy of the command's stdout as it runs.
	Output io.Writer

	// KillDelay is how long a cancelled command gets between SIGTERM and
	// SIGKILL.
	KillDelay time.Duration
}

// DefaultKillDelay lets apt and dpkg finish the package they are unpacking
// after SIGTERM.
const DefaultKillDelay = 30 * time.Second

// NewExecRunner creates a runner that logs every invocation to logger.
func NewExecRunner(logger *telemetry.Logger) *ExecRunner {
	return &ExecRunner{
		logger:    logger.NewComponentLogger("executor"),
		KillDelay: DefaultKillDelay,
	}
}

// baseEnv pins the locale so tool output stays parseable and keeps apt and
// dpkg from asking questions.
var baseEnv = []string{
	"DEBIAN_FRONTEND=noninteractive",
	"LC_ALL=C",
	"LANG=C",
}

// Run executes cmd.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Env = append(append(os.Environ(), baseEnv...), cmd.Env...)
	c.Cancel = func() error {
		return c.Process.Signal(syscall.SIGTERM)
	}
	c.WaitDelay = r.KillDelay

	var stdout, stderr bytes.Buffer
	if r.Output != nil {
		c.Stdout = io.MultiWriter(&stdout, r.Output)
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = &stderr

	r.logger.WithField("mutating", cmd.Mutating).Infof("exec: %s", cmd)

	start := time.Now()
	err := c.Run()
	result := &Result{
		Command:  cmd,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%s: %w", cmd.Name, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.logger.WithField("exit_code", result.ExitCode).Warnf("exec failed: %s", cmd)
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute %s: %w", cmd.Name, err)
	}

	return result, nil
}

// LookPath resolves name through PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}
	return path, nil
}

// Installed reports whether the tool is available to runner.
func Installed(runner Runner, name string) bool {
	_, err := runner.LookPath(name)
	return err == nil
}

// packageLockMarkers are the messages apt and dpkg print when another
// package manager process holds the dpkg lock.
var packageLockMarkers = []string{
	"Could not get lock",
	"Unable to acquire the dpkg frontend lock",
	"Unable to lock the administration directory",
	"dpkg frontend lock was locked by another process",
}

// IsPackageLockContention reports whether a failed result was caused by a
// concurrent apt or dpkg process.
func IsPackageLockContention(r *Result) bool {
	if r == nil || !r.Failed() {
		return false
	}
	for _, marker := range packageLockMarkers {
		if strings.Contains(r.Stderr, marker) || strings.Contains(r.Stdout, marker) {
			return true
		}
	}
	return false
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
