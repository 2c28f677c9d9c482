// Package executortest provides a scripted executor.Runner for tests.
package executortest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openfroyo/upkeep/pkg/executor"
)

type response struct {
	result executor.Result
	err    error
}

// Fake is a Runner that returns scripted results keyed by command-line
// prefix. Unscripted commands succeed with empty output. Every tool is
// installed unless marked Missing.
type Fake struct {
	mu        sync.Mutex
	responses map[string]response
	missing   map[string]bool
	calls     []executor.Command
	hook      func(executor.Command)
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		responses: make(map[string]response),
		missing:   make(map[string]bool),
	}
}

// On scripts the result for any command whose rendered line starts with prefix.
func (f *Fake) On(prefix string, result executor.Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = response{result: result}
	return f
}

// OnStdout scripts a successful command printing stdout.
func (f *Fake) OnStdout(prefix, stdout string) *Fake {
	return f.On(prefix, executor.Result{Stdout: stdout})
}

// OnExit scripts a failing command.
func (f *Fake) OnExit(prefix string, code int, stderr string) *Fake {
	return f.On(prefix, executor.Result{ExitCode: code, Stderr: stderr})
}

// OnError scripts a command that cannot be started.
func (f *Fake) OnError(prefix string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = response{err: err}
	return f
}

// Missing marks tools as not installed.
func (f *Fake) Missing(tools ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tools {
		f.missing[t] = true
	}
	return f
}

// OnRun registers a callback invoked for every command before it returns.
func (f *Fake) OnRun(hook func(executor.Command)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
	return f
}

// Run implements executor.Runner.
func (f *Fake) Run(ctx context.Context, cmd executor.Command) (*executor.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	hook := f.hook
	line := cmd.String()
	var (
		best    string
		matched response
		found   bool
	)
	for prefix, resp := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, matched, found = prefix, resp, true
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	if !found {
		return &executor.Result{Command: cmd}, nil
	}
	if matched.err != nil {
		return nil, matched.err
	}
	res := matched.result
	res.Command = cmd
	return &res, nil
}

// LookPath implements executor.Runner.
func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[name] {
		return "", fmt.Errorf("%s: %w", name, executor.ErrNotInstalled)
	}
	return "/usr/bin/" + name, nil
}

// Calls returns every command run so far.
func (f *Fake) Calls() []executor.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Command(nil), f.calls...)
}

// MutatingCalls returns the mutating commands run so far.
func (f *Fake) MutatingCalls() []executor.Command {
	var out []executor.Command
	for _, c := range f.Calls() {
		if c.Mutating {
			out = append(out, c)
		}
	}
	return out
}

// Ran reports whether any command line starting with prefix was run.
func (f *Fake) Ran(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.String(), prefix) {
			return true
		}
	}
	return false
}
