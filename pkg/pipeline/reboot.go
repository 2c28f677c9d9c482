package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// rebootPackagePrefixes name packages whose upgrade takes effect only after
// a reboot.
var rebootPackagePrefixes = []string{
	"linux-image-",
	"linux-generic",
	"linux-firmware",
	"libc6",
	"systemd",
	"dbus",
	"libssl",
}

// rebootReasons collects why the system needs a reboot. The marker file is
// honoured whatever created it; the package heuristic only looks at this
// run's upgrades.
func (p *Pipeline) rebootReasons(rc *RunContext) ([]string, error) {
	var reasons []string

	_, err := os.Stat(p.deps.RebootFile)
	switch {
	case err == nil:
		reason := p.deps.RebootFile + " is present"
		if pkgs := readLines(p.deps.RebootFile + ".pkgs"); len(pkgs) > 0 {
			reason += " (" + strings.Join(pkgs, ", ") + ")"
		}
		reasons = append(reasons, reason)
	case errors.Is(err, fs.ErrNotExist):
		err = nil
	}

	if !rc.DryRun {
		var upgraded []string
		for _, ref := range rc.Upgraded {
			if needsReboot(ref.Name) {
				upgraded = append(upgraded, ref.Name)
			}
		}
		if len(upgraded) > 0 {
			sort.Strings(upgraded)
			reasons = append(reasons, "upgraded "+strings.Join(upgraded, ", "))
		}
	}
	return reasons, err
}

func needsReboot(name string) bool {
	for _, prefix := range rebootPackagePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// readLines returns the unique non-empty lines of path, or nil.
func readLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}
