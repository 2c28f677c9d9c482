package kernel

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/openfroyo/upkeep/pkg/executor"
)

// Package name prefixes of installed kernel images, most specific first.
var imagePrefixes = []string{"linux-image-unsigned-", "linux-image-"}

// companionPrefixes are the per-release packages removed together with an image.
var companionPrefixes = []string{
	"linux-headers-",
	"linux-modules-extra-",
	"linux-modules-",
}

// queryFormat makes dpkg-query print name, version and abbreviated status.
const queryFormat = "${Package}\t${Version}\t${db:Status-Abbrev}\n"

// ParseInstalled parses dpkg-query output produced with queryFormat and
// returns the packages whose status is installed. Lines that do not have
// three tab-separated fields are ignored.
func ParseInstalled(output string) []PackageRef {
	var refs []PackageRef
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 3 {
			continue
		}
		status := fields[2]
		// Second letter of the abbreviation is the current state; 'i' means
		// unpacked and configured.
		if len(status) < 2 || status[1] != 'i' {
			continue
		}
		refs = append(refs, PackageRef{
			Name:    strings.TrimSpace(fields[0]),
			Version: strings.TrimSpace(fields[1]),
		})
	}
	return refs
}

// ReleaseOf returns the kernel release encoded in an image package name,
// e.g. "6.8.0-45-generic" for linux-image-6.8.0-45-generic. Meta packages
// such as linux-image-generic yield an empty string.
func ReleaseOf(name string) string {
	for _, prefix := range imagePrefixes {
		if strings.HasPrefix(name, prefix) {
			rel := strings.TrimPrefix(name, prefix)
			if rel == "" || !isDigit(rel[0]) {
				return ""
			}
			return rel
		}
	}
	return ""
}

// IsImage reports whether name is a versioned kernel image package.
func IsImage(name string) bool {
	return ReleaseOf(name) != ""
}

// RunningRelease returns the release of the booted kernel (uname -r).
func RunningRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// RunningRef maps a kernel release to the installed image package. When no
// installed package matches, a reference named linux-image-<release> without
// a version is returned so the planner still protects it.
func RunningRef(installed []PackageRef, release string) PackageRef {
	if release == "" {
		return PackageRef{}
	}
	for _, prefix := range imagePrefixes {
		name := prefix + release
		for _, ref := range installed {
			if ref.Name == name {
				return ref
			}
		}
	}
	return PackageRef{Name: "linux-image-" + release}
}

// baseRelease strips the flavour suffix: 6.8.0-45-generic -> 6.8.0-45.
func baseRelease(release string) string {
	i := strings.LastIndexByte(release, '-')
	if i < 0 {
		return release
	}
	flavour := release[i+1:]
	if flavour == "" || isDigit(flavour[0]) {
		return release
	}
	return release[:i]
}

// Companions returns the installed headers and modules packages that belong
// to the same release as image.
func Companions(image PackageRef, installed []PackageRef) []PackageRef {
	release := ReleaseOf(image.Name)
	if release == "" {
		return nil
	}
	candidates := map[string]bool{}
	for _, prefix := range companionPrefixes {
		candidates[prefix+release] = true
	}
	// Flavour-independent headers (linux-headers-6.8.0-45) are shared by all
	// flavours of the same release; only remove them with the image.
	candidates["linux-headers-"+baseRelease(release)] = true

	var out []PackageRef
	for _, ref := range installed {
		if ref.Name != image.Name && candidates[ref.Name] {
			out = append(out, ref)
		}
	}
	return out
}

// Expand returns the full purge list for a plan: every image to remove
// followed by its installed companions, without duplicates. Packages that
// belong to a retained release are never included.
func Expand(plan Plan, installed []PackageRef) []string {
	retained := make(map[string]bool)
	for _, ref := range plan.Retain {
		retained[ref.Name] = true
		for _, c := range Companions(ref, installed) {
			retained[c.Name] = true
		}
	}

	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if seen[name] || retained[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, ref := range plan.Remove {
		add(ref.Name)
		for _, c := range Companions(ref, installed) {
			add(c.Name)
		}
	}
	return names
}

// Inventory reads kernel package state from dpkg.
type Inventory struct {
	runner  executor.Runner
	release func() (string, error)
}

// NewInventory creates an inventory backed by runner.
func NewInventory(runner executor.Runner) *Inventory {
	return &Inventory{runner: runner, release: RunningRelease}
}

// WithRelease overrides how the running release is discovered.
func (inv *Inventory) WithRelease(fn func() (string, error)) *Inventory {
	inv.release = fn
	return inv
}

// Snapshot lists installed kernel packages and identifies the running image.
// images holds only versioned image packages; all additionally holds headers
// and modules packages.
func (inv *Inventory) Snapshot(ctx context.Context) (images, all []PackageRef, running PackageRef, err error) {
	res, err := inv.runner.Run(ctx, executor.Read("dpkg-query", "-W", "-f="+queryFormat,
		"linux-image-*", "linux-headers-*", "linux-modules-*"))
	if err != nil {
		return nil, nil, PackageRef{}, fmt.Errorf("list kernel packages: %w", err)
	}
	// dpkg-query exits 1 when one of the patterns matched nothing; the
	// output for the other patterns is still valid.
	if res.ExitCode > 1 {
		return nil, nil, PackageRef{}, fmt.Errorf("list kernel packages: %w", res.Err())
	}

	all = ParseInstalled(res.Stdout)
	for _, ref := range all {
		if IsImage(ref.Name) {
			images = append(images, ref)
		}
	}

	release, err := inv.release()
	if err != nil {
		return nil, nil, PackageRef{}, err
	}
	return images, all, RunningRef(images, release), nil
}

// Plan computes the retention plan for the current system.
func (inv *Inventory) Plan(ctx context.Context, keep int) (Plan, []string, error) {
	images, all, running, err := inv.Snapshot(ctx)
	if err != nil {
		return Plan{}, nil, err
	}
	plan := PlanRetention(images, running, keep)
	return plan, Expand(plan, all), nil
}
