package kernel

import (
	"sort"
)

// PackageRef names an installed package at a specific version.
type PackageRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String renders the reference as name=version.
func (p PackageRef) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "=" + p.Version
}

// Plan is the keep/remove split for a set of installed kernels.
type Plan struct {
	// Retain lists the kernels that survive cleanup, ascending by version.
	Retain []PackageRef `json:"retain"`

	// Remove lists the kernels to purge, ascending by version. It never
	// contains the running kernel.
	Remove []PackageRef `json:"remove"`

	// Running is the running kernel the plan was computed for.
	Running PackageRef `json:"running"`

	// Keep is the effective retention count.
	Keep int `json:"keep"`
}

// IsEmpty reports whether there is nothing to remove.
func (p Plan) IsEmpty() bool {
	return len(p.Remove) == 0
}

// Names returns the package names scheduled for removal.
func (p Plan) Names() []string {
	names := make([]string, len(p.Remove))
	for i, r := range p.Remove {
		names[i] = r.Name
	}
	return names
}

// SortAscending orders refs by Debian version, lowest first. Refs with an
// unparseable version rank below all others; ties break on package name.
func SortAscending(refs []PackageRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if c := CompareVersions(refs[i].Version, refs[j].Version); c != 0 {
			return c < 0
		}
		return refs[i].Name < refs[j].Name
	})
}

// PlanRetention selects which installed kernels to keep.
//
// The keep highest versions form the base set. When the running kernel is
// installed but outside the base set, the lowest member of the base set is
// evicted and the running kernel takes its place. When the running kernel is
// not among the installed packages it is still added to Retain, so Retain may
// hold keep+1 entries. A keep below 1 is treated as 1. A running reference with
// an empty name means the running kernel is unknown and no forced inclusion
// happens.
func PlanRetention(installed []PackageRef, running PackageRef, keep int) Plan {
	if keep < 1 {
		keep = 1
	}

	sorted := dedupe(installed)
	SortAscending(sorted)

	plan := Plan{Running: running, Keep: keep}

	if len(sorted) <= keep {
		plan.Retain = sorted
		if running.Name != "" && !contains(sorted, running.Name) {
			plan.Retain = append(plan.Retain, running)
			SortAscending(plan.Retain)
		}
		plan.Remove = []PackageRef{}
		return plan
	}

	base := append([]PackageRef(nil), sorted[len(sorted)-keep:]...)
	if running.Name != "" && !contains(base, running.Name) {
		if contains(sorted, running.Name) {
			// base is ascending, so the first entry is the lowest member.
			base = base[1:]
			for _, ref := range sorted {
				if ref.Name == running.Name {
					base = append(base, ref)
					break
				}
			}
		} else {
			base = append(base, running)
		}
		SortAscending(base)
	}

	keepSet := make(map[string]bool, len(base))
	for _, ref := range base {
		keepSet[ref.Name] = true
	}

	remove := make([]PackageRef, 0, len(sorted)-len(base))
	for _, ref := range sorted {
		if !keepSet[ref.Name] {
			remove = append(remove, ref)
		}
	}

	plan.Retain = base
	plan.Remove = remove
	return plan
}

// dedupe drops repeated package names, keeping the first occurrence.
func dedupe(refs []PackageRef) []PackageRef {
	seen := make(map[string]bool, len(refs))
	out := make([]PackageRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Name == "" || seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true
		out = append(out, ref)
	}
	return out
}

func contains(refs []PackageRef, name string) bool {
	for _, ref := range refs {
		if ref.Name == name {
			return true
		}
	}
	return false
}
