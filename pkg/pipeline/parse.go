package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	aptSummaryRe = regexp.MustCompile(`(?m)^(\d+) upgraded, (\d+) newly installed, (\d+) to remove`)
	aptFreedRe   = regexp.MustCompile(`After this operation, ([0-9.,]+ ?[kKMGT]?B) disk space will be freed`)

	// journalctl prints sizes with IEC single letter suffixes, e.g. 24.0M.
	journalFreedRe = regexp.MustCompile(`freed ([0-9.]+)([KMGTPE]?)B?\b`)
)

// parseAptRemoval extracts the removed package count and the space apt
// reports as freed. apt sizes are decimal.
func parseAptRemoval(out string) (removed int, freed int64) {
	if m := aptSummaryRe.FindStringSubmatch(out); m != nil {
		removed, _ = strconv.Atoi(m[3])
	}
	if m := aptFreedRe.FindStringSubmatch(out); m != nil {
		if n, err := humanize.ParseBytes(strings.ReplaceAll(m[1], ",", "")); err == nil {
			freed = int64(n)
		}
	}
	return removed, freed
}

// parseResidual returns the packages dpkg lists in the "rc" state: removed
// with configuration files left behind.
func parseResidual(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "rc" {
			names = append(names, fields[1])
		}
	}
	return names
}

// parseJournalFreed sums the "freed" figures of a journalctl vacuum. found
// is false when the output has none.
func parseJournalFreed(out string) (freed int64, found bool) {
	for _, m := range journalFreedRe.FindAllStringSubmatch(out, -1) {
		size := m[1]
		if m[2] != "" {
			size += " " + m[2] + "iB"
		}
		n, err := humanize.ParseBytes(size)
		if err != nil {
			continue
		}
		found = true
		freed += int64(n)
	}
	return freed, found
}
