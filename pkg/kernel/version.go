package kernel

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed Debian package version: [epoch:]upstream[-revision].
type Version struct {
	Epoch    int
	Upstream string
	Revision string
}

// ParseVersion parses a Debian version string. It follows the rules dpkg
// applies: the epoch is numeric, the upstream part must start with a digit
// and may contain [A-Za-z0-9.+~-:], the revision may contain [A-Za-z0-9.+~].
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}

	var v Version
	rest := s
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		epoch, err := strconv.Atoi(rest[:i])
		if err != nil || epoch < 0 {
			return Version{}, fmt.Errorf("invalid epoch in version %q", s)
		}
		v.Epoch = epoch
		rest = rest[i+1:]
	}

	if i := strings.LastIndexByte(rest, '-'); i >= 0 {
		v.Revision = rest[i+1:]
		rest = rest[:i]
		if v.Revision == "" {
			return Version{}, fmt.Errorf("empty revision in version %q", s)
		}
	}
	v.Upstream = rest

	if v.Upstream == "" {
		return Version{}, fmt.Errorf("empty upstream version in %q", s)
	}
	if !isDigit(v.Upstream[0]) {
		return Version{}, fmt.Errorf("version %q does not start with a digit", s)
	}
	for i := 0; i < len(v.Upstream); i++ {
		c := v.Upstream[i]
		if !isAlnum(c) && !strings.ContainsRune(".+~-:", rune(c)) {
			return Version{}, fmt.Errorf("invalid character %q in version %q", c, s)
		}
	}
	for i := 0; i < len(v.Revision); i++ {
		c := v.Revision[i]
		if !isAlnum(c) && !strings.ContainsRune(".+~", rune(c)) {
			return Version{}, fmt.Errorf("invalid character %q in revision of %q", c, s)
		}
	}
	return v, nil
}

// String renders the version in canonical form.
func (v Version) String() string {
	var sb strings.Builder
	if v.Epoch > 0 {
		sb.WriteString(strconv.Itoa(v.Epoch))
		sb.WriteByte(':')
	}
	sb.WriteString(v.Upstream)
	if v.Revision != "" {
		sb.WriteByte('-')
		sb.WriteString(v.Revision)
	}
	return sb.String()
}

// Compare returns -1, 0 or 1 as v sorts before, equal to or after o.
func (v Version) Compare(o Version) int {
	if v.Epoch != o.Epoch {
		if v.Epoch < o.Epoch {
			return -1
		}
		return 1
	}
	if c := compareFragment(v.Upstream, o.Upstream); c != 0 {
		return c
	}
	return compareFragment(v.Revision, o.Revision)
}

// CompareVersions compares two version strings. Unparseable versions sort
// before every parseable one; two unparseable versions compare as equal.
func CompareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// compareFragment implements the dpkg verrevcmp algorithm: alternating
// non-digit and digit runs, where '~' sorts before everything including the
// end of the string and letters sort before other symbols.
func compareFragment(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		firstDiff := 0
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			ac, bc := charOrder(a, i), charOrder(b, j)
			if ac != bc {
				return sign(ac - bc)
			}
			i++
			j++
		}
		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}
		for i < len(a) && isDigit(a[i]) && j < len(b) && isDigit(b[j]) {
			if firstDiff == 0 {
				firstDiff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}
		if i < len(a) && isDigit(a[i]) {
			return 1
		}
		if j < len(b) && isDigit(b[j]) {
			return -1
		}
		if firstDiff != 0 {
			return sign(firstDiff)
		}
	}
	return 0
}

func charOrder(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	c := s[i]
	switch {
	case isDigit(c):
		return 0
	case isAlpha(c):
		return int(c)
	case c == '~':
		return -1
	default:
		return int(c) + 256
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }
