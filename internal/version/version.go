// Package version compares platform version strings and decides whether
// a declared version would downgrade the host.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a dot-separated sequence of numeric components, e.g.
// "0.6.12". No pre-release or build suffixes: the platform repository
// tags are plain numbers.
type Version []int

// Parse parses a version string. Any non-numeric component is an error.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}
	parts := strings.Split(s, ".")
	v := make(Version, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version %q", s)
		}
		v = append(v, n)
	}
	return v, nil
}

// Compare orders two versions component by component. A missing
// component compares as zero, so "1.2" equals "1.2.0".
func Compare(a, b Version) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
