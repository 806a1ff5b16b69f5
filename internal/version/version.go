// Package version parses and orders the dotted version identifiers used to
// tag task bundle releases. Versions carry two or three numeric segments
// (major.minor or major.minor.patch) and order purely numerically; a version
// without a patch segment sorts strictly before the same major.minor with
// any explicit patch, so 0.3 < 0.3.1.
package version

import (
	"fmt"
	"regexp"
	"strconv"
)

var versionRE = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+))?$`)

// Version is an ordered tuple of non-negative integers.
type Version struct {
	Major int
	Minor int
	Patch int
	// HasPatch records whether the patch segment was present in the input.
	// 0.3 and 0.3.0 are distinct versions, and 0.3 < 0.3.0.
	HasPatch bool
}

// ParseError reports a version string that does not match MAJOR.MINOR[.PATCH].
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version %q: must match MAJOR.MINOR[.PATCH]", e.Input)
}

// Parse parses text into a Version. Anything that does not match
// MAJOR.MINOR[.PATCH] fails with a *ParseError.
func Parse(text string) (Version, error) {
	m := versionRE.FindStringSubmatch(text)
	if m == nil {
		return Version{}, &ParseError{Input: text}
	}

	// The regexp guarantees digits only; overflow is the one remaining
	// failure mode for Atoi here.
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, &ParseError{Input: text}
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Version{}, &ParseError{Input: text}
	}

	v := Version{Major: major, Minor: minor}
	if m[3] != "" {
		patch, err := strconv.Atoi(m[3])
		if err != nil {
			return Version{}, &ParseError{Input: text}
		}
		v.Patch = patch
		v.HasPatch = true
	}
	return v, nil
}

// MustParse parses text and panics on failure. Intended for tests and
// compile-time constants only.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0 or 1 depending on whether a orders before, equal to
// or after b. The order is total: segments compare numerically, and a
// missing patch segment sorts before any explicit patch on the same
// major.minor.
func Compare(a, b Version) int {
	if c := compareInt(a.Major, b.Major); c != 0 {
		return c
	}
	if c := compareInt(a.Minor, b.Minor); c != 0 {
		return c
	}
	switch {
	case a.HasPatch && b.HasPatch:
		return compareInt(a.Patch, b.Patch)
	case a.HasPatch:
		return 1
	case b.HasPatch:
		return -1
	default:
		return 0
	}
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether v orders strictly before other.
func (v Version) Less(other Version) bool {
	return Compare(v, other) < 0
}

// Equal reports whether v and other are the same version, including patch
// segment presence.
func (v Version) Equal(other Version) bool {
	return Compare(v, other) == 0
}

// String renders the version in its canonical dotted form.
func (v Version) String() string {
	if v.HasPatch {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
