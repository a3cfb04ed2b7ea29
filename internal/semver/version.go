// Package semver implements the version model used across the resolver,
// formula cache, and lockfile: a parsed (major, minor, patch, prerelease,
// build) tuple plus the constraint operators bottles and dependency edges
// are expressed with.
//
// Ordering intentionally diverges from strict SemVer 2.0.0 precedence in
// one place: prerelease identifiers are compared as raw strings rather than
// split into dot-separated, numeric-aware components. Homebrew formula
// versions rarely carry prerelease suffixes and when they do ("1.2.3-rc1"
// vs "1.2.3-rc2") raw lexicographic comparison already gives the expected
// answer without pulling in the full SemVer precedence algorithm.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// versionPattern is the subset of version strings Parse accepts. A leading "v" is optional and stripped before parsing.
var versionPattern = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:-([^+]+))?(?:\+(.+))?$`)

// Version is a parsed semantic version. A Version for which Unparsable is
// true carries no meaningful Major/Minor/Patch and exists only so callers
// can report the original string without a separate error type.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
	Build      string
	Unparsable bool
	raw        string
}

// Parse is total over its domain: any input either matches the grammar
// and produces a populated Version, or fails and produces a Version with
// Unparsable set to true and the original string preserved via String().
func Parse(s string) Version {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{Unparsable: true, raw: s}
	}

	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])

	return Version{
		Major:      major,
		Minor:      minor,
		Patch:      patch,
		Prerelease: m[4],
		Build:      m[5],
		raw:        s,
	}
}

// String reconstructs a normalised representation for parsed versions, or
// returns the original input for unparsable ones.
func (v Version) String() string {
	if v.Unparsable {
		return v.raw
	}
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other. Two unparsable versions compare by raw string; an unparsable
// version is considered greater than any parsable one so it sorts to the
// end rather than silently colliding with 0.0.0.
func (v Version) Compare(other Version) int {
	if v.Unparsable || other.Unparsable {
		switch {
		case v.Unparsable && other.Unparsable:
			return strings.Compare(v.raw, other.raw)
		case v.Unparsable:
			return 1
		default:
			return -1
		}
	}

	if c := compareInt(v.Major, other.Major); c != 0 {
		return c
	}
	if c := compareInt(v.Minor, other.Minor); c != 0 {
		return c
	}
	if c := compareInt(v.Patch, other.Patch); c != 0 {
		return c
	}

	// Equal (major, minor, patch): a release outranks a prerelease.
	switch {
	case v.Prerelease == "" && other.Prerelease == "":
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	default:
		return strings.Compare(v.Prerelease, other.Prerelease)
	}
}

func (v Version) LessThan(other Version) bool    { return v.Compare(other) < 0 }
func (v Version) GreaterThan(other Version) bool  { return v.Compare(other) > 0 }
func (v Version) Equal(other Version) bool        { return v.Compare(other) == 0 }

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
