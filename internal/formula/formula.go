// Package formula defines the immutable data model produced by the
// Ruby-syntax formula parser — an external collaborator treated as a pure
// function `source → Formula` (§1, §3). Nothing in this package parses
// formula source; it only describes the shape that parser must produce and
// the small amount of derived logic (preferred bottle selection, package
// spec parsing) that every other subsystem builds on.
package formula

import (
	"strings"

	"github.com/dimaosipa/velo/internal/semver"
)

// DependencyType classifies an edge in the formula's dependency list.
// Only DependencyRequired edges are followed during graph discovery
// (§4.4 Phase 1); optional/build/test edges are recorded but not walked.
type DependencyType string

const (
	DependencyRequired DependencyType = "required"
	DependencyOptional DependencyType = "optional"
	DependencyBuild     DependencyType = "build"
	DependencyTest      DependencyType = "test"
)

// Dependency is one edge out of a Formula toward another package.
type Dependency struct {
	Name               string
	Type               DependencyType
	VersionConstraints []semver.Constraint
}

// Bottle is a prebuilt binary archive for one platform tag.
type Bottle struct {
	PlatformTag     string
	SHA256          string
	RootURLTemplate string
}

// Formula is the immutable, fully-parsed description of one package at one
// version. Every field is populated by the external parser; nothing in
// this codebase mutates a Formula after construction.
type Formula struct {
	Name          string
	Version       string
	Description   string
	Dependencies  []Dependency
	Bottles       []Bottle
	SourceSHA256  string
}

// preferredBottleOrder lists platform tags from most to least specific for
// the single target triple this core supports (macOS, Apple Silicon). A
// bottle tagged for the exact arch+OS combination wins; a universal
// "all" bottle is the fallback; if neither is present there is no usable
// bottle.
var preferredBottleOrder = []string{
	"arm64_sonoma",
	"arm64_ventura",
	"arm64_monterey",
	"all",
}

// PreferredBottle returns the Bottle that should be used to install this
// Formula on the runtime platform, following the documented fallback order
// (exact arch+OS → universal OS → none).
func (f *Formula) PreferredBottle() (Bottle, bool) {
	if f == nil {
		return Bottle{}, false
	}
	byTag := make(map[string]Bottle, len(f.Bottles))
	for _, b := range f.Bottles {
		byTag[b.PlatformTag] = b
	}
	for _, tag := range preferredBottleOrder {
		if b, ok := byTag[tag]; ok {
			return b, true
		}
	}
	return Bottle{}, false
}

// RequiredDependencies returns only the edges the resolver follows during
// graph discovery.
func (f *Formula) RequiredDependencies() []Dependency {
	var out []Dependency
	for _, d := range f.Dependencies {
		if d.Type == DependencyRequired {
			out = append(out, d)
		}
	}
	return out
}

// PackageSpec is the parsed form of a "name@version" command-line or
// dependency-edge token.
type PackageSpec struct {
	Name    string
	Version string
}

// ParsePackageSpec splits "name@version" into its components. "@" alone is
// an explicit edge case preserved by the spec: it yields an empty name and
// an empty version rather than an error, since callers disambiguate an
// all-empty PackageSpec from a usable one themselves.
func ParsePackageSpec(s string) PackageSpec {
	if s == "@" {
		return PackageSpec{}
	}
	if idx := strings.Index(s, "@"); idx >= 0 {
		return PackageSpec{Name: s[:idx], Version: s[idx+1:]}
	}
	return PackageSpec{Name: s}
}

// String reconstructs the "name@version" form, or bare "name" when no
// version was specified.
func (p PackageSpec) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "@" + p.Version
}

// HasVersion reports whether a version component was present.
func (p PackageSpec) HasVersion() bool {
	return p.Version != ""
}
