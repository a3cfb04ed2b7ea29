package layout

import "regexp"

// versionSensitiveBases lists the package bases whose name commonly embeds
// a version number in multiple equivalent spellings (§4.1): "python@3.12",
// "python3.12", and "python312" all name the same package.
var versionSensitiveBases = map[string]bool{
	"python": true, "node": true, "ruby": true, "java": true, "php": true,
	"perl": true, "go": true, "rust": true, "mysql": true, "postgres": true,
	"postgresql": true, "redis": true, "mongodb": true, "openssl": true,
	"llvm": true, "gcc": true, "clang": true,
}

// dynamicAliasPattern matches "<base><M>.<m>[.<p>]" or "<base><M><m>" name
// forms so the three alias spellings can be computed without a bundled
// per-version table entry.
var dynamicAliasPattern = regexp.MustCompile(`^([a-z]+)[@ ]?(\d+)\.(\d+)(?:\.(\d+))?$`)
var compactAliasPattern = regexp.MustCompile(`^([a-z]+)(\d)(\d+)$`)

// staticEquivalence is the bundled table of canonical identifiers to their
// known alias spellings, for names that don't fit the dynamic <base>M.m
// pattern (e.g. aliases coined by packaging convention rather than a
// version number embedded in the name).
var staticEquivalence = map[string][]string{}

// canonicalize reduces a package name to its canonical equivalence-class
// identifier (e.g. "python312" → "python@3.12"). Names outside any known
// equivalence class canonicalize to themselves.
func canonicalize(name string) string {
	if m := dynamicAliasPattern.FindStringSubmatch(name); m != nil {
		base := m[1]
		if versionSensitiveBases[base] {
			return base + "@" + m[2] + "." + m[3]
		}
	}
	if m := compactAliasPattern.FindStringSubmatch(name); m != nil {
		base := m[1]
		if versionSensitiveBases[base] {
			return base + "@" + m[2] + "." + m[3]
		}
	}
	for canonical, aliases := range staticEquivalence {
		if name == canonical {
			return canonical
		}
		for _, a := range aliases {
			if name == a {
				return canonical
			}
		}
	}
	return name
}

// Equivalent reports whether two package names denote the same package
// under the §4.1 equivalence rules: either a bundled static alias, or — for
// version-sensitive bases — one of the three dynamically computed alias
// forms ("base@M.m", "base M.m" concatenated, "base Mm" concatenated) all
// resolving to the same canonical "base@M.m" identifier.
func Equivalent(a, b string) bool {
	if a == b {
		return true
	}
	return canonicalize(a) == canonicalize(b)
}

// Canonical returns the preferred identifier for name within its
// equivalence class, or name itself if it belongs to no known class.
func Canonical(name string) string {
	return canonicalize(name)
}
