package semver

import (
	"fmt"
	"strings"
)

// Operator is one of the comparison operators a dependency edge or a
// bottle's version field can be constrained by.
type Operator string

const (
	OpEqual          Operator = "=="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpPessimistic    Operator = "~>" // ~>X.Y.Z ≡ >=X.Y.Z ∧ <X.(Y+1).0
	OpCaret          Operator = "^"  // ^X.Y.Z  ≡ >=X.Y.Z ∧ <(X+1).0.0
)

// Constraint pairs an operator with the version it is relative to.
type Constraint struct {
	Operator Operator
	Version  Version
}

// ParseConstraint splits a constraint string such as ">=1.2.0" or "~>2.3.0"
// into its operator and version; the version must have all three parts. Constraints without a recognised operator
// prefix default to OpEqual.
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	for _, op := range []Operator{OpGreaterOrEqual, OpLessOrEqual, OpPessimistic, OpCaret, OpGreater, OpLess, OpEqual} {
		if strings.HasPrefix(s, string(op)) {
			rest := strings.TrimSpace(strings.TrimPrefix(s, string(op)))
			v := Parse(rest)
			if v.Unparsable {
				return Constraint{}, fmt.Errorf("unparsable version in constraint %q", s)
			}
			return Constraint{Operator: op, Version: v}, nil
		}
	}
	v := Parse(s)
	if v.Unparsable {
		return Constraint{}, fmt.Errorf("unparsable version in constraint %q", s)
	}
	return Constraint{Operator: OpEqual, Version: v}, nil
}

// Satisfies reports whether v meets this single constraint. It is total:
// every (Constraint, Version) pair yields true or false, never an error.
func (c Constraint) Satisfies(v Version) bool {
	switch c.Operator {
	case OpEqual:
		return v.Equal(c.Version)
	case OpGreater:
		return v.GreaterThan(c.Version)
	case OpGreaterOrEqual:
		return !v.LessThan(c.Version)
	case OpLess:
		return v.LessThan(c.Version)
	case OpLessOrEqual:
		return !v.GreaterThan(c.Version)
	case OpPessimistic:
		upper := Version{Major: c.Version.Major, Minor: c.Version.Minor + 1, Patch: 0}
		return !v.LessThan(c.Version) && v.LessThan(upper)
	case OpCaret:
		upper := Version{Major: c.Version.Major + 1, Minor: 0, Patch: 0}
		return !v.LessThan(c.Version) && v.LessThan(upper)
	default:
		return false
	}
}

// String renders the constraint back to its canonical form, e.g. ">=1.2.0".
func (c Constraint) String() string {
	return string(c.Operator) + c.Version.String()
}

// Set is the conjunction of every constraint collected for a canonical
// package across all alias edges that reference it (§4.4 Phase 3).
type Set struct {
	constraints []Constraint
}

// NewSet builds a constraint set from zero or more constraints.
func NewSet(constraints ...Constraint) *Set {
	return &Set{constraints: append([]Constraint(nil), constraints...)}
}

// Add appends a constraint to the set. Duplicate constraints (same
// operator and version) are kept; they do not change satisfiability but
// the raw requirement list is preserved for conflict reporting.
func (s *Set) Add(c Constraint) {
	s.constraints = append(s.constraints, c)
}

// Constraints returns the raw list backing this set.
func (s *Set) Constraints() []Constraint {
	return s.constraints
}

// SatisfiedBy reports whether v satisfies every constraint in the set.
// An empty set is satisfied by any version.
func (s *Set) SatisfiedBy(v Version) bool {
	for _, c := range s.constraints {
		if !c.Satisfies(v) {
			return false
		}
	}
	return true
}

// ConflictingPair identifies two constraints in the set that pin distinct
// concrete versions under incompatible operators — the condition §4.4
// Phase 4 reports as a VersionConflict rather than failing resolution.
type ConflictingPair struct {
	A, B Constraint
}

// Conflicts returns every pair of constraints in the set that cannot both
// be satisfied by any single version. Only exact-version operators
// (==, and the degenerate >=X <=X case) are compared pairwise; range
// operators that merely narrow a window are not treated as conflicts
// unless they exclude every version the other constraint allows.
func (s *Set) Conflicts() []ConflictingPair {
	var out []ConflictingPair
	for i := 0; i < len(s.constraints); i++ {
		for j := i + 1; j < len(s.constraints); j++ {
			a, b := s.constraints[i], s.constraints[j]
			if a.Operator == OpEqual && b.Operator == OpEqual && !a.Version.Equal(b.Version) {
				out = append(out, ConflictingPair{A: a, B: b})
				continue
			}
			if concretelyIncompatible(a, b) {
				out = append(out, ConflictingPair{A: a, B: b})
			}
		}
	}
	return out
}

// concretelyIncompatible detects the common two-sided case a spec example
// exercises directly: one edge requires ">=X" and another "<X" (or similar)
// against versions that leave no overlap at all.
func concretelyIncompatible(a, b Constraint) bool {
	lowerBound := func(c Constraint) (Version, bool) {
		switch c.Operator {
		case OpGreaterOrEqual, OpGreater, OpEqual, OpPessimistic, OpCaret:
			return c.Version, true
		}
		return Version{}, false
	}
	upperBound := func(c Constraint) (Version, bool) {
		switch c.Operator {
		case OpLessOrEqual, OpLess, OpEqual:
			return c.Version, true
		}
		return Version{}, false
	}

	lo, hasLo := lowerBound(a)
	hi, hasHi := upperBound(b)
	if hasLo && hasHi && lo.GreaterThan(hi) {
		return true
	}
	lo, hasLo = lowerBound(b)
	hi, hasHi = upperBound(a)
	if hasLo && hasHi && lo.GreaterThan(hi) {
		return true
	}
	return false
}
