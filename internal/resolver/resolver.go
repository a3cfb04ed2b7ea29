// Package resolver implements the dependency resolver (§4.4): it walks a
// set of root package names through a formula source, canonicalises
// version-sensitive aliases, collects and checks version constraints, and
// produces a topologically ordered install plan.
package resolver

import (
	"fmt"
	"sort"

	"github.com/dimaosipa/velo/internal/formula"
	"github.com/dimaosipa/velo/internal/layout"
	"github.com/dimaosipa/velo/internal/semver"
)

// FormulaSource locates a formula by name, the way a TapManager does
// (§4.3). The resolver only depends on this narrow interface so it can be
// tested without a real tap cache.
type FormulaSource interface {
	FindFormula(name string) (*formula.Formula, error)
}

// InstallChecker reports whether any equivalent spelling of name already
// has at least one installed version, the way layout.Layout.IsInstalled
// does for a single name.
type InstallChecker interface {
	IsInstalled(name string) (bool, error)
}

// CircularDependencyError reports a dependency cycle discovered during
// Phase 1 (discovery) or during the final topological sort, whichever
// detects it.
type CircularDependencyError struct {
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %v", e.Chain)
}

// FormulaNotFoundError reports a requested or transitively required
// package the formula source could not locate.
type FormulaNotFoundError struct {
	Name string
	Err  error
}

func (e *FormulaNotFoundError) Error() string {
	return fmt.Sprintf("formula not found: %s: %v", e.Name, e.Err)
}
func (e *FormulaNotFoundError) Unwrap() error { return e.Err }

// VersionConflict reports a canonical package whose collected constraint
// set pins two distinct concrete versions. Resolution does not abort on a
// conflict (§4.4 Phase 4) — it is surfaced on the plan for the orchestrator
// to act on.
type VersionConflict struct {
	Package                string
	ConflictingConstraints []semver.Constraint
}

// DependencyNode is one resolved package in the install graph (§3).
// Node contents are fixed at Materialisation time and never mutated
// afterward, except IsInstalled flipping false→true when the installer
// succeeds.
type DependencyNode struct {
	CanonicalName  string
	Formula        *formula.Formula
	Requirements   []semver.Constraint
	IsInstalled    bool
	EquivalentNames []string
	dependsOn      []string // canonicalised dependency names, for topological sort
}

// InstallPlan is the resolver's final output (§3).
type InstallPlan struct {
	Root             []string
	New              []*DependencyNode
	AlreadyInstalled []*DependencyNode
	InstallOrder     []string
	EstimatedSize    int64
	Conflicts        []VersionConflict
}

// Resolver runs the five-phase algorithm against a FormulaSource and an
// InstallChecker.
type Resolver struct {
	source  FormulaSource
	checker InstallChecker
}

// New builds a Resolver.
func New(source FormulaSource, checker InstallChecker) *Resolver {
	return &Resolver{source: source, checker: checker}
}

// rawRequirement is what Phase 1 records per discovered edge, before
// canonicalisation.
type rawRequirement struct {
	fromName    string // the alias name exactly as it appeared in a dependency edge
	constraints []semver.Constraint
}

// Resolve runs all five phases against the given root package names.
func (r *Resolver) Resolve(roots []string) (*InstallPlan, error) {
	discovered, order, err := r.discover(roots)
	if err != nil {
		return nil, err
	}

	canonicalOf := canonicalise(order)

	constraintsByCanonical := collectConstraints(discovered, canonicalOf)

	var conflicts []VersionConflict
	for canonical, set := range constraintsByCanonical {
		if pairs := set.Conflicts(); len(pairs) > 0 {
			var flat []semver.Constraint
			for _, p := range pairs {
				flat = append(flat, p.A, p.B)
			}
			conflicts = append(conflicts, VersionConflict{Package: canonical, ConflictingConstraints: flat})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Package < conflicts[j].Package })

	nodes, nodesByCanonical, err := r.materialise(order, canonicalOf, constraintsByCanonical)
	if err != nil {
		return nil, err
	}

	installOrder, err := topologicalSort(nodesByCanonical)
	if err != nil {
		return nil, err
	}

	plan := &InstallPlan{Root: roots, InstallOrder: installOrder, Conflicts: conflicts}
	for _, n := range nodes {
		if n.IsInstalled {
			plan.AlreadyInstalled = append(plan.AlreadyInstalled, n)
		} else {
			plan.New = append(plan.New, n)
			if n.Formula != nil {
				plan.EstimatedSize += estimateSize(n.Formula)
			}
		}
	}
	return plan, nil
}

// estimateSizeFallback is the flat per-package size guess used when no
// better figure is available, matching the distilled spec's 5 MB × |new|
// heuristic.
const estimateSizeFallback = 5 * 1024 * 1024

// estimateSize is a coarse per-package size estimate used only to populate
// InstallPlan.EstimatedSize for progress reporting; the bottle's actual
// size is whatever the downloader's HEAD request reports. It returns the
// flat estimateSizeFallback rather than inspecting f, since no tap metadata
// carries a real bottle size yet.
func estimateSize(f *formula.Formula) int64 {
	return estimateSizeFallback
}

// discover runs Phase 1: recursive DFS from each root, following only
// required dependencies, recording raw per-alias requirements and
// returning names in first-visited (post-discovery) order.
func (r *Resolver) discover(roots []string) (map[string][]rawRequirement, []string, error) {
	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	requirements := make(map[string][]rawRequirement)
	var order []string
	var chain []string

	var visit func(name string, constraints []semver.Constraint) error
	visit = func(name string, constraints []semver.Constraint) error {
		if visiting[name] {
			return &CircularDependencyError{Chain: append(append([]string(nil), chain...), name)}
		}
		if len(constraints) > 0 {
			requirements[name] = append(requirements[name], rawRequirement{fromName: name, constraints: constraints})
		} else if _, ok := requirements[name]; !ok {
			requirements[name] = nil
		}
		if visited[name] {
			return nil
		}

		visiting[name] = true
		chain = append(chain, name)
		defer func() {
			visiting[name] = false
			chain = chain[:len(chain)-1]
		}()

		f, err := r.source.FindFormula(name)
		if err != nil {
			return &FormulaNotFoundError{Name: name, Err: err}
		}

		for _, dep := range f.RequiredDependencies() {
			if err := visit(dep.Name, dep.VersionConstraints); err != nil {
				return err
			}
		}

		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, root := range roots {
		if err := visit(root, nil); err != nil {
			return nil, nil, err
		}
	}
	return requirements, order, nil
}

// canonicalise runs Phase 2: partition discovered names by equivalence
// class and build the alias → canonical map.
func canonicalise(names []string) map[string]string {
	canonicalOf := make(map[string]string, len(names))
	for _, name := range names {
		canonicalOf[name] = layout.Canonical(name)
	}
	return canonicalOf
}

// collectConstraints runs Phase 3: union every alias edge's constraints
// into one Set per canonical package.
func collectConstraints(discovered map[string][]rawRequirement, canonicalOf map[string]string) map[string]*semver.Set {
	sets := make(map[string]*semver.Set)
	for alias, reqs := range discovered {
		canonical := canonicalOf[alias]
		set, ok := sets[canonical]
		if !ok {
			set = semver.NewSet()
			sets[canonical] = set
		}
		for _, req := range reqs {
			for _, c := range req.constraints {
				set.Add(c)
			}
		}
	}
	return sets
}

// materialise runs Phase 5: for each canonical package, locate a formula
// (preferring the canonical spelling, falling back to any alias that
// shares its equivalence class) and determine installed state.
func (r *Resolver) materialise(order []string, canonicalOf map[string]string, constraints map[string]*semver.Set) ([]*DependencyNode, map[string]*DependencyNode, error) {
	aliasesByCanonical := make(map[string][]string)
	for _, alias := range order {
		canonical := canonicalOf[alias]
		aliasesByCanonical[canonical] = append(aliasesByCanonical[canonical], alias)
	}

	nodesByCanonical := make(map[string]*DependencyNode)
	var nodes []*DependencyNode

	for canonical, aliases := range aliasesByCanonical {
		f, err := r.locateFormula(canonical, aliases)
		if err != nil {
			return nil, nil, err
		}

		installed := false
		for _, alias := range append([]string{canonical}, aliases...) {
			ok, err := r.checker.IsInstalled(alias)
			if err != nil {
				return nil, nil, fmt.Errorf("resolver: checking install state of %s: %w", alias, err)
			}
			if ok {
				installed = true
				break
			}
		}

		var constraintList []semver.Constraint
		if set, ok := constraints[canonical]; ok {
			constraintList = set.Constraints()
		}

		var dependsOn []string
		if f != nil {
			for _, dep := range f.RequiredDependencies() {
				dependsOn = append(dependsOn, layout.Canonical(dep.Name))
			}
		}

		node := &DependencyNode{
			CanonicalName:   canonical,
			Formula:         f,
			Requirements:    constraintList,
			IsInstalled:     installed,
			EquivalentNames: aliases,
			dependsOn:       dependsOn,
		}
		nodes = append(nodes, node)
		nodesByCanonical[canonical] = node
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].CanonicalName < nodes[j].CanonicalName })
	return nodes, nodesByCanonical, nil
}

// locateFormula tries the canonical name first, then every alias in that
// equivalence class, returning the first formula found.
func (r *Resolver) locateFormula(canonical string, aliases []string) (*formula.Formula, error) {
	if f, err := r.source.FindFormula(canonical); err == nil {
		return f, nil
	}
	var lastErr error
	for _, alias := range aliases {
		f, err := r.source.FindFormula(alias)
		if err == nil {
			return f, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no formula for %s or its aliases", canonical)
	}
	return nil, &FormulaNotFoundError{Name: canonical, Err: lastErr}
}

// topologicalSort runs Kahn's algorithm with a sorted seed set for
// deterministic tie-breaking (§4.4 "Topological sort").
func topologicalSort(nodes map[string]*DependencyNode) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string) // name -> names that depend on it
	for name := range nodes {
		indegree[name] = 0
	}
	for name, node := range nodes {
		for _, dep := range node.dependsOn {
			if _, ok := nodes[dep]; !ok {
				continue // dependency outside the resolved set (shouldn't happen post-materialisation)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)

		var freed []string
		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sort.Strings(freed)
		queue = append(queue, freed...)
		sort.Strings(queue)
	}

	if len(order) < len(nodes) {
		var remaining []string
		for name := range nodes {
			found := false
			for _, o := range order {
				if o == name {
					found = true
					break
				}
			}
			if !found {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &CircularDependencyError{Chain: remaining}
	}

	// install_order must place prerequisites first: a node's dependency
	// must precede it. Kahn's algorithm naturally yields this order when
	// edges point from dependent → dependency (as built above: "name
	// depends on dep" increments name's indegree keyed on dep), so order
	// already lists dependencies before dependents.
	return order, nil
}
