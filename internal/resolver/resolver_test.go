package resolver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimaosipa/velo/internal/formula"
	"github.com/dimaosipa/velo/internal/semver"
)

type fakeSource struct {
	formulas map[string]*formula.Formula
}

func (f *fakeSource) FindFormula(name string) (*formula.Formula, error) {
	if fm, ok := f.formulas[name]; ok {
		return fm, nil
	}
	return nil, fmt.Errorf("not found: %s", name)
}

type fakeChecker struct {
	installed map[string]bool
}

func (c *fakeChecker) IsInstalled(name string) (bool, error) {
	return c.installed[name], nil
}

func newFormula(name string, deps ...string) *formula.Formula {
	f := &formula.Formula{Name: name, Version: "1.0.0"}
	for _, d := range deps {
		f.Dependencies = append(f.Dependencies, formula.Dependency{Name: d, Type: formula.DependencyRequired})
	}
	return f
}

func TestResolveLinearChain(t *testing.T) {
	src := &fakeSource{formulas: map[string]*formula.Formula{
		"wget":    newFormula("wget", "openssl"),
		"openssl": newFormula("openssl"),
	}}
	r := New(src, &fakeChecker{installed: map[string]bool{}})

	plan, err := r.Resolve([]string{"wget"})
	require.NoError(t, err)
	assert.Equal(t, []string{"openssl", "wget"}, plan.InstallOrder)
	assert.Len(t, plan.New, 2)
}

func TestResolveDetectsCycle(t *testing.T) {
	src := &fakeSource{formulas: map[string]*formula.Formula{
		"a": newFormula("a", "b"),
		"b": newFormula("b", "a"),
	}}
	r := New(src, &fakeChecker{installed: map[string]bool{}})

	_, err := r.Resolve([]string{"a"})
	require.Error(t, err)
	var cycleErr *CircularDependencyError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestResolveMissingFormula(t *testing.T) {
	src := &fakeSource{formulas: map[string]*formula.Formula{}}
	r := New(src, &fakeChecker{installed: map[string]bool{}})

	_, err := r.Resolve([]string{"ghost"})
	require.Error(t, err)
	var notFound *FormulaNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveCanonicalisesEquivalentAliases(t *testing.T) {
	src := &fakeSource{formulas: map[string]*formula.Formula{
		"tool":        newFormula("tool", "python312"),
		"python312":   newFormula("python312"),
		"python@3.12": newFormula("python@3.12"),
	}}
	r := New(src, &fakeChecker{installed: map[string]bool{}})

	plan, err := r.Resolve([]string{"tool"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, n := range plan.New {
		names[n.CanonicalName] = true
	}
	assert.True(t, names["python@3.12"])
	assert.False(t, names["python312"], "alias must not appear as a distinct node")
}

func TestResolveAlreadyInstalledSkipsNewList(t *testing.T) {
	src := &fakeSource{formulas: map[string]*formula.Formula{
		"wget": newFormula("wget"),
	}}
	r := New(src, &fakeChecker{installed: map[string]bool{"wget": true}})

	plan, err := r.Resolve([]string{"wget"})
	require.NoError(t, err)
	assert.Len(t, plan.AlreadyInstalled, 1)
	assert.Empty(t, plan.New)
}

func TestResolveReportsVersionConflictWithoutAborting(t *testing.T) {
	ge, _ := semver.ParseConstraint(">=3.1.0")
	lt, _ := semver.ParseConstraint("<3.0.0")
	src := &fakeSource{formulas: map[string]*formula.Formula{
		"a": {Name: "a", Dependencies: []formula.Dependency{
			{Name: "openssl", Type: formula.DependencyRequired, VersionConstraints: []semver.Constraint{ge}},
		}},
		"b": {Name: "b", Dependencies: []formula.Dependency{
			{Name: "openssl", Type: formula.DependencyRequired, VersionConstraints: []semver.Constraint{lt}},
		}},
		"openssl": newFormula("openssl"),
	}}
	r := New(src, &fakeChecker{installed: map[string]bool{}})

	plan, err := r.Resolve([]string{"a", "b"})
	require.NoError(t, err, "conflicts are surfaced, not fatal")
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, "openssl", plan.Conflicts[0].Package)
}
