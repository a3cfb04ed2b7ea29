package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dimaosipa/velo/internal/lockfile"
	"github.com/dimaosipa/velo/internal/progress"
	"github.com/dimaosipa/velo/internal/resolver"
)

var installCmd = &cobra.Command{
	Use:   "install <package>...",
	Short: "Install one or more packages and their dependencies",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}

	plan, err := env.orch.Install(cmd.Context(), args)
	if err != nil {
		return err
	}

	if len(plan.AlreadyInstalled) > 0 {
		fmt.Print("Already installed: ")
		for i, n := range plan.AlreadyInstalled {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Print(n.CanonicalName)
		}
		fmt.Println()
	}
	fmt.Printf("Installed %d package(s).\n", len(plan.New))

	if err := writeLockfile(plan); err != nil {
		fmt.Printf("warning: could not write velo.lock: %v\n", err)
	}
	return nil
}

// writeLockfile persists every resolved node (new and already-installed)
// into ./velo.lock so the install is reproducible (§3 Lockfile).
func writeLockfile(plan *resolver.InstallPlan) error {
	lf := lockfile.New()
	all := append(append([]*resolver.DependencyNode{}, plan.New...), plan.AlreadyInstalled...)
	for _, node := range all {
		if node.Formula == nil {
			continue
		}
		bottle, _ := node.Formula.PreferredBottle()
		lf.Add(node.CanonicalName, lockfile.Dependency{
			Version:     node.Formula.Version,
			ResolvedURL: strings.ReplaceAll(bottle.RootURLTemplate, "{version}", node.Formula.Version),
			SHA256:      bottle.SHA256,
			Tap:         "homebrew/core",
		})
	}
	path, err := filepath.Abs("velo.lock")
	if err != nil {
		return err
	}
	return lf.Save(path)
}

// printProgress renders orchestrator events as single status lines.
func printProgress(e progress.Event) {
	switch e.Kind {
	case progress.DidStart:
		fmt.Printf("==> %s %s %s\n", e.Phase, e.Package, e.Version)
	case progress.DidFail:
		fmt.Printf("!!! %s %s %s failed: %v\n", e.Phase, e.Package, e.Version, e.Err)
	case progress.DidComplete:
		fmt.Printf("✓   %s %s %s\n", e.Phase, e.Package, e.Version)
	}
}
