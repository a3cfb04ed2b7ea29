// Package orchestrator implements §4.7: it sequences resolve → download →
// install for a set of requested package names, fans out progress events,
// and rolls back a package's own directory if its install step fails.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dimaosipa/velo/internal/config"
	"github.com/dimaosipa/velo/internal/download"
	"github.com/dimaosipa/velo/internal/install"
	"github.com/dimaosipa/velo/internal/layout"
	"github.com/dimaosipa/velo/internal/log"
	"github.com/dimaosipa/velo/internal/progress"
	"github.com/dimaosipa/velo/internal/receipt"
	"github.com/dimaosipa/velo/internal/resolver"
)

// defaultMaxConcurrentDownloads is §4.7's batch size for whole-package
// downloads, scaled by VELO_IO_POLICY (§6).
const defaultMaxConcurrentDownloads = 4

// Resolver is the subset of resolver.Resolver the orchestrator drives.
type Resolver interface {
	Resolve(roots []string) (*resolver.InstallPlan, error)
}

// Orchestrator wires together the resolver, downloader, and installer to
// carry out a full "install these packages" request.
type Orchestrator struct {
	resolver  Resolver
	layout    *layout.Layout
	installer *install.Installer
	receipts  *receipt.Store
	sink      progress.Sink
	log       log.Logger
}

// Options configures an Orchestrator.
type Options struct {
	Sink progress.Sink
	Log  log.Logger
}

// New builds an Orchestrator.
func New(r Resolver, l *layout.Layout, installer *install.Installer, receipts *receipt.Store, opts Options) *Orchestrator {
	sink := opts.Sink
	if sink == nil {
		sink = progress.Discard
	}
	logger := opts.Log
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{resolver: r, layout: l, installer: installer, receipts: receipts, sink: sink, log: logger}
}

// Install resolves roots into a plan, downloads every not-yet-installed
// node's bottle in parallel (§4.7 step 2), then installs them one at a
// time in topological order. A failed download aborts before any install
// is attempted; a failed install rolls back that node's own Cellar
// directory (not its dependents') and aborts the remaining install order,
// leaving already-completed nodes in place.
func (o *Orchestrator) Install(ctx context.Context, roots []string) (*resolver.InstallPlan, error) {
	o.emit(progress.PhaseResolve, progress.DidStart, "", "", 0, 0, nil)
	plan, err := o.resolver.Resolve(roots)
	if err != nil {
		o.emit(progress.PhaseResolve, progress.DidFail, "", "", 0, 0, err)
		return nil, fmt.Errorf("orchestrator: resolving %v: %w", roots, err)
	}
	o.emit(progress.PhaseResolve, progress.DidComplete, "", "", 0, 0, nil)

	if len(plan.Conflicts) > 0 {
		var names []string
		for _, c := range plan.Conflicts {
			names = append(names, c.Package)
		}
		o.log.Warn("version conflicts detected", "packages", strings.Join(names, ", "))
	}

	nodesByName := make(map[string]*resolver.DependencyNode, len(plan.New))
	for _, n := range plan.New {
		nodesByName[n.CanonicalName] = n
	}

	bottlePaths, err := o.fetchAll(ctx, plan.New)
	if err != nil {
		return plan, err
	}

	rootSet := make(map[string]bool, len(roots))
	for _, r := range roots {
		rootSet[layout.Canonical(r)] = true
	}

	for _, name := range plan.InstallOrder {
		node, ok := nodesByName[name]
		if !ok {
			continue // already installed; nothing to do
		}
		if err := o.installNode(node, bottlePaths[name], rootSet[name]); err != nil {
			return plan, err
		}
	}
	return plan, nil
}

// fetchAll downloads every node's preferred bottle concurrently, bounded
// by defaultMaxConcurrentDownloads (scaled by VELO_IO_POLICY). The first
// failure cancels the remaining in-flight downloads and is returned;
// already-downloaded bottles are left in the cache directory (a later
// call downloads them again).
func (o *Orchestrator) fetchAll(ctx context.Context, nodes []*resolver.DependencyNode) (map[string]string, error) {
	limit := config.IOPolicyFromEnv().ScaleConcurrency(defaultMaxConcurrentDownloads)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	paths := make(map[string]string, len(nodes))
	var mu sync.Mutex

	for _, node := range nodes {
		node := node
		g.Go(func() error {
			path, err := o.fetchNode(gctx, node)
			if err != nil {
				return err
			}
			mu.Lock()
			paths[node.CanonicalName] = path
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// fetchNode downloads a single node's preferred bottle into the cache
// directory and returns its path.
func (o *Orchestrator) fetchNode(ctx context.Context, node *resolver.DependencyNode) (string, error) {
	name := node.CanonicalName
	version := node.Formula.Version

	bottle, ok := node.Formula.PreferredBottle()
	if !ok {
		err := fmt.Errorf("no usable bottle for %s@%s on this platform", name, version)
		o.emit(progress.PhaseFetch, progress.DidFail, name, version, 0, 0, err)
		return "", err
	}

	o.emit(progress.PhaseFetch, progress.DidStart, name, version, 0, 0, nil)
	bottlePath := filepath.Join(o.layout.CacheDir(), fmt.Sprintf("%s-%s.bottle", name, version))
	url := strings.ReplaceAll(bottle.RootURLTemplate, "{version}", version)
	err := download.Download(ctx, url, bottlePath, download.Options{
		ExpectedSHA256: bottle.SHA256,
		Progress: func(transferred, total int64) {
			o.emit(progress.PhaseFetch, progress.DidUpdate, name, version, transferred, total, nil)
		},
	})
	if err != nil {
		o.emit(progress.PhaseFetch, progress.DidFail, name, version, 0, 0, err)
		return "", fmt.Errorf("orchestrator: fetching %s@%s: %w", name, version, err)
	}
	o.emit(progress.PhaseFetch, progress.DidComplete, name, version, 0, 0, nil)
	return bottlePath, nil
}

// installNode installs a single already-downloaded node, rolling its own
// Cellar directory back on failure.
func (o *Orchestrator) installNode(node *resolver.DependencyNode, bottlePath string, isRoot bool) error {
	name := node.CanonicalName
	version := node.Formula.Version

	installedAs := receipt.Dependency
	var requestedBy []string
	if isRoot {
		installedAs = receipt.Explicit
	} else {
		requestedBy = dependentsOf(node)
	}

	o.emit(progress.PhaseInstall, progress.DidStart, name, version, 0, 0, nil)
	err := o.installer.Install(name, version, bottlePath, install.Options{
		InstalledAs: installedAs,
		RequestedBy: requestedBy,
		MakeDefault: true,
	})
	if err != nil {
		o.emit(progress.PhaseInstall, progress.DidFail, name, version, 0, 0, err)
		o.rollback(name, version)
		return fmt.Errorf("orchestrator: installing %s@%s: %w", name, version, err)
	}
	o.emit(progress.PhaseInstall, progress.DidComplete, name, version, 0, 0, nil)
	return nil
}

// rollback removes the package's own Cellar directory after a failed
// install. Dependents of this package are not touched: the orchestrator
// aborts the remaining install order instead, so no dependent ever gets a
// chance to build on the half-installed package.
func (o *Orchestrator) rollback(name, version string) {
	pkgDir := o.layout.PackageDir(name, version)
	if err := os.RemoveAll(pkgDir); err != nil {
		o.log.Warn("rollback failed to remove package directory", "package", name, "version", version, "error", err)
	}
}

func (o *Orchestrator) emit(phase progress.Phase, kind progress.Kind, name, version string, transferred, total int64, err error) {
	o.sink(progress.Event{Phase: phase, Kind: kind, Package: name, Version: version, Transferred: transferred, Total: total, Err: err})
}

// dependentsOf has no general graph edges to walk backward from (the
// resolver only records forward dependsOn edges internally); an
// orchestrator that needs precise reverse-dependency attribution derives
// it from which root pulled the node in, which the caller already knows
// from its own traversal. Returning nil here means a dependency install's
// receipt is written with an empty RequestedBy list; the orchestrator does
// not add dependents to it afterwards.
func dependentsOf(node *resolver.DependencyNode) []string {
	return nil
}
