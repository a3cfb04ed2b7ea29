package main

import (
	"fmt"

	"github.com/dimaosipa/velo/internal/formula"
	"github.com/dimaosipa/velo/internal/install"
	"github.com/dimaosipa/velo/internal/layout"
	"github.com/dimaosipa/velo/internal/log"
	"github.com/dimaosipa/velo/internal/orchestrator"
	"github.com/dimaosipa/velo/internal/receipt"
	"github.com/dimaosipa/velo/internal/resolver"
	"github.com/dimaosipa/velo/internal/tapcache"
)

// unconfiguredParser is the injection point for the Ruby-syntax formula
// parser, an external collaborator this core treats as a pure function
// (§1). Wiring a real one is outside this repository's scope; velo can be
// linked against any implementation of tapcache.Parser.
type unconfiguredParser struct{}

func (unconfiguredParser) Parse(source []byte) (*formula.Formula, error) {
	return nil, fmt.Errorf("no formula parser configured: this build has no Ruby-syntax parser wired in")
}

// environment bundles every subsystem a command needs, built once per
// invocation from --prefix (or its default).
type environment struct {
	layout    *layout.Layout
	receipts  *receipt.Store
	tapCache  *tapcache.Cache
	taps      *tapcache.TapManager
	resolver  *resolver.Resolver
	installer *install.Installer
	orch      *orchestrator.Orchestrator
}

func newEnvironment() (*environment, error) {
	prefix := prefixFlag
	if prefix == "" {
		prefix = layout.DefaultPrefix()
	}
	l := layout.New(prefix)
	if err := l.EnsureSkeleton(); err != nil {
		return nil, fmt.Errorf("preparing prefix %s: %w", prefix, err)
	}

	logger := log.Default()
	receipts := receipt.New(l.ReceiptsDir())
	cache := tapcache.New(l.CacheDir(), tapcache.DefaultMaxMemoryEntries)
	taps := tapcache.NewTapManager(l.TapsDir(), l.CacheDir(), cache, unconfiguredParser{}, []string{"homebrew/core"})

	res := resolver.New(taps, l)
	installer := install.New(l, receipts, logger)
	orch := orchestrator.New(res, l, installer, receipts, orchestrator.Options{Log: logger, Sink: printProgress})

	return &environment{
		layout:    l,
		receipts:  receipts,
		tapCache:  cache,
		taps:      taps,
		resolver:  res,
		installer: installer,
		orch:      orch,
	}, nil
}
