package tapcache

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dimaosipa/velo/internal/formula"
	"github.com/dimaosipa/velo/internal/log"
)

// TapMetadata is the persisted freshness record for one tap (§3
// TapCacheMetadata).
type TapMetadata struct {
	LastUpdated       time.Time  `json:"last_updated"`
	LastCommit        string     `json:"last_commit,omitempty"`
	UpdateDuration    time.Duration `json:"update_duration"`
	SearchIndexBuilt  *time.Time `json:"search_index_built,omitempty"`
}

// IsIndexFresh reports whether this tap's search index is fresh, i.e. its
// build timestamp is at least as recent as the tap's last update (§4.3).
func (m TapMetadata) IsIndexFresh() bool {
	return m.SearchIndexBuilt != nil && !m.SearchIndexBuilt.Before(m.LastUpdated)
}

// Parser parses one formula file's Ruby source into a Formula. It is
// injected so TapManager has no compile-time dependency on any particular
// parser implementation — an external collaborator per §1/§3.
type Parser interface {
	Parse(source []byte) (*formula.Formula, error)
}

// TapManager owns tap repositories under taps/<org>/<repo> and exposes
// find_formula/update_tap per §4.3.
type TapManager struct {
	tapsDir  string
	cacheDir string
	cache    *Cache
	parser   Parser
	priority []string // tap names in lookup priority order, e.g. "homebrew/core" first

	updateMu sync.Mutex // process-wide "update in progress" guard
	updating map[string]bool
	metadata map[string]TapMetadata
	metaMu   sync.RWMutex
}

// NewTapManager builds a TapManager. priority lists tap names
// ("org/repo") in the order find_formula should search them; homebrew/core
// should be listed first per §4.3.
func NewTapManager(tapsDir, cacheDir string, cache *Cache, parser Parser, priority []string) *TapManager {
	return &TapManager{
		tapsDir:  tapsDir,
		cacheDir: cacheDir,
		cache:    cache,
		parser:   parser,
		priority: priority,
		updating: make(map[string]bool),
		metadata: make(map[string]TapMetadata),
	}
}

func (tm *TapManager) repoDir(tap string) string {
	return filepath.Join(tm.tapsDir, filepath.FromSlash(tap))
}

// UpdateTap clones or pulls the tap's repository. It is guarded by a
// process-wide in-progress flag (a second concurrent call for the same tap
// is a no-op returning nil) and honours maxAge unless force is set.
func (tm *TapManager) UpdateTap(ctx context.Context, tap, remoteURL string, force bool, maxAge time.Duration) error {
	tm.updateMu.Lock()
	if tm.updating[tap] {
		tm.updateMu.Unlock()
		return nil
	}
	if !force {
		if meta, ok := tm.Metadata(tap); ok && time.Since(meta.LastUpdated) < maxAge {
			tm.updateMu.Unlock()
			return nil
		}
	}
	tm.updating[tap] = true
	tm.updateMu.Unlock()
	defer func() {
		tm.updateMu.Lock()
		tm.updating[tap] = false
		tm.updateMu.Unlock()
	}()

	start := time.Now()
	dir := tm.repoDir(tap)

	_, statErr := os.Stat(filepath.Join(dir, ".git"))
	if statErr == nil {
		detached, err := isDetachedHead(ctx, dir)
		if err == nil && detached {
			log.Default().Info("tap is on a detached HEAD, skipping update", "tap", tap)
			return nil
		}
	}

	var cmd *exec.Cmd
	if os.IsNotExist(statErr) {
		if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
			return fmt.Errorf("tapcache: creating %s: %w", filepath.Dir(dir), err)
		}
		cmd = exec.CommandContext(ctx, "git", "clone", "--depth", "1", remoteURL, dir)
	} else {
		cmd = exec.CommandContext(ctx, "git", "-C", dir, "pull", "--ff-only")
	}

	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()
	done := make(chan error, 1)
	go func() { done <- cmd.Run() }()

	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("tapcache: updating tap %s: %w", tap, err)
			}
			commit, _ := headCommit(ctx, dir)
			tm.setMetadata(tap, TapMetadata{
				LastUpdated:    time.Now(),
				LastCommit:     commit,
				UpdateDuration: time.Since(start),
			})
			return nil
		case <-heartbeat.C:
			log.Default().Info("tap update in progress", "tap", tap, "elapsed", time.Since(start))
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return ctx.Err()
		}
	}
}

func isDetachedHead(ctx context.Context, dir string) (bool, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "symbolic-ref", "-q", "HEAD").CombinedOutput()
	if err != nil {
		// A non-zero exit from symbolic-ref means HEAD is detached.
		return true, nil
	}
	return len(strings.TrimSpace(string(out))) == 0, nil
}

func headCommit(ctx context.Context, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Metadata returns the cached freshness record for tap, if any.
func (tm *TapManager) Metadata(tap string) (TapMetadata, bool) {
	tm.metaMu.RLock()
	defer tm.metaMu.RUnlock()
	m, ok := tm.metadata[tap]
	return m, ok
}

func (tm *TapManager) setMetadata(tap string, m TapMetadata) {
	tm.metaMu.Lock()
	defer tm.metaMu.Unlock()
	tm.metadata[tap] = m
}

// FindFormula implements §4.3's lookup order: cache → index case-insensitive
// match → direct parse from any tap in priority order → test fixtures in
// debug builds only. A located formula is cached before return.
func (tm *TapManager) FindFormula(name string) (*formula.Formula, error) {
	if f, ok := tm.cache.Get(name); ok {
		return f, nil
	}

	for _, tap := range tm.priority {
		if ix, err := LoadIndex(tm.cacheDir, tap); err == nil {
			if actual, ok := ix.lowercasedName[strings.ToLower(name)]; ok {
				if f, err := tm.parseFormula(tap, actual); err == nil {
					_ = tm.cache.Set(name, f)
					return f, nil
				}
			}
		}
	}

	for _, tap := range tm.priority {
		if f, err := tm.parseFormula(tap, name); err == nil {
			_ = tm.cache.Set(name, f)
			return f, nil
		}
	}

	if f, err := tm.findDebugFixture(name); err == nil {
		return f, nil
	}

	return nil, fmt.Errorf("formula %q not found in any tap", name)
}

// parseFormula locates name's formula file under tap, accepting either
// Formula/*.rb or Formula/<first-letter>/*.rb layout (§5 "Tap repository
// layout") and parses it.
func (tm *TapManager) parseFormula(tap, name string) (*formula.Formula, error) {
	root := tm.repoDir(tap)
	candidates := []string{
		filepath.Join(root, "Formula", name+".rb"),
		filepath.Join(root, "Formula", firstLetter(name), name+".rb"),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return tm.parser.Parse(data)
	}
	return nil, fmt.Errorf("no formula file for %s in tap %s", name, tap)
}

// findDebugFixture is only consulted when VELO_DEBUG_FIXTURES is set,
// matching the spec's "test fixtures in debug builds only" fallback
// without compiling test-only code into release binaries.
func (tm *TapManager) findDebugFixture(name string) (*formula.Formula, error) {
	fixturesDir := os.Getenv("VELO_DEBUG_FIXTURES")
	if fixturesDir == "" {
		return nil, fmt.Errorf("debug fixtures disabled")
	}
	data, err := os.ReadFile(filepath.Join(fixturesDir, name+".rb"))
	if err != nil {
		return nil, err
	}
	return tm.parser.Parse(data)
}

func firstLetter(name string) string {
	if name == "" {
		return "_"
	}
	return strings.ToLower(name[:1])
}

// ListFormulaFiles walks a tap's Formula/ tree (either layout) and returns
// every formula file path found, used by BuildIndex to enumerate formulas
// for a full rebuild.
func ListFormulaFiles(tapRoot string) ([]string, error) {
	formulaDir := filepath.Join(tapRoot, "Formula")
	var files []string
	entries, err := os.ReadDir(formulaDir)
	if err != nil {
		return nil, fmt.Errorf("tapcache: listing %s: %w", formulaDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			sub, err := os.ReadDir(filepath.Join(formulaDir, e.Name()))
			if err != nil {
				continue
			}
			for _, f := range sub {
				if strings.HasSuffix(f.Name(), ".rb") {
					files = append(files, filepath.Join(formulaDir, e.Name(), f.Name()))
				}
			}
			continue
		}
		if strings.HasSuffix(e.Name(), ".rb") {
			files = append(files, filepath.Join(formulaDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// BuildIndex parses every formula in a tap and builds a fresh search
// Index, used after UpdateTap to keep the index in step with the tap's
// content.
func (tm *TapManager) BuildIndex(tap string) (*Index, error) {
	files, err := ListFormulaFiles(tm.repoDir(tap))
	if err != nil {
		return nil, err
	}

	ix := NewIndex()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		f, err := tm.parser.Parse(data)
		if err != nil {
			continue
		}
		ix.Add(f.Name, f.Description)
		_ = tm.cache.Set(f.Name, f)
	}
	ix.SetBuiltAt(time.Now())
	if err := ix.Save(tm.cacheDir, tap); err != nil {
		return nil, err
	}

	meta, _ := tm.Metadata(tap)
	built := ix.BuiltAt()
	meta.SearchIndexBuilt = &built
	tm.setMetadata(tap, meta)
	return ix, nil
}
