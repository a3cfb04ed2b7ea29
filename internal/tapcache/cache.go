// Package tapcache implements the formula cache and search index (§4.3)
// and the TapManager that owns tap repositories on disk. It is the
// read-mostly shared layer between the resolver and the installer: both
// query formulas through a Cache, never by re-parsing a tap's Ruby source.
package tapcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dimaosipa/velo/internal/formula"
)

// DefaultMaxMemoryEntries is the in-memory tier's default entry cap
// (§4.3), beyond which the oldest-inserted entry is evicted.
const DefaultMaxMemoryEntries = 1000

// Cache is the two-tier formula memoisation layer: an in-memory map bounded
// by insertion order, backed by a JSON sidecar per formula on disk.
type Cache struct {
	dir             string
	maxMemoryEntries int

	mu          sync.RWMutex
	memory      map[string]*formula.Formula
	insertOrder []string // oldest first, for FIFO eviction
}

// New builds a Cache rooted at dir (typically Layout.CacheDir()).
func New(dir string, maxMemoryEntries int) *Cache {
	if maxMemoryEntries <= 0 {
		maxMemoryEntries = DefaultMaxMemoryEntries
	}
	return &Cache{
		dir:              dir,
		maxMemoryEntries: maxMemoryEntries,
		memory:           make(map[string]*formula.Formula),
	}
}

func (c *Cache) diskPath(name string) string {
	return filepath.Join(c.dir, fmt.Sprintf("formula-%s.velocache", sanitizeName(name)))
}

// sanitizeName replaces path separators so a formula name can never escape
// the cache directory via its on-disk filename.
func sanitizeName(name string) string {
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(name)
}

// Get returns a cached formula by name, checking the in-memory tier first
// and falling back to the on-disk sidecar. A disk hit is promoted into the
// in-memory tier.
func (c *Cache) Get(name string) (*formula.Formula, bool) {
	c.mu.RLock()
	if f, ok := c.memory[name]; ok {
		c.mu.RUnlock()
		return f, true
	}
	c.mu.RUnlock()

	data, err := os.ReadFile(c.diskPath(name))
	if err != nil {
		return nil, false
	}
	var f formula.Formula
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false
	}

	c.mu.Lock()
	c.insertIntoMemory(name, &f)
	c.mu.Unlock()
	return &f, true
}

// Set writes f into both tiers, keyed by name.
func (c *Cache) Set(name string, f *formula.Formula) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("tapcache: marshalling %s: %w", name, err)
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("tapcache: creating %s: %w", c.dir, err)
	}
	path := c.diskPath(name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("tapcache: writing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tapcache: renaming %s: %w", tmpPath, err)
	}

	c.mu.Lock()
	c.insertIntoMemory(name, f)
	c.mu.Unlock()
	return nil
}

// insertIntoMemory must be called with c.mu held for writing.
func (c *Cache) insertIntoMemory(name string, f *formula.Formula) {
	if _, exists := c.memory[name]; !exists {
		c.insertOrder = append(c.insertOrder, name)
	}
	c.memory[name] = f
	for len(c.insertOrder) > c.maxMemoryEntries {
		oldest := c.insertOrder[0]
		c.insertOrder = c.insertOrder[1:]
		delete(c.memory, oldest)
	}
}

// Clear removes every formula-* sidecar on disk and empties the in-memory
// tier.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.memory = make(map[string]*formula.Formula)
	c.insertOrder = nil
	c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tapcache: listing %s: %w", c.dir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "formula-") {
			if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
				return fmt.Errorf("tapcache: removing %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// Preload batch-writes a set of formulas, used when building the full
// index from a freshly updated tap.
func (c *Cache) Preload(formulas map[string]*formula.Formula) error {
	for name, f := range formulas {
		if err := c.Set(name, f); err != nil {
			return err
		}
	}
	return nil
}
