package tapcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// minKeywordLength is the shortest description token kept as a searchable
// keyword (§4.3: "tokens from the description longer than two characters").
const minKeywordLength = 3

// Index is the search index over one tap's formulas: a case-insensitive
// name lookup and a keyword→names map built from formula descriptions.
type Index struct {
	mu             sync.RWMutex
	lowercasedName map[string]string // lowercased name -> actual name
	keywordToNames map[string]map[string]bool
	builtAt        time.Time
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		lowercasedName: make(map[string]string),
		keywordToNames: make(map[string]map[string]bool),
	}
}

// Add indexes one formula's name and description.
func (ix *Index) Add(name, description string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.lowercasedName[strings.ToLower(name)] = name

	for _, token := range strings.Fields(description) {
		token = strings.ToLower(strings.Trim(token, ".,;:!?()[]{}\"'"))
		if len(token) <= minKeywordLength-1 {
			continue
		}
		names, ok := ix.keywordToNames[token]
		if !ok {
			names = make(map[string]bool)
			ix.keywordToNames[token] = names
		}
		names[name] = true
	}
}

// Search returns names whose lowercased name contains term, plus (when
// includeDescriptions is set) names reachable through a keyword containing
// term. Exact case-folded matches sort first, then alphabetically.
func (ix *Index) Search(term string, includeDescriptions bool) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	term = strings.ToLower(term)
	matched := make(map[string]bool)
	exact := make(map[string]bool)

	for lower, actual := range ix.lowercasedName {
		if lower == term {
			exact[actual] = true
			matched[actual] = true
		} else if strings.Contains(lower, term) {
			matched[actual] = true
		}
	}

	if includeDescriptions {
		for keyword, names := range ix.keywordToNames {
			if strings.Contains(keyword, term) {
				for name := range names {
					matched[name] = true
				}
			}
		}
	}

	results := make([]string, 0, len(matched))
	for name := range matched {
		results = append(results, name)
	}
	sort.Slice(results, func(i, j int) bool {
		ei, ej := exact[results[i]], exact[results[j]]
		if ei != ej {
			return ei // exact matches first
		}
		return results[i] < results[j]
	})
	return results
}

// indexFile is the JSON shape persisted to the search-index sidecar.
type indexFile struct {
	LowercasedName map[string]string          `json:"lowercased_name"`
	KeywordToNames map[string][]string        `json:"keyword_to_names"`
	BuiltAt        time.Time                  `json:"built_at"`
}

// tapSidecarName renders a tap identifier ("homebrew/core") into the
// on-disk sidecar name with "/" replaced by "-" (§4.3).
func tapSidecarName(tap string) string {
	return fmt.Sprintf("search-index-%s.velocache", strings.ReplaceAll(tap, "/", "-"))
}

// Save persists the index for tap to <cacheDir>/search-index-<tap>.velocache.
func (ix *Index) Save(cacheDir, tap string) error {
	ix.mu.RLock()
	file := indexFile{
		LowercasedName: ix.lowercasedName,
		KeywordToNames: make(map[string][]string, len(ix.keywordToNames)),
		BuiltAt:        ix.builtAt,
	}
	for keyword, names := range ix.keywordToNames {
		list := make([]string, 0, len(names))
		for name := range names {
			list = append(list, name)
		}
		sort.Strings(list)
		file.KeywordToNames[keyword] = list
	}
	ix.mu.RUnlock()

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("tapcache: marshalling index for %s: %w", tap, err)
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("tapcache: creating %s: %w", cacheDir, err)
	}
	path := filepath.Join(cacheDir, tapSidecarName(tap))
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("tapcache: writing %s: %w", tmpPath, err)
	}
	return os.Rename(tmpPath, path)
}

// LoadIndex reads a previously persisted index, along with its build
// timestamp for freshness comparison.
func LoadIndex(cacheDir, tap string) (*Index, error) {
	path := filepath.Join(cacheDir, tapSidecarName(tap))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("tapcache: parsing index for %s: %w", tap, err)
	}
	ix := NewIndex()
	ix.lowercasedName = file.LowercasedName
	ix.builtAt = file.BuiltAt
	for keyword, names := range file.KeywordToNames {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		ix.keywordToNames[keyword] = set
	}
	return ix, nil
}

// BuiltAt returns the timestamp the index was last (re)built.
func (ix *Index) BuiltAt() time.Time {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.builtAt
}

// SetBuiltAt stamps the index's build time, called once after a full
// rebuild completes.
func (ix *Index) SetBuiltAt(t time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.builtAt = t
}

// IsFresh reports whether this index is fresh relative to a tap's last
// update time: built_at >= last_updated (§4.3).
func (ix *Index) IsFresh(lastUpdated time.Time) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return !ix.builtAt.Before(lastUpdated)
}
