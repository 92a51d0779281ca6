package workflow

import (
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of parsed manifests kept in memory.
const DefaultCacheSize = 256

type cacheKey struct {
	path    string
	size    int64
	modTime time.Time
}

// CachingEvaluator keeps parsed manifests keyed by path, size, and mtime so a
// manifest reread during the same run (revinfo after sync, alias lookups) is
// decoded once.
type CachingEvaluator struct {
	cache *lru.Cache[cacheKey, Manifest]
}

// NewCachingEvaluator constructs an evaluator with the given capacity.
func NewCachingEvaluator(size int) (*CachingEvaluator, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, Manifest](size)
	if err != nil {
		return nil, fmt.Errorf("workflow: manifest cache: %w", err)
	}
	return &CachingEvaluator{cache: cache}, nil
}

// Evaluate returns the evaluated manifest at path, parsing it only when the
// file changed since the last call.
func (c *CachingEvaluator) Evaluate(path string, opts EvalOptions) (Evaluated, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if isNotExist(err) {
			return Evaluated{}, false, nil
		}
		return Evaluated{}, false, fmt.Errorf("workflow: stat %s: %w", path, err)
	}
	key := cacheKey{path: path, size: info.Size(), modTime: info.ModTime()}
	manifest, ok := c.cache.Get(key)
	if !ok {
		loaded, found, loadErr := LoadManifestFile(path)
		if loadErr != nil || !found {
			return Evaluated{}, found, loadErr
		}
		manifest = loaded
		c.cache.Add(key, manifest)
	}
	evaluated, err := manifest.Evaluate(opts)
	if err != nil {
		return Evaluated{}, true, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return evaluated, true, nil
}

// Len reports how many manifests are cached.
func (c *CachingEvaluator) Len() int {
	return c.cache.Len()
}
