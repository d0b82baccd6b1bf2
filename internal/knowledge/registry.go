package knowledge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
)

const defaultRegistrySize = 8

var versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Registry resolves knowledge-base versions. The embedded tables answer to "" and "default";
// other versions are read from <dir>/<version>/ on first use and kept in a bounded LRU.
type Registry struct {
	dir      string
	fallback *KnowledgeBase
	cache    *lru.Cache[string, *KnowledgeBase]
	loadMu   sync.Mutex
	logger   *logrus.Logger
}

// NewRegistry creates a registry over dir. An empty dir serves only the embedded version.
func NewRegistry(dir string, size int, logger *logrus.Logger) (*Registry, error) {
	if size <= 0 {
		size = defaultRegistrySize
	}
	cache, err := lru.New[string, *KnowledgeBase](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge cache: %w", err)
	}
	fallback, err := LoadDefault()
	if err != nil {
		return nil, err
	}
	return &Registry{
		dir:      dir,
		fallback: fallback,
		cache:    cache,
		logger:   logger,
	}, nil
}

// Default returns the embedded knowledge base.
func (r *Registry) Default() *KnowledgeBase {
	return r.fallback
}

// Get returns the knowledge base for version, loading it on a cache miss.
func (r *Registry) Get(version string) (*KnowledgeBase, error) {
	if version == "" || version == DefaultVersion {
		return r.fallback, nil
	}
	if !versionPattern.MatchString(version) {
		return nil, domain.NewValidationError("knowledge_version", "invalid version name", version)
	}
	if kb, ok := r.cache.Get(version); ok {
		return kb, nil
	}
	if r.dir == "" {
		return nil, fmt.Errorf("knowledge version %q: %w", version, domain.ErrNotFound)
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if kb, ok := r.cache.Get(version); ok {
		return kb, nil
	}

	kb, err := LoadDir(filepath.Join(r.dir, version), version)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("knowledge version %q: %w", version, domain.ErrNotFound)
		}
		return nil, err
	}
	evicted := r.cache.Add(version, kb)

	r.logger.WithFields(logrus.Fields{
		"version": version,
		"evicted": evicted,
		"cached":  r.cache.Len(),
	}).Info("Loaded knowledge base version")
	return kb, nil
}

// Versions lists the default version followed by every subdirectory of the registry dir.
func (r *Registry) Versions() ([]string, error) {
	versions := []string{DefaultVersion}
	if r.dir == "" {
		return versions, nil
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return versions, nil
		}
		return nil, fmt.Errorf("failed to list knowledge versions: %w", err)
	}
	var found []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != DefaultVersion && versionPattern.MatchString(e.Name()) {
			found = append(found, e.Name())
		}
	}
	sort.Strings(found)
	return append(versions, found...), nil
}
