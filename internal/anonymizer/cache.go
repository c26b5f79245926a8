package anonymizer

import (
	"errors"
	"sync"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
)

const maxGenerateAttempts = 16

// ErrGeneratorExhausted is returned when a generator keeps producing values
// already issued to other originals
var ErrGeneratorExhausted = errors.New("identifier generator kept colliding")

// Generator produces a candidate replacement value
type Generator func() string

// IdentifierCache maps (field, original) to a replacement for one run.
// The same pair always yields the same replacement and two originals of the
// same field never share one.
type IdentifierCache struct {
	runID string

	mu     sync.RWMutex
	values map[string]map[string]string
	issued map[string]map[string]string
}

// NewIdentifierCache creates an empty cache scoped to runID
func NewIdentifierCache(runID string) *IdentifierCache {
	return &IdentifierCache{
		runID:  runID,
		values: make(map[string]map[string]string),
		issued: make(map[string]map[string]string),
	}
}

// RunID returns the scope the cache was created for
func (c *IdentifierCache) RunID() string {
	return c.runID
}

// Lookup returns an existing replacement without generating one
func (c *IdentifierCache) Lookup(field, original string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[field][original]
	return v, ok
}

// GetOrCreate returns the replacement for (field, original), generating and
// storing one atomically if absent
func (c *IdentifierCache) GetOrCreate(field, original string, gen Generator) (string, error) {
	if v, ok := c.Lookup(field, original); ok {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have won the race between the two locks
	if v, ok := c.values[field][original]; ok {
		return v, nil
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		candidate := gen()
		if owner, taken := c.issued[field][candidate]; taken && owner != original {
			continue
		}
		c.storeLocked(field, original, candidate)
		return candidate, nil
	}
	return "", ErrGeneratorExhausted
}

// Seed installs explicit mappings which take precedence over generated
// values. The mapping must be one-to-one and must not conflict with values
// already in the cache.
func (c *IdentifierCache) Seed(field string, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]string, len(mapping))
	for original, replacement := range mapping {
		if original == "" || replacement == "" {
			return models.ConfigError("%s map contains an empty key or value", field)
		}
		if other, dup := seen[replacement]; dup {
			return models.ConfigError("%s map assigns %q to both %q and %q", field, replacement, other, original)
		}
		seen[replacement] = original

		if existing, ok := c.values[field][original]; ok && existing != replacement {
			return models.ConfigError("%s %q already mapped to %q", field, original, existing)
		}
		if owner, taken := c.issued[field][replacement]; taken && owner != original {
			return models.ConfigError("%s value %q already issued to %q", field, replacement, owner)
		}
	}

	for original, replacement := range mapping {
		c.storeLocked(field, original, replacement)
	}
	return nil
}

// Pin maps every original to the same replacement. Unlike Seed it allows
// many originals to share one value, which is how an explicitly assigned
// patient id collapses aliases of one patient.
func (c *IdentifierCache) Pin(field, replacement string, originals ...string) error {
	if replacement == "" {
		return models.ConfigError("%s pin has an empty value", field)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pinned := make(map[string]bool, len(originals))
	for _, original := range originals {
		if original == "" {
			continue
		}
		pinned[original] = true
		if existing, ok := c.values[field][original]; ok && existing != replacement {
			return models.ConfigError("%s %q already mapped to %q", field, original, existing)
		}
	}
	if owner, taken := c.issued[field][replacement]; taken && !pinned[owner] {
		return models.ConfigError("%s value %q already issued to %q", field, replacement, owner)
	}

	for original := range pinned {
		c.storeLocked(field, original, replacement)
	}
	return nil
}

func (c *IdentifierCache) storeLocked(field, original, replacement string) {
	if c.values[field] == nil {
		c.values[field] = make(map[string]string)
		c.issued[field] = make(map[string]string)
	}
	c.values[field][original] = replacement
	c.issued[field][replacement] = original
}

// Len returns the number of cached mappings across all fields
func (c *IdentifierCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.values {
		n += len(m)
	}
	return n
}

// Snapshot returns a copy of the mappings keyed by field
func (c *IdentifierCache) Snapshot() map[string]map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]map[string]string, len(c.values))
	for field, m := range c.values {
		cp := make(map[string]string, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out[field] = cp
	}
	return out
}
