package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	keyDelimiter = ":"
	maxKeyLen    = 200
)

// KeyBuilder constructs deterministic cache keys from a namespace prefix and
// an ordered list of normalized components. Keys longer than maxKeyLen
// collapse to the prefix plus a content hash, keeping the prefix visible for
// observability while bounding key size.
type KeyBuilder struct{}

// NewKeyBuilder creates a KeyBuilder.
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{}
}

// Build joins prefix and components with a fixed delimiter, in call order.
func (kb *KeyBuilder) Build(prefix string, components ...string) string {
	return kb.BuildNamed(prefix, components, nil)
}

// BuildNamed joins prefix and positional components in call order, then
// name=value pairs sorted by name. Reordering the named map never changes
// the result.
func (kb *KeyBuilder) BuildNamed(prefix string, components []string, named map[string]string) string {
	parts := make([]string, 0, 1+len(components)+len(named))
	parts = append(parts, prefix)
	parts = append(parts, components...)

	if len(named) > 0 {
		names := make([]string, 0, len(named))
		for name := range named {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			parts = append(parts, name+"="+named[name])
		}
	}

	key := strings.Join(parts, keyDelimiter)
	if len(key) > maxKeyLen {
		sum := sha256.Sum256([]byte(key))
		return prefix + keyDelimiter + fmt.Sprintf("%x", sum)
	}
	return key
}

// FilesHash fingerprints a file list independent of its order. Results keyed
// by a file set embed this instead of the raw paths.
func FilesHash(files []string) string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	h := xxhash.New()
	for _, f := range sorted {
		h.WriteString(f)
		h.WriteString("\x00")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
