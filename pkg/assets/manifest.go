// Package assets resolves client bundle names to the URLs pages load them
// from.
//
// The client build emits a manifest.json mapping bundle names to
// fingerprinted files:
//
//	{
//	  "main.js": "main.a1b2c3d4.js",
//	  "admin.js": "admin.e5f6a7b8.js"
//	}
//
// The manifest is read from disk or from S3, and a Resolver prefixes the
// resolved file with the path the build directory is served under:
//
//	r, _ := assets.Open(ctx, "s3://my-bucket/client/manifest.json", assets.DefaultPrefix, nil)
//	r.Asset("main.js") // "/build/client/main.a1b2c3d4.js"
package assets

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Manifest maps bundle names to fingerprinted file names.
// It is safe for concurrent use.
type Manifest struct {
	entries map[string]string
	mu      sync.RWMutex
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		entries: make(map[string]string),
	}
}

// Parse decodes manifest JSON of the form {"main.js": "main.abc123.js"}.
func Parse(data []byte) (*Manifest, error) {
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("assets: parse manifest: %w", err)
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	return &Manifest{entries: entries}, nil
}

// Load reads a manifest file from disk.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Resolve returns the fingerprinted name for source, or source itself when
// the manifest has no entry.
func (m *Manifest) Resolve(source string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if resolved, ok := m.entries[source]; ok {
		return resolved
	}
	return source
}

// Has reports whether the manifest contains source.
func (m *Manifest) Has(source string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.entries[source]
	return ok
}

// Set adds or updates an entry.
func (m *Manifest) Set(source, resolved string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[source] = resolved
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
