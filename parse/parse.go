// Package parse extracts function inventories from project source trees.
//
// Languages with a bundled tree-sitter grammar register a FileParser via
// init(); everything else (Solidity, Move, Cairo, ...) is covered by a
// precomputed sidecar file produced by external tree-sitter tooling. Both
// paths produce catalog.FunctionEntry values.
package parse

import (
	"context"
	"sync"

	"github.com/flowaudit/flowaudit/catalog"
)

// Result holds the functions extracted from a single source file.
type Result struct {
	// Path is the file path relative to the workspace root, slash-separated.
	Path      string
	Language  string
	Functions []catalog.FunctionEntry
}

// FileParser extracts functions from one source file.
type FileParser interface {
	ParseFile(ctx context.Context, path string) (*Result, error)
}

// Factory creates a FileParser rooted at a workspace directory.
type Factory func(workspaceRoot string) FileParser

type registration struct {
	name    string
	factory Factory
}

// Registry maps file extensions to language parser factories. Safe for
// concurrent use; language packages register themselves in init().
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]registration
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]registration)}
}

// Register adds a factory for the given extensions (leading dot included).
// The first registration wins on extension conflicts.
func (r *Registry) Register(name string, extensions []string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range extensions {
		if _, exists := r.byExt[ext]; !exists {
			r.byExt[ext] = registration{name: name, factory: factory}
		}
	}
}

// ForExtension instantiates a parser for a file extension.
func (r *Registry) ForExtension(ext, workspaceRoot string) (FileParser, string, bool) {
	r.mu.RLock()
	reg, ok := r.byExt[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	return reg.factory(workspaceRoot), reg.name, true
}

// Extensions returns every registered extension.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// DefaultRegistry is the global parser registry.
var DefaultRegistry = NewRegistry()
