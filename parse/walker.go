package parse

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/flowaudit/flowaudit/catalog"
)

// Options controls the workspace walk.
type Options struct {
	// IgnoreDirs lists directory names skipped anywhere in the tree.
	// ".git" is always skipped.
	IgnoreDirs []string

	// SkipGlobs are doublestar patterns matched against the slash-separated
	// relative path. Defaults to skipping Foundry test files ("**/*.t.sol").
	SkipGlobs []string

	// Registry defaults to DefaultRegistry.
	Registry *Registry

	Logger *slog.Logger
}

// DefaultSkipGlobs excludes test contract files from the inventory.
var DefaultSkipGlobs = []string{"**/*.t.sol"}

// Load extracts the full function inventory of a workspace: the sidecar
// first (when present), then every file with a registered language parser
// that the sidecar did not already cover. Per-file parser failures are
// logged and skipped; walk and sidecar failures abort.
func Load(ctx context.Context, workspaceRoot string, opts Options) ([]catalog.FunctionEntry, error) {
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	skipGlobs := opts.SkipGlobs
	if skipGlobs == nil {
		skipGlobs = DefaultSkipGlobs
	}

	ignore := map[string]bool{".git": true, ".flowaudit": true}
	for _, d := range opts.IgnoreDirs {
		if d != "" {
			ignore[d] = true
		}
	}

	entries, covered, err := loadSidecar(workspaceRoot)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		logger.Debug("loaded sidecar inventory", "functions", len(entries), "files", len(covered))
	}

	walkErr := filepath.WalkDir(workspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != workspaceRoot && ignore[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(workspaceRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if covered[rel] {
			return nil
		}
		for _, glob := range skipGlobs {
			if ok, _ := doublestar.Match(glob, rel); ok {
				return nil
			}
		}

		parser, lang, ok := reg.ForExtension(filepath.Ext(path), workspaceRoot)
		if !ok {
			return nil
		}

		result, err := parser.ParseFile(ctx, path)
		if err != nil {
			logger.Warn("parse failed, file skipped", "file", rel, "language", lang, "error", err)
			return nil
		}
		entries = append(entries, result.Functions...)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk workspace: %w", walkErr)
	}
	return entries, nil
}
