package parse

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowaudit/flowaudit/catalog"
)

// SidecarPath is the precomputed function inventory, relative to the
// workspace root. External tree-sitter tooling writes it for languages
// without a bundled grammar.
const SidecarPath = ".flowaudit/functions.json"

// sidecarSchemaVersion guards against stale tooling output.
const sidecarSchemaVersion = "functions_v1"

type sidecarFile struct {
	SchemaVersion string            `json:"schema_version"`
	Functions     []sidecarFunction `json:"functions"`
}

type sidecarFunction struct {
	Container        string `json:"container"`
	Name             string `json:"name"`
	Signature        string `json:"signature,omitempty"`
	Visibility       string `json:"visibility"`
	Body             string `json:"body"`
	StartLine        int    `json:"start_line"`
	EndLine          int    `json:"end_line"`
	RelativeFilePath string `json:"relative_file_path"`
	Language         string `json:"language,omitempty"`
}

// loadSidecar reads the sidecar inventory if present. It returns the
// entries plus the set of relative paths they cover, so the walker does not
// double-parse those files. A missing sidecar is not an error; a malformed
// one is a CatalogError.
func loadSidecar(workspaceRoot string) ([]catalog.FunctionEntry, map[string]bool, error) {
	path := filepath.Join(workspaceRoot, filepath.FromSlash(SidecarPath))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read sidecar: %w", err)
	}

	var f sidecarFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, &catalog.CatalogError{Reason: "malformed sidecar JSON: " + err.Error(), Entry: SidecarPath}
	}
	if f.SchemaVersion != sidecarSchemaVersion {
		return nil, nil, &catalog.CatalogError{
			Reason: fmt.Sprintf("unsupported sidecar schema_version %q", f.SchemaVersion),
			Entry:  SidecarPath,
		}
	}

	entries := make([]catalog.FunctionEntry, 0, len(f.Functions))
	covered := make(map[string]bool)
	for _, fn := range f.Functions {
		if fn.Container == "" || fn.Name == "" || fn.RelativeFilePath == "" {
			return nil, nil, &catalog.CatalogError{
				Reason: "sidecar function missing container, name, or file path",
				Entry:  SidecarPath,
			}
		}
		rel := filepath.ToSlash(fn.RelativeFilePath)
		entries = append(entries, catalog.FunctionEntry{
			Container:    fn.Container,
			Name:         fn.Name,
			Signature:    fn.Signature,
			Visibility:   fn.Visibility,
			Body:         fn.Body,
			StartLine:    fn.StartLine,
			EndLine:      fn.EndLine,
			RelativePath: rel,
			AbsolutePath: filepath.Join(workspaceRoot, filepath.FromSlash(rel)),
			Language:     fn.Language,
		})
		covered[rel] = true
	}
	return entries, covered, nil
}
