// Package dataset resolves project workspaces from a dataset manifest and
// guarantees every resolved root stays inside the dataset base directory.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// ManifestName is the manifest file expected at the dataset base root.
const ManifestName = "datasets.json"

// ManifestEntry describes one project in the dataset manifest.
type ManifestEntry struct {
	// Path is the project directory relative to the dataset base.
	Path string `json:"path"`
}

// Manifest maps project IDs to their dataset entries.
type Manifest map[string]ManifestEntry

// LoadManifest reads and decodes a dataset manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, nil
}

// ProjectIDs returns the manifest's project IDs in sorted order.
func (m Manifest) ProjectIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
