package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkspaceError reports an invalid or escaping workspace path. Planning,
// reasoning, and validation abort the affected project on this error and
// leave other projects untouched.
type WorkspaceError struct {
	ProjectID string
	Path      string
	Reason    string
	Err       error
}

func (e *WorkspaceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workspace %s (%s): %s: %v", e.ProjectID, e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("workspace %s (%s): %s", e.ProjectID, e.Path, e.Reason)
}

func (e *WorkspaceError) Unwrap() error { return e.Err }

// Resolver computes canonical workspace roots for manifest projects.
type Resolver struct {
	base     string
	manifest Manifest
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithManifest overrides the manifest instead of loading
// <dataset_base>/datasets.json.
func WithManifest(m Manifest) Option {
	return func(r *Resolver) { r.manifest = m }
}

// NewResolver canonicalizes the dataset base and loads its manifest. The
// base directory must exist.
func NewResolver(datasetBase string, opts ...Option) (*Resolver, error) {
	abs, err := filepath.Abs(datasetBase)
	if err != nil {
		return nil, fmt.Errorf("resolve dataset base: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize dataset base %s: %w", abs, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat dataset base: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset base is not a directory: %s", canonical)
	}

	r := &Resolver{base: canonical}
	for _, opt := range opts {
		opt(r)
	}

	if r.manifest == nil {
		m, err := LoadManifest(filepath.Join(canonical, ManifestName))
		if err != nil {
			return nil, err
		}
		r.manifest = m
	}
	return r, nil
}

// Base returns the canonical dataset base directory.
func (r *Resolver) Base() string { return r.base }

// Projects returns the manifest's project IDs in sorted order.
func (r *Resolver) Projects() []string { return r.manifest.ProjectIDs() }

// Resolve returns the canonical workspace root for a project. The root must
// exist, be a directory, and share the dataset base as path prefix.
func (r *Resolver) Resolve(projectID string) (string, error) {
	entry, ok := r.manifest[projectID]
	if !ok {
		return "", &WorkspaceError{ProjectID: projectID, Reason: "not in manifest"}
	}
	if entry.Path == "" {
		return "", &WorkspaceError{ProjectID: projectID, Reason: "empty path in manifest"}
	}

	joined := filepath.Join(r.base, entry.Path)
	root, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", &WorkspaceError{ProjectID: projectID, Path: joined, Reason: "cannot canonicalize", Err: err}
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", &WorkspaceError{ProjectID: projectID, Path: root, Reason: "cannot stat", Err: err}
	}
	if !info.IsDir() {
		return "", &WorkspaceError{ProjectID: projectID, Path: root, Reason: "not a directory"}
	}

	if !contained(r.base, root) {
		return "", &WorkspaceError{ProjectID: projectID, Path: root, Reason: "escapes dataset base"}
	}
	return root, nil
}

// contained reports whether path equals base or lives under it. Both inputs
// must already be canonical.
func contained(base, path string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}
