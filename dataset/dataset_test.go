package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, base, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(base, ManifestName), []byte(content), 0o644))
}

func TestResolveHappyPath(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "proj1", "src"), 0o755))
	writeManifest(t, base, `{"p1": {"path": "proj1"}}`)

	r, err := NewResolver(base)
	require.NoError(t, err)

	root, err := r.Resolve("p1")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root))

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, []string{"p1"}, r.Projects())
}

func TestResolveEscapeRejected(t *testing.T) {
	base := t.TempDir()
	writeManifest(t, base, `{"p1": {"path": "../../../etc"}}`)

	r, err := NewResolver(base)
	require.NoError(t, err)

	_, err = r.Resolve("p1")
	require.Error(t, err)

	var werr *WorkspaceError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "p1", werr.ProjectID)
}

func TestResolveSymlinkEscapeRejected(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(base, "link")))
	writeManifest(t, base, `{"p1": {"path": "link"}}`)

	r, err := NewResolver(base)
	require.NoError(t, err)

	_, err = r.Resolve("p1")
	var werr *WorkspaceError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "escapes dataset base", werr.Reason)
}

func TestResolveUnknownProject(t *testing.T) {
	base := t.TempDir()
	writeManifest(t, base, `{}`)

	r, err := NewResolver(base)
	require.NoError(t, err)

	_, err = r.Resolve("missing")
	var werr *WorkspaceError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "not in manifest", werr.Reason)
}

func TestResolveMissingDirectory(t *testing.T) {
	base := t.TempDir()
	writeManifest(t, base, `{"p1": {"path": "gone"}}`)

	r, err := NewResolver(base)
	require.NoError(t, err)

	_, err = r.Resolve("p1")
	var werr *WorkspaceError
	require.ErrorAs(t, err, &werr)
}

func TestNewResolverMissingManifest(t *testing.T) {
	base := t.TempDir()
	_, err := NewResolver(base)
	require.Error(t, err)
}

func TestWithManifestOverride(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "proj1"), 0o755))

	r, err := NewResolver(base, WithManifest(Manifest{"p1": {Path: "proj1"}}))
	require.NoError(t, err)

	root, err := r.Resolve("p1")
	require.NoError(t, err)
	assert.Contains(t, root, "proj1")
}
