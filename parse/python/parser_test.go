package python

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowaudit/flowaudit/catalog"
)

const sample = `class Vault:
    def __init__(self, owner):
        self.owner = owner

    def withdraw(self, amount):
        return amount

    def _sweep(self):
        pass

def helper(x):
    return x
`

func parseSample(t *testing.T) []catalog.FunctionEntry {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "vault.py")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	p := NewParser(root)
	result, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	return result.Functions
}

func TestParseFileExtractsMethods(t *testing.T) {
	functions := parseSample(t)
	require.Len(t, functions, 4)

	byIdentity := make(map[string]catalog.FunctionEntry)
	for _, f := range functions {
		byIdentity[f.Identity()] = f
	}

	ctor, ok := byIdentity["Vault.constructor"]
	require.True(t, ok, "__init__ maps to constructor")
	assert.Equal(t, "public", ctor.Visibility)
	assert.Equal(t, "owner", ctor.Signature)

	withdraw := byIdentity["Vault.withdraw"]
	assert.Equal(t, "amount", withdraw.Signature)
	assert.Contains(t, withdraw.Body, "return amount")
	assert.Equal(t, 5, withdraw.StartLine)

	assert.Equal(t, "private", byIdentity["Vault._sweep"].Visibility)

	helper := byIdentity["vault.helper"]
	assert.Equal(t, "public", helper.Visibility)
	assert.Equal(t, "python", helper.Language)
}

func TestParseFileRelativePaths(t *testing.T) {
	functions := parseSample(t)
	for _, f := range functions {
		assert.Equal(t, "vault.py", f.RelativePath)
		assert.True(t, filepath.IsAbs(f.AbsolutePath))
	}
}
