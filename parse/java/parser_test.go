package java

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowaudit/flowaudit/catalog"
)

const sample = `public class Bank {
    private long total;

    public Bank(long seed) { this.total = seed; }

    public long withdraw(long amount) { return amount; }

    void audit() {}

    public static class Ledger {
        public void record(long amount) {}
    }
}
`

func parseSample(t *testing.T) map[string]catalog.FunctionEntry {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "Bank.java")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	p := NewParser(root)
	result, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)

	byIdentity := make(map[string]catalog.FunctionEntry)
	for _, f := range result.Functions {
		byIdentity[f.Identity()] = f
	}
	return byIdentity
}

func TestParseFileMethodsAndConstructor(t *testing.T) {
	functions := parseSample(t)
	require.Len(t, functions, 4)

	ctor, ok := functions["Bank.constructor"]
	require.True(t, ok)
	assert.Equal(t, "public", ctor.Visibility)
	assert.Equal(t, "longseed", ctor.Signature)

	withdraw := functions["Bank.withdraw"]
	assert.Equal(t, "public", withdraw.Visibility)
	assert.Contains(t, withdraw.Body, "return amount")

	assert.Equal(t, "package", functions["Bank.audit"].Visibility)
}

func TestParseFileNestedClass(t *testing.T) {
	functions := parseSample(t)
	record, ok := functions["Ledger.record"]
	require.True(t, ok, "nested class methods keyed by inner class name")
	assert.Equal(t, "public", record.Visibility)
}
