package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntries() []FunctionEntry {
	return []FunctionEntry{
		{Container: "Vault", Name: "withdraw", Signature: "uint256", Visibility: "public", Body: "function withdraw(uint256 x) {}", RelativePath: "src/Vault.sol", StartLine: 30, EndLine: 40},
		{Container: "Vault", Name: "withdraw", Signature: "uint256,address", Visibility: "external", Body: "function withdraw(uint256 x, address to) {}", RelativePath: "src/Vault.sol", StartLine: 42, EndLine: 55},
		{Container: "Vault", Name: "deposit", Visibility: "public", Body: "function deposit() {}", RelativePath: "src/Vault.sol", StartLine: 10, EndLine: 20},
		{Container: "Token", Name: "Constructor", Visibility: "public", Body: "constructor() {}", RelativePath: "src/Token.sol", StartLine: 5, EndLine: 8},
		{Container: "Token", Name: "burn", Visibility: "internal", Body: "function burn() {}", RelativePath: "src/Token.sol", StartLine: 12, EndLine: 18},
	}
}

func TestResolveExact(t *testing.T) {
	c, err := New(testEntries())
	require.NoError(t, err)

	r := c.Resolve("Vault.deposit")
	require.True(t, r.Matched())
	assert.False(t, r.Ambiguous)
	assert.Equal(t, "Vault.deposit", r.Entry.Identity())
}

func TestResolveSignaturePreferred(t *testing.T) {
	c, err := New(testEntries())
	require.NoError(t, err)

	r := c.Resolve("Vault.withdraw(uint256, address)")
	require.True(t, r.Matched())
	assert.False(t, r.Ambiguous)
	assert.Equal(t, 42, r.Entry.StartLine)
}

func TestResolveAmbiguousDeterministic(t *testing.T) {
	c, err := New(testEntries())
	require.NoError(t, err)

	r := c.Resolve("Vault.withdraw")
	require.True(t, r.Matched())
	assert.True(t, r.Ambiguous)
	// First candidate in (file, line) order.
	assert.Equal(t, 30, r.Entry.StartLine)
}

func TestResolveSpecialNames(t *testing.T) {
	c, err := New(testEntries())
	require.NoError(t, err)

	r := c.Resolve("  Token.constructor  ")
	require.True(t, r.Matched())
	assert.Equal(t, "Token.Constructor", r.Entry.Identity())

	// ref and entry casing both normalize to the same canonical tail
	assert.True(t, c.Resolve("Token.Constructor").Matched())
	assert.True(t, c.Resolve("Token.CONSTRUCTOR").Matched())
	assert.True(t, c.Has("Token.constructor"))
}

func TestResolveMissing(t *testing.T) {
	c, err := New(testEntries())
	require.NoError(t, err)

	r := c.Resolve("Nope.nothing")
	assert.False(t, r.Matched())
}

func TestResolveAllClassification(t *testing.T) {
	c, err := New(testEntries())
	require.NoError(t, err)

	matched, ambiguous, missing := c.ResolveAll([]string{
		"Vault.deposit",
		"Vault.withdraw",
		"Ghost.fn",
	})
	assert.Len(t, matched, 2)
	assert.Equal(t, []string{"Vault.withdraw"}, ambiguous)
	assert.Equal(t, []string{"Ghost.fn"}, missing)
}

func TestNewRejectsMalformedEntry(t *testing.T) {
	_, err := New([]FunctionEntry{{Name: "orphan", RelativePath: "x.sol"}})
	require.Error(t, err)

	var cerr *CatalogError
	require.ErrorAs(t, err, &cerr)
}

func TestListDeterministicOrder(t *testing.T) {
	c, err := New(testEntries())
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 5)
	assert.Equal(t, "Token.Constructor", list[0].Identity())
	assert.Equal(t, "Vault.deposit", list[2].Identity())
	assert.Equal(t, 5, c.Len())
}

func TestKeysUniqueAndOrdered(t *testing.T) {
	c, err := New(testEntries())
	require.NoError(t, err)

	keys := c.Keys()
	assert.Len(t, keys, 5)
	assert.Contains(t, keys, "Vault.withdraw(uint256)")
	assert.Contains(t, keys, "Vault.withdraw(uint256,address)")
}

func TestSelectPublic(t *testing.T) {
	public := SelectPublic(testEntries())
	assert.Len(t, public, 4)
	for _, e := range public {
		assert.NotEqual(t, "burn", e.Name)
	}
}

func TestCatalogErrorMessage(t *testing.T) {
	err := &CatalogError{Reason: "bad span", Entry: "a.sol"}
	assert.Contains(t, err.Error(), "a.sol")
}
