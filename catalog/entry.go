// Package catalog holds the per-project function inventory built from parsed
// source and resolves textual function references to concrete entries.
//
// Identities follow the Container.name form, optionally suffixed with a
// parameter signature to disambiguate overloads: "Vault.withdraw" or
// "Vault.withdraw(uint256,address)".
package catalog

import (
	"fmt"
	"strings"
)

// FunctionEntry is one function extracted from project source. The set is
// built once per project at planning start and stays immutable for the run.
type FunctionEntry struct {
	// Container is the contract, struct, class, or module owning the function.
	Container string

	// Name is the bare function name within its container.
	Name string

	// Signature is the comma-joined parameter list without parentheses,
	// empty when the parser does not extract one.
	Signature string

	Visibility string
	Body       string
	StartLine  int
	EndLine    int

	RelativePath string
	AbsolutePath string
	Language     string
}

// Identity returns the canonical Container.name form.
func (e *FunctionEntry) Identity() string {
	return e.Container + "." + e.Name
}

// Key returns the unique catalog key: the identity plus the signature when
// one is present. Two overloads always have distinct keys.
func (e *FunctionEntry) Key() string {
	if e.Signature == "" {
		return e.Identity()
	}
	return fmt.Sprintf("%s.%s(%s)", e.Container, e.Name, e.Signature)
}

// publicVisibilities covers the per-language spellings treated as externally
// reachable. Move's public(friend) counts: friend modules cross the trust
// boundary being audited.
var publicVisibilities = map[string]bool{
	"public":         true,
	"external":       true,
	"pub":            true,
	"public(friend)": true,
}

// SelectPublic keeps only externally reachable functions.
func SelectPublic(entries []FunctionEntry) []FunctionEntry {
	out := make([]FunctionEntry, 0, len(entries))
	for _, e := range entries {
		if publicVisibilities[strings.ToLower(strings.TrimSpace(e.Visibility))] {
			out = append(out, e)
		}
	}
	return out
}
