package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// CatalogError reports malformed parse data that cannot enter the catalog.
type CatalogError struct {
	Reason string
	Entry  string
}

func (e *CatalogError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("catalog: %s: %s", e.Entry, e.Reason)
	}
	return "catalog: " + e.Reason
}

// Catalog is the immutable function inventory for one project.
type Catalog struct {
	entries []FunctionEntry

	// byIdentity groups entries sharing a canonical Container.name, ordered
	// by (RelativePath, StartLine) so ambiguous resolution is deterministic.
	byIdentity map[string][]*FunctionEntry

	// byKey indexes the signature-qualified form.
	byKey map[string]*FunctionEntry
}

// New builds a catalog from parsed entries. Entries missing a container or
// name are rejected rather than silently dropped.
func New(entries []FunctionEntry) (*Catalog, error) {
	sorted := make([]FunctionEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RelativePath != sorted[j].RelativePath {
			return sorted[i].RelativePath < sorted[j].RelativePath
		}
		return sorted[i].StartLine < sorted[j].StartLine
	})

	c := &Catalog{
		entries:    sorted,
		byIdentity: make(map[string][]*FunctionEntry),
		byKey:      make(map[string]*FunctionEntry),
	}
	for i := range c.entries {
		e := &c.entries[i]
		if e.Container == "" || e.Name == "" {
			return nil, &CatalogError{Reason: "missing container or name", Entry: e.RelativePath}
		}
		// Index under the same canonical form Resolve applies to refs, so
		// a parsed "Constructor" still answers "Token.constructor".
		id := canonicalName(e.Identity())
		c.byIdentity[id] = append(c.byIdentity[id], e)
		key := id
		if e.Signature != "" {
			key = id + "(" + strings.ReplaceAll(e.Signature, " ", "") + ")"
		}
		if _, dup := c.byKey[key]; !dup {
			c.byKey[key] = e
		}
	}
	return c, nil
}

// Len returns the number of functions in the catalog.
func (c *Catalog) Len() int { return len(c.entries) }

// List returns all entries ordered by (RelativePath, StartLine).
func (c *Catalog) List() []*FunctionEntry {
	out := make([]*FunctionEntry, len(c.entries))
	for i := range c.entries {
		out[i] = &c.entries[i]
	}
	return out
}

// Keys returns every unique catalog key in listing order. Coverage is
// computed against this set.
func (c *Catalog) Keys() []string {
	out := make([]string, 0, len(c.entries))
	seen := make(map[string]bool, len(c.entries))
	for i := range c.entries {
		k := c.entries[i].Key()
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Has reports whether a textual reference resolves to at least one entry.
func (c *Catalog) Has(ref string) bool {
	return c.Resolve(ref).Matched()
}
