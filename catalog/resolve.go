package catalog

import "strings"

// Resolution is the outcome of resolving one textual function reference.
type Resolution struct {
	// Ref is the reference as given by the caller.
	Ref string

	// Entry is the resolved function, nil when the reference is missing.
	Entry *FunctionEntry

	// Ambiguous reports that several entries shared the identity and the
	// first deterministic candidate was chosen.
	Ambiguous bool
}

// Matched reports whether the reference resolved to an entry.
func (r Resolution) Matched() bool { return r.Entry != nil }

// specialNames are function names the planner may emit bare or with
// container-specific casing; they map to their canonical lowercase form.
var specialNames = map[string]string{
	"constructor": "constructor",
	"receive":     "receive",
	"fallback":    "fallback",
}

// Resolve maps a textual reference to at most one entry.
//
// Normalization: surrounding whitespace is stripped, a trailing "(…)"
// signature is split off, and constructor/receive/fallback map to their
// canonical names. A signature-exact match wins; otherwise the identity
// match applies; several identity matches return the first candidate in
// (file, line) order with Ambiguous set. An unmatched reference returns an
// empty Resolution for the caller to surface.
func (c *Catalog) Resolve(ref string) Resolution {
	res := Resolution{Ref: ref}

	name, sig := splitSignature(strings.TrimSpace(ref))
	if name == "" {
		return res
	}
	name = canonicalName(name)

	if sig != "" {
		if e, ok := c.byKey[name+"("+sig+")"]; ok {
			res.Entry = e
			return res
		}
	}

	candidates := c.byIdentity[name]
	switch len(candidates) {
	case 0:
		return res
	case 1:
		res.Entry = candidates[0]
	default:
		res.Entry = candidates[0]
		res.Ambiguous = true
	}
	return res
}

// ResolveAll classifies a reference list into matched resolutions plus the
// ambiguous and missing refs. Matched keeps the input order; planning feeds
// it straight into business_flow_code assembly.
func (c *Catalog) ResolveAll(refs []string) (matched []Resolution, ambiguous, missing []string) {
	for _, ref := range refs {
		r := c.Resolve(ref)
		switch {
		case !r.Matched():
			missing = append(missing, ref)
		case r.Ambiguous:
			ambiguous = append(ambiguous, ref)
			matched = append(matched, r)
		default:
			matched = append(matched, r)
		}
	}
	return matched, ambiguous, missing
}

// splitSignature separates "Container.name(sig)" into identity and signature.
// Signatures are normalized by removing interior spaces.
func splitSignature(ref string) (name, sig string) {
	open := strings.Index(ref, "(")
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return ref, ""
	}
	name = strings.TrimSpace(ref[:open])
	sig = strings.ReplaceAll(ref[open+1:len(ref)-1], " ", "")
	return name, sig
}

// canonicalName lowercases the constructor/receive/fallback tail while
// preserving the container segment.
func canonicalName(name string) string {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return name
	}
	tail := name[dot+1:]
	if canonical, ok := specialNames[strings.ToLower(tail)]; ok {
		return name[:dot+1] + canonical
	}
	return name
}
