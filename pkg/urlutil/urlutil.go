package urlutil

import (
	"net/url"
	"sort"
)

// Canonicalize strips the fragment from a URL and leaves everything else
// untouched — including trailing slashes and case, which are preserved
// as-authored to avoid false modifications (spec.md 4.2: "trailing
// slashes are preserved as-is"; 9.3: "normalizes by stripping fragments
// only, to minimize false positives").
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on run history
func Canonicalize(sourceUrl url.URL) url.URL {
	canonical := sourceUrl
	canonical.Fragment = ""
	canonical.RawFragment = ""
	return canonical
}

// SortedUnique returns the deduplicated, lexicographically sorted string
// form of urls, so that two runs over the same inputs produce
// byte-identical serialized URL sets (spec.md 4.2).
func SortedUnique(urls []url.URL) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		c := Canonicalize(u)
		s := c.String()
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
