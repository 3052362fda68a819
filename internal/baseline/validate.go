package baseline

import (
	"fmt"

	"github.com/rohmanhakim/sitewatch/internal/domain"
)

// Validate checks a candidate baseline against the structural invariants
// in spec.md 3 and the rules in spec.md 4.4. previous may be nil for an
// initial baseline; several warning checks are skipped in that case.
func Validate(b domain.Baseline, previous *domain.Baseline) ValidationResult {
	var issues []ValidationIssue

	if b.SiteID == "" {
		issues = append(issues, ValidationIssue{ValidationError, "missing site-id"})
	}

	seen := make(map[string]struct{}, len(b.URLs))
	duplicates := 0
	for _, u := range b.URLs {
		if _, ok := seen[u]; ok {
			duplicates++
			continue
		}
		seen[u] = struct{}{}
	}
	if duplicates > 0 {
		issues = append(issues, ValidationIssue{ValidationError, fmt.Sprintf("%d duplicate URLs", duplicates)})
	}

	declaresContent := b.SourceMethod == domain.MethodContent || b.SourceMethod == domain.MethodHybrid
	if declaresContent && len(b.URLs) != len(b.ContentHashes) {
		issues = append(issues, ValidationIssue{
			ValidationError,
			fmt.Sprintf("URL count (%d) != content-hash key count (%d) for content method", len(b.URLs), len(b.ContentHashes)),
		})
	}

	for u, entry := range b.ContentHashes {
		if entry.Hash == "" && entry.Length != 0 {
			issues = append(issues, ValidationIssue{ValidationError, fmt.Sprintf("empty hash with non-zero length for %s", u)})
		}
	}

	if previous != nil {
		if b.PreviousTimestamp != nil && b.PreviousTimestamp.After(b.CreatedAt) {
			issues = append(issues, ValidationIssue{ValidationWarning, "predecessor timestamp is in the future"})
		}
		issues = append(issues, checkAbruptSizeChange(len(previous.URLs), len(b.URLs))...)
	}

	return ValidationResult{Issues: issues}
}

func checkAbruptSizeChange(previousCount, currentCount int) []ValidationIssue {
	if previousCount == 0 {
		return nil
	}
	delta := currentCount - previousCount
	if delta < 0 {
		delta = -delta
	}
	if float64(delta)/float64(previousCount) > 0.5 {
		return []ValidationIssue{{
			ValidationWarning,
			fmt.Sprintf("abrupt URL count change: %d -> %d", previousCount, currentCount),
		}}
	}
	return nil
}
