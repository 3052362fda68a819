// Package classifier implements the Change Classifier (spec.md 4.5): a
// pure, total function over (baseline, current observation) that never
// fails. Upstream fetch failures surface as missing hashes, never as
// errors raised here.
package classifier

import (
	"sort"

	"github.com/rohmanhakim/sitewatch/internal/domain"
)

// Classify compares a baseline against a current observation and
// returns the classified change set, sorted by (kind, URL) for
// deterministic output files (spec.md 4.5).
//
// No I/O, no *rand, no clock read inside the comparison: detectedAt
// comes from current.ObservedAt, which the caller stamped before
// invoking Classify, so the result is reproducible given identical
// inputs (spec.md 8, property 4).
func Classify(baseline domain.Baseline, current domain.Observation) []domain.ChangeRecord {
	baselineURLs := make(map[string]struct{}, len(baseline.URLs))
	for _, u := range baseline.URLs {
		baselineURLs[u] = struct{}{}
	}

	records := make([]domain.ChangeRecord, 0)
	currentURLs := current.URLs.URLs()
	detectedAt := current.ObservedAt

	for _, u := range currentURLs {
		fp, hasFP := current.Fingerprints[u]
		_, inBaseline := baselineURLs[u]

		if fp.IgnoredAsset {
			if !inBaseline {
				records = append(records, domain.ChangeRecord{
					URL:        u,
					Kind:       domain.ChangeNewPage,
					DetectedAt: detectedAt,
					NewHash:    fp.Hash,
					FileType:   fp.FileType,
				})
				continue
			}
			records = append(records, domain.ChangeRecord{
				URL:        u,
				Kind:       domain.ChangeIgnoredFile,
				DetectedAt: detectedAt,
				FileType:   fp.FileType,
			})
			continue
		}

		if !inBaseline {
			newHash := ""
			if hasFP && fp.HasHash() {
				newHash = fp.Hash
			}
			records = append(records, domain.ChangeRecord{
				URL:        u,
				Kind:       domain.ChangeNewPage,
				DetectedAt: detectedAt,
				NewHash:    newHash,
			})
			continue
		}

		prevEntry, hasPrevHash := baseline.ContentHashes[u]
		if !hasFP || !fp.HasHash() || !hasPrevHash || prevEntry.Hash == "" {
			// Missing evidence on either side: no modification asserted.
			continue
		}
		if prevEntry.Hash != fp.Hash {
			records = append(records, domain.ChangeRecord{
				URL:        u,
				Kind:       domain.ChangeModifiedContent,
				DetectedAt: detectedAt,
				PrevHash:   prevEntry.Hash,
				NewHash:    fp.Hash,
			})
		}
		// else: identical hash, contributes only to the unchanged count.
	}

	for _, u := range baseline.URLs {
		if current.URLs.Contains(u) {
			continue
		}
		prevEntry := baseline.ContentHashes[u]
		records = append(records, domain.ChangeRecord{
			URL:        u,
			Kind:       domain.ChangeDeletedPage,
			DetectedAt: detectedAt,
			PrevHash:   prevEntry.Hash,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Kind != records[j].Kind {
			return records[i].Kind < records[j].Kind
		}
		return records[i].URL < records[j].URL
	})

	return records
}

// Summarize computes the aggregate counts spec.md 3 attaches to a
// baseline as change-summary. unchangedCount is passed in because it
// requires knowing the total URL universe, information Classify itself
// does not retain once it returns.
func Summarize(records []domain.ChangeRecord, unchangedCount int) domain.ChangeSummary {
	summary := domain.ChangeSummary{Unchanged: unchangedCount}
	for _, r := range records {
		switch r.Kind {
		case domain.ChangeNewPage:
			summary.New++
		case domain.ChangeDeletedPage:
			summary.Deleted++
		case domain.ChangeModifiedContent:
			summary.Modified++
		case domain.ChangeIgnoredFile:
			summary.Ignored++
		}
	}
	return summary
}

// CountUnchanged returns how many URLs present in both baseline and
// current observation were not emitted as a change record.
func CountUnchanged(baseline domain.Baseline, current domain.Observation, records []domain.ChangeRecord) int {
	changed := make(map[string]struct{}, len(records))
	for _, r := range records {
		changed[r.URL] = struct{}{}
	}
	baselineURLs := make(map[string]struct{}, len(baseline.URLs))
	for _, u := range baseline.URLs {
		baselineURLs[u] = struct{}{}
	}

	count := 0
	for _, u := range current.URLs.URLs() {
		if _, wasBaseline := baselineURLs[u]; !wasBaseline {
			continue
		}
		if _, wasChanged := changed[u]; wasChanged {
			continue
		}
		count++
	}
	return count
}
