// Package evolution implements the Evolution Engine (spec.md 4.6): it
// merges a previous baseline, a current observation, and a classified
// change set into a candidate next baseline. It performs no I/O — the
// caller (internal/orchestrator) is responsible for validating and
// committing the result through the Baseline Store, mirroring the
// teacher's separation of pure transform from storage writes.
package evolution

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rohmanhakim/sitewatch/internal/classifier"
	"github.com/rohmanhakim/sitewatch/internal/domain"
	"github.com/rohmanhakim/sitewatch/pkg/hashutil"
)

// Evolve constructs next_baseline per spec.md 4.6's merge rules and
// reports whether the caller should commit it. It is idempotent: given
// identical inputs (and a fixed now), it produces a byte-identical
// baseline except for the creation timestamp field (spec.md 8,
// property 5).
func Evolve(
	site domain.SiteConfig,
	method domain.Method,
	previous *domain.Baseline,
	current domain.Observation,
	changes []domain.ChangeRecord,
	forceRevalidate bool,
	now time.Time,
) (domain.Baseline, bool) {
	if previous == nil {
		return initial(site, method, current, now), true
	}

	deleted := make(map[string]struct{})
	modified := make(map[string]string) // url -> new hash
	for _, c := range changes {
		switch c.Kind {
		case domain.ChangeDeletedPage:
			deleted[c.URL] = struct{}{}
		case domain.ChangeModifiedContent, domain.ChangeNewPage:
			if c.NewHash != "" {
				modified[c.URL] = c.NewHash
			}
		}
	}

	union := make(map[string]struct{}, len(previous.URLs)+current.URLs.Len())
	for _, u := range previous.URLs {
		union[u] = struct{}{}
	}
	for _, u := range current.URLs.URLs() {
		union[u] = struct{}{}
	}

	nextURLs := make([]string, 0, len(union))
	nextHashes := make(map[string]domain.ContentHashEntry, len(union))

	for u := range union {
		if _, isDeleted := deleted[u]; isDeleted {
			continue
		}
		nextURLs = append(nextURLs, u)

		if hash, ok := modified[u]; ok {
			length := 0
			if fp, hasFP := current.Fingerprints[u]; hasFP {
				length = fp.ContentLen
			}
			nextHashes[u] = domain.ContentHashEntry{Hash: hash, Length: length}
			continue
		}
		if prevEntry, ok := previous.ContentHashes[u]; ok {
			nextHashes[u] = prevEntry
			continue
		}
		if fp, ok := current.Fingerprints[u]; ok && fp.HasHash() {
			nextHashes[u] = domain.ContentHashEntry{Hash: fp.Hash, Length: fp.ContentLen}
		}
		// else: omitted — sitemap-only knowledge, no hash recorded.
	}

	sort.Strings(nextURLs)

	createdAt := previous.CreatedAt
	next := domain.Baseline{
		SiteID:            previous.SiteID,
		SiteName:          previous.SiteName,
		CreatedAt:         now,
		PreviousTimestamp: &createdAt,
		VersionTag:        versionTag(previous.SiteID, previous.SourceMethod, nextURLs, nextHashes),
		EvolutionType:     domain.EvolutionAutomaticUpdate,
		URLs:              nextURLs,
		ContentHashes:     nextHashes,
		ChangeSummary:     classifier.Summarize(changes, classifier.CountUnchanged(*previous, current, changes)),
		SourceMethod:      previous.SourceMethod,
		SitemapInfo:       current.URLs.Info,
	}

	shouldCommit := len(changes) > 0 || forceRevalidate
	return next, shouldCommit
}

// initial constructs the first baseline for a site directly from the
// current observation (spec.md 4.6, "initial-creation branch"); no
// change records are emitted for this run.
func initial(site domain.SiteConfig, method domain.Method, current domain.Observation, now time.Time) domain.Baseline {
	hashes := make(map[string]domain.ContentHashEntry, len(current.Fingerprints))
	for u, fp := range current.Fingerprints {
		if fp.HasHash() {
			hashes[u] = domain.ContentHashEntry{Hash: fp.Hash, Length: fp.ContentLen}
		}
	}
	urls := current.URLs.URLs()
	return domain.Baseline{
		SiteID:        site.SiteID,
		SiteName:      site.Name,
		CreatedAt:     now,
		VersionTag:    versionTag(site.SiteID, method, urls, hashes),
		EvolutionType: domain.EvolutionInitial,
		URLs:          urls,
		ContentHashes: hashes,
		SourceMethod:  method,
		SitemapInfo:   current.URLs.Info,
	}
}

// versionTag derives a baseline's identifier deterministically from its
// own content — site, method, URL set, and content hashes — rather than
// a random value, so that Evolve stays idempotent (spec.md 8, property
// 5: byte-identical output given identical inputs, modulo CreatedAt).
// Matches the baseline store's own convention of a BLAKE3 digest for
// content-derived identifiers (internal/baseline.Save's filename hash).
func versionTag(siteID string, method domain.Method, urls []string, hashes map[string]domain.ContentHashEntry) string {
	sorted := append([]string(nil), urls...)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(siteID)
	b.WriteByte('\n')
	b.WriteString(string(method))
	for _, u := range sorted {
		b.WriteByte('\n')
		b.WriteString(u)
		if entry, ok := hashes[u]; ok {
			b.WriteByte('=')
			b.WriteString(entry.Hash)
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(entry.Length))
		}
	}

	sum, err := hashutil.HashBytes([]byte(b.String()), hashutil.HashAlgoBLAKE3)
	if err != nil {
		// hashutil.HashAlgoBLAKE3 is always a supported algorithm.
		panic(err)
	}
	return "baseline-" + sum[:16]
}
