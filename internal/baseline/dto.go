package baseline

import (
	"encoding/json"
	"time"

	"github.com/rohmanhakim/sitewatch/internal/domain"
)

// baselineDoc is the on-disk JSON shape for a Baseline. encoding/json
// sorts map[string]T keys alphabetically on marshal, so ContentHashes is
// written in key order; URLs is sorted by the producers
// (domain.NewURLSet, evolution.Evolve) before it ever reaches here.
// Struct fields are written in declaration order, which is not
// alphabetical; no key-sorting pass is applied to the document as a whole.
type baselineDoc struct {
	SiteID            string                           `json:"site_id"`
	SiteName          string                           `json:"site_name"`
	CreatedAt         time.Time                        `json:"created_at"`
	PreviousTimestamp *time.Time                       `json:"previous_timestamp,omitempty"`
	VersionTag        string                           `json:"version_tag"`
	EvolutionType     domain.EvolutionType             `json:"evolution_type"`
	URLs              []string                         `json:"urls"`
	ContentHashes     map[string]domain.ContentHashEntry `json:"content_hashes"`
	ChangeSummary     domain.ChangeSummary             `json:"change_summary"`
	SourceMethod      domain.Method                    `json:"source_method"`
	SitemapInfo       domain.SitemapInfo               `json:"sitemap_info"`
}

func toDoc(b domain.Baseline) baselineDoc {
	return baselineDoc{
		SiteID:            b.SiteID,
		SiteName:          b.SiteName,
		CreatedAt:         b.CreatedAt,
		PreviousTimestamp: b.PreviousTimestamp,
		VersionTag:        b.VersionTag,
		EvolutionType:     b.EvolutionType,
		URLs:              b.URLs,
		ContentHashes:     b.ContentHashes,
		ChangeSummary:     b.ChangeSummary,
		SourceMethod:      b.SourceMethod,
		SitemapInfo:       b.SitemapInfo,
	}
}

func (d baselineDoc) toDomain() domain.Baseline {
	return domain.Baseline{
		SiteID:            d.SiteID,
		SiteName:          d.SiteName,
		CreatedAt:         d.CreatedAt,
		PreviousTimestamp: d.PreviousTimestamp,
		VersionTag:        d.VersionTag,
		EvolutionType:     d.EvolutionType,
		URLs:              d.URLs,
		ContentHashes:     d.ContentHashes,
		ChangeSummary:     d.ChangeSummary,
		SourceMethod:      d.SourceMethod,
		SitemapInfo:       d.SitemapInfo,
	}
}

func marshalBaseline(b domain.Baseline) ([]byte, error) {
	return json.MarshalIndent(toDoc(b), "", "  ")
}

func unmarshalBaseline(data []byte) (domain.Baseline, error) {
	var doc baselineDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Baseline{}, err
	}
	return doc.toDomain(), nil
}

// eventDoc mirrors domain.BaselineEvent for the newline-delimited event
// log (spec.md 6: "append-only, newline-delimited, one BaselineEvent
// per line").
type eventDoc struct {
	EventID          string                    `json:"event_id"`
	SiteID           string                    `json:"site_id"`
	Timestamp        time.Time                 `json:"timestamp"`
	Kind             domain.BaselineEventKind  `json:"kind"`
	Counts           domain.ChangeSummary      `json:"counts"`
	PreviousID       string                    `json:"previous_id,omitempty"`
	NewID            string                    `json:"new_id,omitempty"`
	ValidationIssues []string                  `json:"validation_issues,omitempty"`
}

func marshalEvent(e domain.BaselineEvent) ([]byte, error) {
	return json.Marshal(eventDoc{
		EventID:          e.EventID,
		SiteID:           e.SiteID,
		Timestamp:        e.Timestamp,
		Kind:             e.Kind,
		Counts:           e.Counts,
		PreviousID:       e.PreviousID,
		NewID:            e.NewID,
		ValidationIssues: e.ValidationIssues,
	})
}
