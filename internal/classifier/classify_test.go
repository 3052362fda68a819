package classifier_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rohmanhakim/sitewatch/internal/classifier"
	"github.com/rohmanhakim/sitewatch/internal/domain"
)

func obs(fingerprints map[string]domain.ContentFingerprint, urls ...string) domain.Observation {
	return domain.Observation{
		URLs:         domain.NewURLSet(urls, domain.SitemapInfo{}),
		Fingerprints: fingerprints,
		ObservedAt:   time.Unix(1000, 0).UTC(),
	}
}

func TestClassifyNewPage(t *testing.T) {
	current := obs(map[string]domain.ContentFingerprint{
		"https://a.example.org/new": {URL: "https://a.example.org/new", Hash: "h1"},
	}, "https://a.example.org/new")

	records := classifier.Classify(domain.Baseline{}, current)
	assert.Len(t, records, 1)
	assert.Equal(t, domain.ChangeNewPage, records[0].Kind)
	assert.Equal(t, "h1", records[0].NewHash)
}

func TestClassifyModifiedContent(t *testing.T) {
	baseline := domain.Baseline{
		URLs:          []string{"https://a.example.org/p"},
		ContentHashes: map[string]domain.ContentHashEntry{"https://a.example.org/p": {Hash: "old"}},
	}
	current := obs(map[string]domain.ContentFingerprint{
		"https://a.example.org/p": {URL: "https://a.example.org/p", Hash: "new"},
	}, "https://a.example.org/p")

	records := classifier.Classify(baseline, current)
	assert.Len(t, records, 1)
	assert.Equal(t, domain.ChangeModifiedContent, records[0].Kind)
	assert.Equal(t, "old", records[0].PrevHash)
	assert.Equal(t, "new", records[0].NewHash)
}

func TestClassifyUnchangedProducesNoRecord(t *testing.T) {
	baseline := domain.Baseline{
		URLs:          []string{"https://a.example.org/p"},
		ContentHashes: map[string]domain.ContentHashEntry{"https://a.example.org/p": {Hash: "same"}},
	}
	current := obs(map[string]domain.ContentFingerprint{
		"https://a.example.org/p": {URL: "https://a.example.org/p", Hash: "same"},
	}, "https://a.example.org/p")

	records := classifier.Classify(baseline, current)
	assert.Empty(t, records)
}

func TestClassifyDeletedPage(t *testing.T) {
	baseline := domain.Baseline{
		URLs:          []string{"https://a.example.org/gone"},
		ContentHashes: map[string]domain.ContentHashEntry{"https://a.example.org/gone": {Hash: "h"}},
	}
	current := obs(nil)

	records := classifier.Classify(baseline, current)
	assert.Len(t, records, 1)
	assert.Equal(t, domain.ChangeDeletedPage, records[0].Kind)
	assert.Equal(t, "h", records[0].PrevHash)
}

func TestClassifyNewIgnoredAssetIsNewPage(t *testing.T) {
	current := obs(map[string]domain.ContentFingerprint{
		"https://a.example.org/doc.pdf": {URL: "https://a.example.org/doc.pdf", IgnoredAsset: true, FileType: "pdf"},
	}, "https://a.example.org/doc.pdf")

	records := classifier.Classify(domain.Baseline{}, current)
	assert.Len(t, records, 1)
	assert.Equal(t, domain.ChangeNewPage, records[0].Kind)
}

func TestClassifyExistingIgnoredAssetStaysIgnored(t *testing.T) {
	baseline := domain.Baseline{URLs: []string{"https://a.example.org/doc.pdf"}}
	current := obs(map[string]domain.ContentFingerprint{
		"https://a.example.org/doc.pdf": {URL: "https://a.example.org/doc.pdf", IgnoredAsset: true, FileType: "pdf"},
	}, "https://a.example.org/doc.pdf")

	records := classifier.Classify(baseline, current)
	assert.Len(t, records, 1)
	assert.Equal(t, domain.ChangeIgnoredFile, records[0].Kind)
}

func TestClassifyMissingHashAssertsNoModification(t *testing.T) {
	baseline := domain.Baseline{
		URLs:          []string{"https://a.example.org/p"},
		ContentHashes: map[string]domain.ContentHashEntry{"https://a.example.org/p": {Hash: "old"}},
	}
	current := obs(map[string]domain.ContentFingerprint{
		"https://a.example.org/p": {URL: "https://a.example.org/p", HTTPStatus: 503},
	}, "https://a.example.org/p")

	records := classifier.Classify(baseline, current)
	assert.Empty(t, records)
}

func TestClassifyOrdersByKindThenURL(t *testing.T) {
	baseline := domain.Baseline{
		URLs:          []string{"https://a.example.org/deleted", "https://a.example.org/z"},
		ContentHashes: map[string]domain.ContentHashEntry{"https://a.example.org/z": {Hash: "old"}},
	}
	current := obs(map[string]domain.ContentFingerprint{
		"https://a.example.org/new": {URL: "https://a.example.org/new", Hash: "h"},
		"https://a.example.org/z":   {URL: "https://a.example.org/z", Hash: "newz"},
	}, "https://a.example.org/new", "https://a.example.org/z")

	records := classifier.Classify(baseline, current)
	assert.Len(t, records, 3)
	assert.Equal(t, domain.ChangeDeletedPage, records[0].Kind)
	assert.Equal(t, domain.ChangeModifiedContent, records[1].Kind)
	assert.Equal(t, domain.ChangeNewPage, records[2].Kind)
}

func TestSummarizeCountsPerKind(t *testing.T) {
	records := []domain.ChangeRecord{
		{Kind: domain.ChangeNewPage},
		{Kind: domain.ChangeModifiedContent},
		{Kind: domain.ChangeModifiedContent},
		{Kind: domain.ChangeDeletedPage},
		{Kind: domain.ChangeIgnoredFile},
	}
	summary := classifier.Summarize(records, 7)
	assert.Equal(t, domain.ChangeSummary{New: 1, Deleted: 1, Modified: 2, Ignored: 1, Unchanged: 7}, summary)
}

func TestCountUnchangedExcludesChangedAndNewURLs(t *testing.T) {
	baseline := domain.Baseline{URLs: []string{"https://a.example.org/x", "https://a.example.org/y"}}
	current := obs(nil, "https://a.example.org/x", "https://a.example.org/y", "https://a.example.org/new")
	records := []domain.ChangeRecord{
		{URL: "https://a.example.org/y", Kind: domain.ChangeModifiedContent},
		{URL: "https://a.example.org/new", Kind: domain.ChangeNewPage},
	}
	assert.Equal(t, 1, classifier.CountUnchanged(baseline, current, records))
}
