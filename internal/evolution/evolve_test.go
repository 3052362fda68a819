package evolution_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/sitewatch/internal/classifier"
	"github.com/rohmanhakim/sitewatch/internal/domain"
	"github.com/rohmanhakim/sitewatch/internal/evolution"
)

var site = domain.SiteConfig{SiteID: "docs", Name: "Docs"}

func TestEvolveInitialBaselineFromObservation(t *testing.T) {
	now := time.Unix(2000, 0).UTC()
	current := domain.Observation{
		URLs: domain.NewURLSet([]string{"https://a.example.org/x"}, domain.SitemapInfo{}),
		Fingerprints: map[string]domain.ContentFingerprint{
			"https://a.example.org/x": {URL: "https://a.example.org/x", Hash: "h1", ContentLen: 10},
		},
		ObservedAt: now,
	}

	next, shouldCommit := evolution.Evolve(site, domain.MethodContent, nil, current, nil, false, now)
	require.True(t, shouldCommit)
	assert.Equal(t, domain.EvolutionInitial, next.EvolutionType)
	assert.Equal(t, "docs", next.SiteID)
	assert.Equal(t, []string{"https://a.example.org/x"}, next.URLs)
	assert.Equal(t, "h1", next.ContentHashes["https://a.example.org/x"].Hash)
	assert.Nil(t, next.PreviousTimestamp)
}

func TestEvolveWithNoChangesDoesNotCommit(t *testing.T) {
	previousCreated := time.Unix(1000, 0).UTC()
	previous := &domain.Baseline{
		SiteID:        "docs",
		CreatedAt:     previousCreated,
		URLs:          []string{"https://a.example.org/x"},
		ContentHashes: map[string]domain.ContentHashEntry{"https://a.example.org/x": {Hash: "h1"}},
		SourceMethod:  domain.MethodContent,
	}
	current := domain.Observation{
		URLs: domain.NewURLSet([]string{"https://a.example.org/x"}, domain.SitemapInfo{}),
		Fingerprints: map[string]domain.ContentFingerprint{
			"https://a.example.org/x": {URL: "https://a.example.org/x", Hash: "h1"},
		},
		ObservedAt: time.Unix(2000, 0).UTC(),
	}

	_, shouldCommit := evolution.Evolve(site, domain.MethodContent, previous, current, nil, false, time.Unix(2000, 0).UTC())
	assert.False(t, shouldCommit)
}

func TestEvolveMergesModifiedDeletedAndNew(t *testing.T) {
	previousCreated := time.Unix(1000, 0).UTC()
	previous := &domain.Baseline{
		SiteID:    "docs",
		SiteName:  "Docs",
		CreatedAt: previousCreated,
		URLs:      []string{"https://a.example.org/keep", "https://a.example.org/gone"},
		ContentHashes: map[string]domain.ContentHashEntry{
			"https://a.example.org/keep": {Hash: "old-keep"},
			"https://a.example.org/gone": {Hash: "old-gone"},
		},
		SourceMethod: domain.MethodContent,
	}

	current := domain.Observation{
		URLs: domain.NewURLSet([]string{"https://a.example.org/keep", "https://a.example.org/new"}, domain.SitemapInfo{}),
		Fingerprints: map[string]domain.ContentFingerprint{
			"https://a.example.org/keep": {URL: "https://a.example.org/keep", Hash: "new-keep", ContentLen: 5},
			"https://a.example.org/new":  {URL: "https://a.example.org/new", Hash: "new-hash", ContentLen: 3},
		},
		ObservedAt: time.Unix(2000, 0).UTC(),
	}

	changes := classifier.Classify(*previous, current)
	next, shouldCommit := evolution.Evolve(site, domain.MethodContent, previous, current, changes, false, time.Unix(2000, 0).UTC())
	require.True(t, shouldCommit)

	assert.Equal(t, []string{"https://a.example.org/keep", "https://a.example.org/new"}, next.URLs)
	assert.Equal(t, "new-keep", next.ContentHashes["https://a.example.org/keep"].Hash)
	assert.Equal(t, "new-hash", next.ContentHashes["https://a.example.org/new"].Hash)
	_, goneStillPresent := next.ContentHashes["https://a.example.org/gone"]
	assert.False(t, goneStillPresent)
	assert.Equal(t, &previousCreated, next.PreviousTimestamp)
	assert.Equal(t, domain.EvolutionAutomaticUpdate, next.EvolutionType)
	assert.NotEqual(t, previous.VersionTag, next.VersionTag)
}

func TestEvolveForceRevalidateCommitsWithoutChanges(t *testing.T) {
	previous := &domain.Baseline{SiteID: "docs", CreatedAt: time.Unix(1000, 0).UTC(), SourceMethod: domain.MethodSitemap}
	current := domain.Observation{URLs: domain.NewURLSet(nil, domain.SitemapInfo{}), ObservedAt: time.Unix(2000, 0).UTC()}

	_, shouldCommit := evolution.Evolve(site, domain.MethodSitemap, previous, current, nil, true, time.Unix(2000, 0).UTC())
	assert.True(t, shouldCommit)
}

func TestEvolveIsIdempotentGivenIdenticalInputs(t *testing.T) {
	previous := &domain.Baseline{
		SiteID:        "docs",
		CreatedAt:     time.Unix(1000, 0).UTC(),
		URLs:          []string{"https://a.example.org/x"},
		ContentHashes: map[string]domain.ContentHashEntry{"https://a.example.org/x": {Hash: "h1"}},
		SourceMethod:  domain.MethodContent,
	}
	current := domain.Observation{
		URLs: domain.NewURLSet([]string{"https://a.example.org/x"}, domain.SitemapInfo{}),
		Fingerprints: map[string]domain.ContentFingerprint{
			"https://a.example.org/x": {URL: "https://a.example.org/x", Hash: "h2"},
		},
		ObservedAt: time.Unix(2000, 0).UTC(),
	}
	changes := classifier.Classify(*previous, current)
	now := time.Unix(3000, 0).UTC()

	first, _ := evolution.Evolve(site, domain.MethodContent, previous, current, changes, false, now)
	second, _ := evolution.Evolve(site, domain.MethodContent, previous, current, changes, false, now)

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.VersionTag)

	later, _ := evolution.Evolve(site, domain.MethodContent, previous, current, changes, false, time.Unix(9000, 0).UTC())
	assert.Equal(t, first.VersionTag, later.VersionTag, "VersionTag must depend on content, not CreatedAt")
}
