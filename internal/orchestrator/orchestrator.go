// Package orchestrator coordinates one detection run across the
// configured sites: per active method it resolves the current URL set,
// fingerprints content, classifies changes against the stored
// baseline, evolves and commits the next baseline, and writes a change
// report (spec.md 4, 5, 6).
package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rohmanhakim/sitewatch/internal/baseline"
	"github.com/rohmanhakim/sitewatch/internal/classifier"
	"github.com/rohmanhakim/sitewatch/internal/domain"
	"github.com/rohmanhakim/sitewatch/internal/evolution"
	"github.com/rohmanhakim/sitewatch/internal/fetcher"
	"github.com/rohmanhakim/sitewatch/internal/fingerprint"
	"github.com/rohmanhakim/sitewatch/internal/metadata"
	"github.com/rohmanhakim/sitewatch/internal/report"
	"github.com/rohmanhakim/sitewatch/internal/sitemap"
	"github.com/rohmanhakim/sitewatch/pkg/retry"
)

// Deps bundles the collaborators a run needs. One Orchestrator serves
// every site in a process; the Fetcher's own semaphore is the only
// shared concurrency bound (spec.md 5: "a single global fetch
// concurrency limit, not a per-site one").
type Deps struct {
	Fetcher        fetcher.Fetcher
	Store          baseline.Store
	Metadata       metadata.MetadataSink
	Finalizer      metadata.CrawlFinalizer
	UserAgent      string
	RetryParam     retry.RetryParam
	BatchSize      int
	BusySiteWait   time.Duration
	OutputRoot     string
	RetentionCount int
}

// SiteResult summarizes the outcome of running every enabled method for
// one site.
type SiteResult struct {
	SiteID       string
	ReportPaths  []string
	TotalChanges int
	Err          error
}

// RunAll executes one pass over every active site, bounded by deadline
// (spec.md 5: "default 30 minutes" run deadline). Sites run
// concurrently; only the Fetcher's semaphore throttles actual network
// work, per spec.md 9 Open Question 1.
func RunAll(ctx context.Context, deps Deps, sites []domain.SiteConfig, runStartedAt time.Time) []SiteResult {
	results := make([]SiteResult, len(sites))
	var wg sync.WaitGroup
	for i, site := range sites {
		if !site.Active {
			results[i] = SiteResult{SiteID: site.SiteID}
			continue
		}
		wg.Add(1)
		go func(i int, site domain.SiteConfig) {
			defer wg.Done()
			results[i] = RunSite(ctx, deps, site, runStartedAt)
		}(i, site)
	}
	wg.Wait()
	return results
}

// RunSite runs every method site enables, serialized behind the site's
// exclusive lock (spec.md 5: "single-entry-per-site — a second
// invocation targeting a site already mid-run must not start a
// concurrent pass").
func RunSite(ctx context.Context, deps Deps, site domain.SiteConfig, runStartedAt time.Time) SiteResult {
	result := SiteResult{SiteID: site.SiteID}
	started := time.Now()

	lockErr := deps.Store.WithLock(ctx, site.SiteID, deps.BusySiteWait, func() error {
		for _, method := range site.Methods {
			path, changeCount, err := runMethod(ctx, deps, site, method, runStartedAt)
			if err != nil {
				deps.Metadata.RecordError(time.Now(), "orchestrator", "run_method", metadata.CauseInvariantViolation, err.Error(), []metadata.Attribute{
					{Key: metadata.AttrSiteID, Value: site.SiteID},
				})
				result.Err = err
				continue
			}
			if path != "" {
				result.ReportPaths = append(result.ReportPaths, path)
			}
			result.TotalChanges += changeCount
		}
		return nil
	})
	if lockErr != nil {
		result.Err = lockErr
	}

	totalErrors := 0
	if result.Err != nil {
		totalErrors = 1
	}
	deps.Finalizer.RecordFinalCrawlStats(site.SiteID, 0, totalErrors, result.TotalChanges, time.Since(started))
	return result
}

func runMethod(ctx context.Context, deps Deps, site domain.SiteConfig, method domain.Method, runStartedAt time.Time) (string, int, error) {
	current, err := observe(ctx, deps, site, method)
	if err != nil {
		return "", 0, err
	}

	previous, err := deps.Store.Latest(site.SiteID)
	if err != nil {
		return "", 0, err
	}

	changes := classifier.Classify(baselineOrEmpty(previous), current)
	next, shouldCommit := evolution.Evolve(site, method, previous, current, changes, false, time.Now())

	if !shouldCommit {
		return "", 0, nil
	}

	event := domain.BaselineEvent{
		SiteID:    site.SiteID,
		Timestamp: time.Now(),
		Counts:    next.ChangeSummary,
	}
	if previous != nil {
		event.PreviousID = previous.VersionTag
	}
	event.NewID = next.VersionTag

	// The run deadline (spec.md 5) may have expired while observe/
	// classify were running; a baseline built from a partial,
	// cancelled observation must never be committed.
	if ctx.Err() != nil {
		event.Kind = domain.EventRunAborted
		if appendErr := deps.Store.AppendEvent(site.SiteID, event); appendErr != nil {
			return "", 0, appendErr
		}
		return "", 0, fmt.Errorf("run aborted for %s/%s: %w", site.SiteID, method, ctx.Err())
	}

	validation := deps.Store.Validate(next, previous)

	if !validation.OK() {
		event.Kind = domain.EventValidationFailed
		event.ValidationIssues = validation.ErrorMessages()
		if appendErr := deps.Store.AppendEvent(site.SiteID, event); appendErr != nil {
			return "", 0, appendErr
		}
		return "", 0, fmt.Errorf("baseline validation failed for %s/%s: %v", site.SiteID, method, validation.ErrorMessages())
	}

	if _, saveErr := deps.Store.Save(site.SiteID, next); saveErr != nil {
		return "", 0, saveErr
	}

	if pruneErr := deps.Store.Prune(site.SiteID, deps.RetentionCount); pruneErr != nil {
		deps.Metadata.RecordError(time.Now(), "orchestrator", "prune", metadata.CauseStorageFailure, pruneErr.Error(), []metadata.Attribute{
			{Key: metadata.AttrSiteID, Value: site.SiteID},
		})
	}

	if previous == nil {
		event.Kind = domain.EventCreated
	} else {
		event.Kind = domain.EventUpdated
	}
	if appendErr := deps.Store.AppendEvent(site.SiteID, event); appendErr != nil {
		return "", 0, appendErr
	}

	runDir := report.RunDir(deps.OutputRoot, runStartedAt)
	doc := report.Document{
		Site:        site.Name,
		DetectedAt:  current.ObservedAt,
		Method:      method,
		Changes:     changes,
		Summary:     next.ChangeSummary,
		BaselineTag: next.VersionTag,
	}
	if previous != nil {
		doc.PreviousTag = previous.VersionTag
	}
	path, writeErr := report.Write(runDir, doc)
	if writeErr != nil {
		return "", 0, writeErr
	}

	return path, len(changes), nil
}

func observe(ctx context.Context, deps Deps, site domain.SiteConfig, method domain.Method) (domain.Observation, error) {
	now := time.Now()

	var urlSet domain.URLSet
	if method == domain.MethodSitemap || method == domain.MethodHybrid {
		entry, parseErr := url.Parse(site.SitemapEntryURL)
		if parseErr != nil {
			return domain.Observation{}, fmt.Errorf("invalid sitemap_entry_url for %s: %w", site.SiteID, parseErr)
		}
		resolved, sitemapErr := sitemap.Resolve(ctx, *entry, deps.Fetcher, deps.UserAgent, deps.RetryParam, deps.Metadata)
		if sitemapErr != nil {
			return domain.Observation{}, sitemapErr
		}
		urlSet = resolved
	} else {
		if previous, err := deps.Store.Latest(site.SiteID); err == nil && previous != nil {
			urlSet = domain.NewURLSet(previous.URLs, domain.SitemapInfo{})
		}
	}

	fingerprints := map[string]domain.ContentFingerprint{}
	if method == domain.MethodContent || method == domain.MethodHybrid {
		fp := fingerprint.New(deps.Fetcher, 0, deps.BatchSize, deps.UserAgent, deps.RetryParam)
		fingerprints = fp.FingerprintAll(ctx, urlSet.URLs(), nil)
	}

	return domain.Observation{URLs: urlSet, Fingerprints: fingerprints, ObservedAt: now}, nil
}

func baselineOrEmpty(b *domain.Baseline) domain.Baseline {
	if b == nil {
		return domain.Baseline{}
	}
	return *b
}
