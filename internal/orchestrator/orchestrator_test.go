package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/sitewatch/internal/baseline"
	"github.com/rohmanhakim/sitewatch/internal/domain"
	"github.com/rohmanhakim/sitewatch/internal/fetcher"
	"github.com/rohmanhakim/sitewatch/internal/fingerprint"
	"github.com/rohmanhakim/sitewatch/internal/metadata"
	"github.com/rohmanhakim/sitewatch/internal/orchestrator"
	"github.com/rohmanhakim/sitewatch/pkg/retry"
	"github.com/rohmanhakim/sitewatch/pkg/timeutil"
)

type fakeStore struct {
	mu        sync.Mutex
	baselines map[string]domain.Baseline
	events    []domain.BaselineEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{baselines: map[string]domain.Baseline{}}
}

func (s *fakeStore) Latest(siteID string) (*domain.Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[siteID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *fakeStore) Save(siteID string, b domain.Baseline) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[siteID] = b
	return b.VersionTag, nil
}

func (s *fakeStore) List(siteID string) ([]string, error) { return nil, nil }

func (s *fakeStore) Load(siteID, baselineID string) (domain.Baseline, error) {
	return domain.Baseline{}, nil
}

func (s *fakeStore) Validate(b domain.Baseline, previous *domain.Baseline) baseline.ValidationResult {
	return baseline.Validate(b, previous)
}

func (s *fakeStore) Prune(siteID string, keep int) error { return nil }

func (s *fakeStore) AppendEvent(siteID string, e domain.BaselineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *fakeStore) WithLock(ctx context.Context, siteID string, busyWait time.Duration, fn func() error) error {
	return fn()
}

type page struct {
	body        string
	contentType string
}

type scriptedFetcher struct {
	pages map[string]page
}

func (f *scriptedFetcher) Fetch(ctx context.Context, crawlDepth int, param fetcher.FetchParam, retryParam retry.RetryParam) (fetcher.FetchResult, *fetcher.FetchError) {
	u := param.URL().String()
	p, ok := f.pages[u]
	if !ok {
		return fetcher.FetchResult{}, &fetcher.FetchError{Message: "not found", Cause: fetcher.ErrCauseHTTPClientError, StatusCode: 404}
	}
	return fetcher.NewFetchResultForTest(param.URL(), param.URL(), []byte(p.body), 200, p.contentType, nil, time.Now()), nil
}

func testRetryParam() retry.RetryParam {
	return retry.NewRetryParam(time.Millisecond, 0, 1, 1, timeutil.NewBackoffParam(time.Millisecond, 2.0, 10*time.Millisecond))
}

func baseDeps(t *testing.T, store *fakeStore, f *scriptedFetcher) orchestrator.Deps {
	recorder := metadata.NewRecorder(nil)
	return orchestrator.Deps{
		Fetcher:      f,
		Store:        store,
		Metadata:     recorder,
		Finalizer:    recorder,
		UserAgent:    "sitewatch-test",
		RetryParam:   testRetryParam(),
		BatchSize:    5,
		BusySiteWait: time.Second,
		OutputRoot:   t.TempDir(),
	}
}

func TestRunSiteCommitsUpdatedBaselineAndReport(t *testing.T) {
	site := domain.SiteConfig{
		SiteID:  "docs",
		Name:    "Docs",
		RootURL: "https://example.org",
		Methods: []domain.Method{domain.MethodContent},
		Active:  true,
	}
	store := newFakeStore()
	store.baselines["docs"] = domain.Baseline{
		SiteID:       "docs",
		SourceMethod: domain.MethodContent,
		URLs:         []string{"https://example.org/a"},
		ContentHashes: map[string]domain.ContentHashEntry{
			"https://example.org/a": {Hash: "stale"},
		},
	}
	f := &scriptedFetcher{pages: map[string]page{
		"https://example.org/a": {body: "<html><body>hello</body></html>", contentType: "text/html"},
	}}
	deps := baseDeps(t, store, f)

	result := orchestrator.RunSite(context.Background(), deps, site, time.Now())
	require.NoError(t, result.Err)
	assert.Equal(t, "docs", result.SiteID)
	assert.Len(t, result.ReportPaths, 1)
	assert.Equal(t, 1, result.TotalChanges)

	require.Len(t, store.events, 1)
	assert.Equal(t, domain.EventUpdated, store.events[0].Kind)
}

func TestRunAllSkipsInactiveSites(t *testing.T) {
	site := domain.SiteConfig{SiteID: "docs", Methods: []domain.Method{domain.MethodContent}, Active: false}
	store := newFakeStore()
	f := &scriptedFetcher{}
	deps := baseDeps(t, store, f)

	results := orchestrator.RunAll(context.Background(), deps, []domain.SiteConfig{site}, time.Now())
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Empty(t, results[0].ReportPaths)
}

func TestRunSiteWithNoChangesCommitsNothing(t *testing.T) {
	site := domain.SiteConfig{
		SiteID:  "docs",
		Name:    "Docs",
		Methods: []domain.Method{domain.MethodContent},
		Active:  true,
	}
	store := newFakeStore()
	f := &scriptedFetcher{pages: map[string]page{
		"https://example.org/a": {body: "<html><body>hello</body></html>", contentType: "text/html"},
	}}

	fp := fingerprint.New(f, 0, 5, "sitewatch-test", testRetryParam())
	fingerprints := fp.FingerprintAll(context.Background(), []string{"https://example.org/a"}, nil)
	current := fingerprints["https://example.org/a"]
	store.baselines["docs"] = domain.Baseline{
		SiteID:       "docs",
		SourceMethod: domain.MethodContent,
		URLs:         []string{"https://example.org/a"},
		ContentHashes: map[string]domain.ContentHashEntry{
			"https://example.org/a": {Hash: current.Hash, Length: current.ContentLen},
		},
	}
	deps := baseDeps(t, store, f)

	result := orchestrator.RunSite(context.Background(), deps, site, time.Now())
	require.NoError(t, result.Err)
	assert.Empty(t, result.ReportPaths)
	assert.Equal(t, 0, result.TotalChanges)
	assert.Empty(t, store.events)
}

func TestRunSiteAbortsCommitWhenRunDeadlineExceeded(t *testing.T) {
	site := domain.SiteConfig{
		SiteID:  "docs",
		Name:    "Docs",
		Methods: []domain.Method{domain.MethodContent},
		Active:  true,
	}
	store := newFakeStore()
	f := &scriptedFetcher{pages: map[string]page{
		"https://example.org/a": {body: "<html><body>hello</body></html>", contentType: "text/html"},
	}}
	deps := baseDeps(t, store, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := orchestrator.RunSite(ctx, deps, site, time.Now())
	require.Error(t, result.Err)
	assert.Empty(t, result.ReportPaths)
	assert.Empty(t, store.baselines)
	require.Len(t, store.events, 1)
	assert.Equal(t, domain.EventRunAborted, store.events[0].Kind)
}
