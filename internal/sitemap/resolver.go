// Package sitemap implements the Sitemap Resolver (spec.md 4.2):
// expanding a sitemap entry point (single sitemap or sitemap index)
// into a deduplicated URL set, tolerant of malformed or unknown
// elements in the source document.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rohmanhakim/sitewatch/internal/domain"
	"github.com/rohmanhakim/sitewatch/internal/fetcher"
	"github.com/rohmanhakim/sitewatch/internal/metadata"
	"github.com/rohmanhakim/sitewatch/pkg/retry"
	"github.com/rohmanhakim/sitewatch/pkg/urlutil"
)

// Resolve fetches entryURL, parses it as XML tolerantly, and returns a
// deduplicated, sorted URLSet. Child sitemaps of a sitemap index are
// fetched in parallel through an errgroup, bounded by the Fetcher's own
// process-wide semaphore (spec.md 4.2, 5).
func Resolve(
	ctx context.Context,
	entryURL url.URL,
	f fetcher.Fetcher,
	userAgent string,
	retryParam retry.RetryParam,
	metadataSink metadata.MetadataSink,
) (domain.URLSet, *SitemapError) {
	result, err := f.Fetch(ctx, 0, fetcher.NewFetchParam(entryURL, userAgent), retryParam)
	if err != nil {
		return domain.URLSet{}, &SitemapError{
			Message:   fmt.Sprintf("fetching sitemap entry %s: %v", entryURL.String(), err),
			Retryable: err.Retryable,
			Cause:     ErrCauseEntryFetchFailed,
		}
	}

	root, locs, parseErr := parseSitemapDocument(result.Body())
	if parseErr != nil && len(locs) == 0 {
		return domain.URLSet{}, &SitemapError{
			Message:   fmt.Sprintf("parsing sitemap entry %s: %v", entryURL.String(), parseErr),
			Retryable: false,
			Cause:     ErrCauseMalformedXML,
		}
	}

	if root != rootSitemapIndex {
		return domain.NewURLSet(locs, domain.SitemapInfo{
			Kind:      domain.SitemapKindSingle,
			FetchedAt: time.Now(),
		}), nil
	}

	statuses := make([]domain.ChildSitemapStatus, len(locs))
	allURLs := make([][]string, len(locs))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, childURLStr := range locs {
		i, childURLStr := i, childURLStr
		group.Go(func() error {
			childURL, parseURLErr := url.Parse(childURLStr)
			if parseURLErr != nil {
				statuses[i] = domain.ChildSitemapStatus{URL: childURLStr, Status: "error", Reason: parseURLErr.Error()}
				return nil
			}

			childResult, fetchErr := f.Fetch(groupCtx, 1, fetcher.NewFetchParam(*childURL, userAgent), retryParam)
			if fetchErr != nil {
				statuses[i] = domain.ChildSitemapStatus{URL: childURLStr, Status: "error", Reason: fetchErr.Error()}
				metadataSink.RecordError(time.Now(), "sitemap", "Resolve", mapSitemapErrorToMetadataCause(&SitemapError{Cause: ErrCauseEntryFetchFailed}), fetchErr.Error(), []metadata.Attribute{
					metadata.NewAttr(metadata.AttrURL, childURLStr),
				})
				return nil
			}

			_, childLocs, _ := parseSitemapDocument(childResult.Body())
			allURLs[i] = childLocs
			statuses[i] = domain.ChildSitemapStatus{URL: childURLStr, Status: "ok"}
			return nil
		})
	}
	// errgroup.Group.Wait only ever returns an error from a Go func that
	// itself returns one; this loop never returns non-nil, so the error
	// is deliberately discarded.
	_ = group.Wait()

	union := make([]string, 0)
	successCount := 0
	for i, urls := range allURLs {
		if statuses[i].Status == "ok" {
			successCount++
		}
		union = append(union, urls...)
	}

	if successCount == 0 && len(locs) > 0 {
		return domain.URLSet{}, &SitemapError{
			Message:   fmt.Sprintf("all %d child sitemaps failed for %s", len(locs), entryURL.String()),
			Retryable: true,
			Cause:     ErrCauseAllChildrenFailed,
		}
	}

	return domain.NewURLSet(union, domain.SitemapInfo{
		Kind:          domain.SitemapKindIndex,
		ChildCount:    len(locs),
		ChildStatuses: statuses,
		FetchedAt:     time.Now(),
	}), nil
}

type rootKind string

const (
	rootURLSet       rootKind = "urlset"
	rootSitemapIndex rootKind = "sitemapindex"
	rootUnknown      rootKind = ""
)

// parseSitemapDocument walks the XML token stream, tolerating unknown
// elements and namespaces and stopping only at the first unrecoverable
// token error — whatever <loc> values were already collected are
// returned alongside the error so a partially malformed document still
// contributes URLs (spec.md 4.2: "parse as XML tolerantly").
func parseSitemapDocument(body []byte) (rootKind, []string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	var root rootKind
	var locs []string
	var inLoc bool
	var locBuf bytes.Buffer

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return root, locs, nil
		}
		if err != nil {
			return root, locs, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			local := t.Name.Local
			if root == rootUnknown {
				switch local {
				case string(rootURLSet):
					root = rootURLSet
				case string(rootSitemapIndex):
					root = rootSitemapIndex
				}
			}
			if local == "loc" {
				inLoc = true
				locBuf.Reset()
			}
		case xml.CharData:
			if inLoc {
				locBuf.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "loc" && inLoc {
				inLoc = false
				loc := locBuf.String()
				if loc != "" {
					locs = append(locs, canonicalizeLoc(loc))
				}
			}
		}
	}
}

func canonicalizeLoc(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	c := urlutil.Canonicalize(*u)
	return c.String()
}
