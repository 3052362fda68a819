// Package fingerprint implements the Content Fingerprinter (spec.md
// 4.3): a canonicalization pipeline that turns a fetched HTML page into
// a stable hash, or a sentinel for non-2xx/non-HTML responses.
package fingerprint

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/sync/semaphore"

	"github.com/rohmanhakim/sitewatch/internal/domain"
	"github.com/rohmanhakim/sitewatch/internal/fetcher"
	"github.com/rohmanhakim/sitewatch/pkg/hashutil"
	"github.com/rohmanhakim/sitewatch/pkg/retry"
)

// Non-HTML file extensions short-circuit to ignored_file at the
// Classifier stage without being hashed (spec.md 4.3 step 2).
var ignoredExtensions = map[string]struct{}{
	"pdf": {}, "jpg": {}, "jpeg": {}, "png": {}, "gif": {},
	"svg": {}, "webp": {}, "doc": {}, "docx": {}, "xls": {},
	"xlsx": {}, "zip": {},
}

// removalSelectors are the elements stripped before hashing (spec.md
// 4.3 step 3).
var removalSelectors = []string{
	"script", "style", "nav", "header", "footer", "[role=navigation]",
}

var navLikeClassOrID = regexp.MustCompile(`(?i)nav|menu|footer|cookie`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Fingerprinter batches URLs with bounded concurrency: its own semaphore
// holds maxConcurrent slots (default 20), and every fetch it starts also
// passes through the Fetcher's own semaphore.
type Fingerprinter struct {
	f           fetcher.Fetcher
	sem         *semaphore.Weighted
	userAgent   string
	retryParam  retry.RetryParam
	batchSize   int
}

func New(f fetcher.Fetcher, maxConcurrent int, batchSize int, userAgent string, retryParam retry.RetryParam) Fingerprinter {
	if maxConcurrent <= 0 {
		maxConcurrent = 20
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return Fingerprinter{
		f:          f,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		userAgent:  userAgent,
		retryParam: retryParam,
		batchSize:  batchSize,
	}
}

// ProgressFunc is invoked at each batch boundary (spec.md 4.3:
// "Progress is reported at batch boundaries").
type ProgressFunc func(done, total int)

// FingerprintAll fetches and fingerprints every URL in urls, batching
// by Fingerprinter.batchSize.
func (fp Fingerprinter) FingerprintAll(ctx context.Context, urls []string, onProgress ProgressFunc) map[string]domain.ContentFingerprint {
	results := make(map[string]domain.ContentFingerprint, len(urls))
	done := 0

	for start := 0; start < len(urls); start += fp.batchSize {
		end := start + fp.batchSize
		if end > len(urls) {
			end = len(urls)
		}
		batch := urls[start:end]

		batchResults := make([]domain.ContentFingerprint, len(batch))
		var wg sync.WaitGroup
		for i, u := range batch {
			wg.Add(1)
			go func(i int, u string) {
				defer wg.Done()
				if err := fp.sem.Acquire(ctx, 1); err != nil {
					batchResults[i] = domain.ContentFingerprint{URL: u}
					return
				}
				defer fp.sem.Release(1)
				batchResults[i] = fp.one(ctx, u)
			}(i, u)
		}
		wg.Wait()

		for _, r := range batchResults {
			results[r.URL] = r
		}
		done += len(batch)
		if onProgress != nil {
			onProgress(done, len(urls))
		}
	}

	return results
}

func (fp Fingerprinter) one(ctx context.Context, rawURL string) domain.ContentFingerprint {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return domain.ContentFingerprint{URL: rawURL}
	}

	if ext, ignored := ignoredByExtension(parsed.Path); ignored {
		return domain.ContentFingerprint{
			URL:          rawURL,
			IgnoredAsset: true,
			FileType:     ext,
			FetchedAt:    time.Now(),
		}
	}

	result, fetchErr := fp.f.Fetch(ctx, 0, fetcher.NewFetchParam(*parsed, fp.userAgent), fp.retryParam)
	if fetchErr != nil {
		// Step 1: on non-2xx (or any fetch failure), return the sentinel;
		// the Classifier treats a missing hash as "unknown evidence".
		return domain.ContentFingerprint{
			URL:        rawURL,
			HTTPStatus: fetchErr.StatusCode,
			FetchedAt:  time.Now(),
		}
	}

	if ext, ignored := ignoredByContentType(result.ContentType()); ignored {
		return domain.ContentFingerprint{
			URL:          rawURL,
			IgnoredAsset: true,
			FileType:     ext,
			HTTPStatus:   result.Code(),
			FetchedAt:    result.FetchedAt(),
		}
	}

	canonicalText := canonicalize(result.Body())
	hash, hashErr := hashutil.HashBytes([]byte(canonicalText), hashutil.HashAlgoSHA256)
	if hashErr != nil {
		return domain.ContentFingerprint{
			URL:        rawURL,
			HTTPStatus: result.Code(),
			FetchedAt:  result.FetchedAt(),
		}
	}

	return domain.ContentFingerprint{
		URL:        rawURL,
		Hash:       hash,
		ContentLen: len(canonicalText),
		HTTPStatus: result.Code(),
		FetchedAt:  result.FetchedAt(),
	}
}

func ignoredByExtension(path string) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(pathExt(path)), ".")
	_, ok := ignoredExtensions[ext]
	return ext, ok
}

func pathExt(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}

func ignoredByContentType(contentType string) (string, bool) {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return "", false
	}
	return ct, true
}

// canonicalize implements spec.md 4.3 steps 3-4: parse leniently,
// remove boilerplate elements, collapse whitespace, join visible text
// in document order by a single newline.
func canonicalize(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	sel := goquery.NewDocumentFromNode(doc)

	for _, selector := range removalSelectors {
		sel.Find(selector).Remove()
	}
	sel.Find("*").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if navLikeClassOrID.MatchString(class) || navLikeClassOrID.MatchString(id) {
			s.Remove()
		}
	})

	var lines []string
	collectVisibleText(doc, &lines)

	return strings.Join(lines, "\n")
}

// collectVisibleText walks the DOM tree in document order, appending
// each non-empty text node's normalized content to lines. Walking the
// tree directly (rather than goquery's flattened .Contents() pass)
// keeps trailing text that follows a nested child element in its real
// document position (spec.md 4.3 step 4: "Concatenate the remaining
// visible text in document order").
func collectVisibleText(n *html.Node, lines *[]string) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		text := strings.TrimSpace(whitespaceRun.ReplaceAllString(n.Data, " "))
		if text != "" {
			*lines = append(*lines, text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectVisibleText(c, lines)
	}
}
