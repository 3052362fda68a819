package fetcher

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rohmanhakim/sitewatch/pkg/retry"
)

// Fetcher is the bounded-concurrency HTTP client contract (spec.md 4.1):
// given a URL and a deadline, returns either a response or one of the
// typed FetchError causes.
type Fetcher interface {
	Fetch(
		ctx context.Context,
		crawlDepth int,
		fetchParam FetchParam,
		retryParam retry.RetryParam,
	) (FetchResult, *FetchError)
}

// Options configures an HTTPFetcher. Zero-value fields fall back to the
// defaults spec.md 4.1 recommends.
type Options struct {
	MaxConcurrentFetches int           // default 20
	FetchTimeout         time.Duration // default 15s connect+read
	RedirectCap          int           // default 10
	MaxBodyBytes         int64         // default 20 MiB
	BaseDelay            time.Duration // soft per-host minimum gap, default 100ms
	Jitter               time.Duration
	RandomSeed           int64
	ProxyURL             *url.URL // non-nil enables SOCKS5 (provider=tor)
	AllowProxyFallback   bool     // fall back to direct connection on proxy failure
}

func withDefaults(opts Options) Options {
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = 20
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.RedirectCap <= 0 {
		opts.RedirectCap = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 20 * 1024 * 1024
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	return opts
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"Connection":      "keep-alive",
	}
}

func isHTMLContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml")
}
