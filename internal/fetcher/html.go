package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/sync/semaphore"

	"github.com/rohmanhakim/sitewatch/internal/metadata"
	"github.com/rohmanhakim/sitewatch/pkg/failure"
	"github.com/rohmanhakim/sitewatch/pkg/limiter"
	"github.com/rohmanhakim/sitewatch/pkg/retry"
)

/*
Responsibilities

- Perform HTTP requests
- Apply headers and timeouts
- Bound in-flight requests with a process-wide semaphore
- Handle redirects safely, reporting the final URL
- Classify responses into the spec's typed failure taxonomy

The fetcher never parses content; it only returns bytes and metadata.
*/

// HTTPFetcher is the sole Fetcher implementation. One instance is shared
// process-wide (spec.md 5: "Fetcher semaphore (process-wide)"); sites run
// concurrently but draw from the same semaphore and rate limiter.
type HTTPFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	sem          *semaphore.Weighted
	rateLimiter  limiter.RateLimiter
	opts         Options

	proxyMu      sync.Mutex
	proxySuccess int
}

func NewHTTPFetcher(metadataSink metadata.MetadataSink, opts Options) (*HTTPFetcher, error) {
	opts = withDefaults(opts)

	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxConcurrentFetches,
	}

	if opts.ProxyURL != nil {
		dialer, err := proxy.SOCKS5("tcp", opts.ProxyURL.Host, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("fetcher: building SOCKS5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, dialErr := dialer.Dial(network, addr)
			if dialErr == nil {
				return conn, nil
			}
			if !opts.AllowProxyFallback {
				return nil, dialErr
			}
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   opts.FetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.RedirectCap {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	rateLimiter := limiter.NewConcurrentRateLimiter()
	rateLimiter.SetBaseDelay(opts.BaseDelay)
	rateLimiter.SetJitter(opts.Jitter)
	if opts.RandomSeed != 0 {
		rateLimiter.SetRandomSeed(opts.RandomSeed)
	}

	return &HTTPFetcher{
		metadataSink: metadataSink,
		httpClient:   client,
		sem:          semaphore.NewWeighted(int64(opts.MaxConcurrentFetches)),
		rateLimiter:  rateLimiter,
		opts:         opts,
	}, nil
}

func (h *HTTPFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, *FetchError) {
	callerMethod := "HTTPFetcher.Fetch"
	startTime := time.Now()

	result, err := h.fetchWithRetry(ctx, fetchParam.fetchUrl, fetchParam.userAgent, retryParam)

	duration := time.Since(startTime)

	var statusCode int
	var contentType string
	var retryCount int

	if err != nil {
		var retryErr *retry.RetryError
		var lastErr *FetchError
		if errors.As(err, &retryErr) || (errors.As(err, &lastErr) && lastErr.Retryable) {
			retryCount = retryParam.MaxAttempts
		}
	} else {
		statusCode = result.Code()
		contentType = result.ContentType()
	}

	h.metadataSink.RecordFetch(
		fetchParam.fetchUrl.String(),
		statusCode,
		duration,
		contentType,
		retryCount,
		crawlDepth,
	)

	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			h.recordFetchError(callerMethod, fetchParam.fetchUrl, fetchErr)
			return FetchResult{}, fetchErr
		}
		h.recordRetryError(callerMethod, fetchParam.fetchUrl, err)
		return FetchResult{}, &FetchError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseTimeout,
		}
	}

	return result, nil
}

func (h *HTTPFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, fetchError *FetchError) {
	h.metadataSink.RecordError(
		time.Now(),
		"fetcher",
		callerMethod,
		mapFetchErrorToMetadataCause(fetchError),
		fetchError.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			metadata.NewAttr(metadata.AttrHTTPStatus, fmt.Sprintf("%d", fetchError.StatusCode)),
		},
	)
}

func (h *HTTPFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			metadata.CauseRetryFailure,
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrMessage, retryError.Error()),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HTTPFetcher) fetchWithRetry(ctx context.Context, fetchUrl url.URL, userAgent string, retryParam retry.RetryParam) (FetchResult, failure.ClassifiedError) {
	var lastFetchErr *FetchError
	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		res, err := h.performFetch(ctx, fetchUrl, userAgent)
		if err != nil {
			errors.As(err, &lastFetchErr)
		}
		return res, err
	}

	result := retry.Retry(retryParam, fetchTask)
	if err := result.Err(); err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return FetchResult{}, fetchErr
		}
		// Retries exhausted: surface the last attempt's typed failure.
		if lastFetchErr != nil {
			h.recordRetryError("HTTPFetcher.Fetch", fetchUrl, err)
			return FetchResult{}, lastFetchErr
		}
		return FetchResult{}, err
	}

	return result.Value(), nil
}

func (h *HTTPFetcher) performFetch(ctx context.Context, fetchUrl url.URL, userAgent string) (FetchResult, failure.ClassifiedError) {
	host := fetchUrl.Hostname()

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("semaphore acquire: %v", err),
			Retryable: true,
			Cause:     ErrCauseTimeout,
		}
	}
	defer h.sem.Release(1)

	if delay := h.rateLimiter.ResolveDelay(host); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return FetchResult{}, &FetchError{
				Message:   "context cancelled while waiting for rate limiter",
				Retryable: false,
				Cause:     ErrCauseTimeout,
			}
		}
	}
	h.rateLimiter.MarkLastFetchAsNow(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCausePayloadDecodeFailed,
		}
	}

	headers := requestHeaders(userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.rateLimiter.Backoff(host)
		return FetchResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()
	h.rateLimiter.ResetBackoff(host)

	finalURL := fetchUrl
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = *resp.Request.URL
	}

	switch {
	case resp.StatusCode >= 500:
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("server error: %d", resp.StatusCode),
			Retryable:  true,
			Cause:      ErrCauseHTTPServerError,
			StatusCode: resp.StatusCode,
		}

	case resp.StatusCode == 429 || resp.StatusCode == 408:
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("retryable client status: %d", resp.StatusCode),
			Retryable:  true,
			Cause:      ErrCauseHTTPClientError,
			StatusCode: resp.StatusCode,
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("client error: %d", resp.StatusCode),
			Retryable:  false,
			Cause:      ErrCauseHTTPClientError,
			StatusCode: resp.StatusCode,
		}

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("redirect limit exceeded: %d", resp.StatusCode),
			Retryable:  false,
			Cause:      ErrCauseRedirectLimit,
			StatusCode: resp.StatusCode,
		}
	}

	contentType := resp.Header.Get("Content-Type")

	limited := io.LimitReader(resp.Body, h.opts.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("failed to read response body: %v", err),
			Retryable:  true,
			Cause:      ErrCausePayloadDecodeFailed,
			StatusCode: resp.StatusCode,
		}
	}
	if int64(len(body)) > h.opts.MaxBodyBytes {
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("response exceeds max body size %d", h.opts.MaxBodyBytes),
			Retryable:  false,
			Cause:      ErrCauseTooLarge,
			StatusCode: resp.StatusCode,
		}
	}

	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	if h.opts.ProxyURL != nil {
		h.maybeRotateIdentity()
	}

	return FetchResult{
		url:      fetchUrl,
		finalURL: finalURL,
		body:     body,
		fetchedAt: time.Now(),
		meta: ResponseMeta{
			statusCode:      resp.StatusCode,
			contentType:     contentType,
			responseHeaders: responseHeaders,
		},
	}, nil
}

// maybeRotateIdentity counts successful proxied fetches. It issues no
// rotation request itself; rotating the SOCKS5 circuit is left to the Tor
// control port out of process.
func (h *HTTPFetcher) maybeRotateIdentity() {
	h.proxyMu.Lock()
	defer h.proxyMu.Unlock()
	h.proxySuccess++
}

func classifyTransportError(err error) *FetchError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseTimeout}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseDNS}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseConnectionRefused}
		}
	}

	if isTLSError(err) {
		return &FetchError{Message: err.Error(), Retryable: false, Cause: ErrCauseTLSFailure}
	}

	return &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseConnectionRefused}
}

func isTLSError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:") || strings.Contains(msg, "certificate")
}
