package metadata

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Detection-run depth/scope

Logging Goals
- Debuggable run behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (site ID, run ID)
*/

// MetadataSink is the narrow write-side contract pipeline packages depend
// on. It never returns an error: observability must not become a second
// control-flow path for fetch/classify/evolve code.
type MetadataSink interface {
	RecordFetch(fetchURL string, statusCode int, duration time.Duration, contentType string, retryCount int, depth int)
	RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute)
	RecordArtifact(path string)
}

// CrawlFinalizer is invoked exactly once at the end of a detection run to
// record the terminal, derived summary. It must be constructed without
// reading back anything RecordFetch/RecordError accumulated — runStats is
// computed by the caller from its own counters.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(siteID string, totalURLs, totalErrors, totalChanges int, duration time.Duration)
}

// Recorder is a zerolog-backed implementation of MetadataSink and
// CrawlFinalizer. It holds no mutable state beyond the logger itself;
// every Record* call is an independent structured log line.
type Recorder struct {
	logger zerolog.Logger
}

// NewRecorder builds a Recorder writing structured JSON lines to w.
func NewRecorder(w io.Writer) Recorder {
	if w == nil {
		w = os.Stderr
	}
	return Recorder{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

func (r Recorder) RecordFetch(fetchURL string, statusCode int, duration time.Duration, contentType string, retryCount int, depth int) {
	r.logger.Info().
		Str("event", "fetch").
		Str("url", fetchURL).
		Int("status", statusCode).
		Dur("duration", duration).
		Str("content_type", contentType).
		Int("retry_count", retryCount).
		Int("depth", depth).
		Msg("fetch completed")
}

func (r Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	event := r.logger.Warn().
		Str("event", "error").
		Time("observed_at", observedAt).
		Str("package", packageName).
		Str("action", action).
		Str("cause", cause.String()).
		Str("error", errorString)

	for _, attr := range attrs {
		event = event.Str(string(attr.Key), attr.Value)
	}

	event.Msg("classified error")
}

func (r Recorder) RecordArtifact(path string) {
	r.logger.Info().
		Str("event", "artifact").
		Str("path", path).
		Msg("artifact written")
}

func (r Recorder) RecordFinalCrawlStats(siteID string, totalURLs, totalErrors, totalChanges int, duration time.Duration) {
	r.logger.Info().
		Str("event", "run_complete").
		Str("site_id", siteID).
		Int("total_urls", totalURLs).
		Int("total_errors", totalErrors).
		Int("total_changes", totalChanges).
		Dur("duration", duration).
		Msg("detection run finished")
}
