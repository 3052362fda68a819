package sitemap

import (
	"fmt"

	"github.com/rohmanhakim/sitewatch/internal/metadata"
	"github.com/rohmanhakim/sitewatch/pkg/failure"
)

type SitemapErrorCause string

const (
	ErrCauseEntryFetchFailed SitemapErrorCause = "entry_fetch_failed"
	ErrCauseAllChildrenFailed SitemapErrorCause = "all_children_failed"
	ErrCauseMalformedXML     SitemapErrorCause = "malformed_xml"
)

// SitemapError is raised only on total failure (spec.md 4.2:
// "Total failure... surfaces SitemapUnavailable to the orchestrator").
// Per-child failures are recorded in ChildSitemapStatus, not raised.
type SitemapError struct {
	Message   string
	Retryable bool
	Cause     SitemapErrorCause
}

func (e *SitemapError) Error() string {
	return fmt.Sprintf("sitemap unavailable: %s: %s", e.Cause, e.Message)
}

func (e *SitemapError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func mapSitemapErrorToMetadataCause(err *SitemapError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseMalformedXML:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseNetworkFailure
	}
}
