package fetcher

import (
	"fmt"

	"github.com/rohmanhakim/sitewatch/internal/metadata"
	"github.com/rohmanhakim/sitewatch/pkg/failure"
)

type FetchErrorCause string

// Typed failure taxonomy per spec.md 4.1: Timeout, DNS, ConnectionRefused,
// TLSFailure, HTTPClientError(code), HTTPServerError(code), TooLarge,
// PayloadDecodeFailed.
const (
	ErrCauseTimeout             FetchErrorCause = "timeout"
	ErrCauseDNS                 FetchErrorCause = "dns"
	ErrCauseConnectionRefused   FetchErrorCause = "connection_refused"
	ErrCauseTLSFailure          FetchErrorCause = "tls_failure"
	ErrCauseHTTPClientError     FetchErrorCause = "http_client_error"
	ErrCauseHTTPServerError     FetchErrorCause = "http_server_error"
	ErrCauseTooLarge            FetchErrorCause = "too_large"
	ErrCausePayloadDecodeFailed FetchErrorCause = "payload_decode_failed"
	ErrCauseRedirectLimit       FetchErrorCause = "redirect_limit_exceeded"
)

type FetchError struct {
	Message    string
	Retryable  bool
	Cause      FetchErrorCause
	StatusCode int
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetcher error: %s (status %d)", e.Cause, e.StatusCode)
	}
	return fmt.Sprintf("fetcher error: %s", e.Cause)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// IsRetryable returns whether this error is retryable. Per spec.md 7:
// transient fetch failures (timeouts, connection refused, 5xx, 408/429)
// are retried; permanent 4xx failures are not.
func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}

// mapFetchErrorToMetadataCause maps fetcher-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapFetchErrorToMetadataCause(err *FetchError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseTimeout, ErrCauseDNS, ErrCauseConnectionRefused, ErrCauseTLSFailure:
		return metadata.CauseNetworkFailure
	case ErrCauseHTTPClientError:
		if err.StatusCode == 403 || err.StatusCode == 429 {
			return metadata.CausePolicyDisallow
		}
		return metadata.CauseContentInvalid
	case ErrCauseHTTPServerError:
		return metadata.CauseNetworkFailure
	case ErrCauseTooLarge, ErrCausePayloadDecodeFailed:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
