package baseline

import (
	"fmt"

	"github.com/rohmanhakim/sitewatch/internal/metadata"
	"github.com/rohmanhakim/sitewatch/pkg/failure"
)

type StoreErrorCause string

const (
	ErrCauseWriteFailure   StoreErrorCause = "write_failure"
	ErrCauseReadFailure    StoreErrorCause = "read_failure"
	ErrCauseNotFound       StoreErrorCause = "not_found"
	ErrCauseDecodeFailure  StoreErrorCause = "decode_failure"
)

// StoreError is raised for I/O and lookup failures against the Baseline
// Store — distinct from ValidationError, which covers structural
// invariant violations in a baseline's content (spec.md 7).
type StoreError struct {
	Message   string
	Retryable bool
	Cause     StoreErrorCause
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("baseline store error: %s: %s", e.Cause, e.Message)
}

func (e *StoreError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func mapStoreErrorToMetadataCause(err *StoreError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseNotFound:
		return metadata.CauseInvariantViolation
	default:
		return metadata.CauseStorageFailure
	}
}

// LockError is raised when a per-site lock cannot be acquired within
// the configured wait interval (spec.md 7: "Lock contention — callers
// wait up to a bounded interval (default 60 s) then fail BusySite").
type LockError struct {
	SiteID string
	Waited string
}

func (e *LockError) Error() string {
	return fmt.Sprintf("BusySite: site %s locked (waited %s)", e.SiteID, e.Waited)
}

func (e *LockError) Severity() failure.Severity {
	return failure.SeverityRecoverable
}

// ValidationIssue is one structural problem found by Validate.
type ValidationIssue struct {
	Level   ValidationLevel
	Message string
}

type ValidationLevel string

const (
	ValidationError   ValidationLevel = "error"
	ValidationWarning ValidationLevel = "warning"
)

// ValidationResult is the outcome of Store.Validate (spec.md 4.4:
// "validate(baseline) -> {ok | warnings | errors}").
type ValidationResult struct {
	Issues []ValidationIssue
}

func (r ValidationResult) OK() bool {
	return !r.HasErrors()
}

func (r ValidationResult) HasErrors() bool {
	for _, i := range r.Issues {
		if i.Level == ValidationError {
			return true
		}
	}
	return false
}

func (r ValidationResult) ErrorMessages() []string {
	var out []string
	for _, i := range r.Issues {
		if i.Level == ValidationError {
			out = append(out, i.Message)
		}
	}
	return out
}
