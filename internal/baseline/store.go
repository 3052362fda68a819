// Package baseline implements the Baseline Store (spec.md 4.4): it
// persists and retrieves timestamped baselines per site, validates
// their structure, manages retention, and appends audit events. One
// directory per site under a configured root holds the baseline
// documents and a single append-only event log.
package baseline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/rohmanhakim/sitewatch/internal/domain"
	"github.com/rohmanhakim/sitewatch/internal/metadata"
	"github.com/rohmanhakim/sitewatch/pkg/fileutil"
	"github.com/rohmanhakim/sitewatch/pkg/hashutil"
)

// Store is the Baseline Store contract (spec.md 4.4).
type Store interface {
	Latest(siteID string) (*domain.Baseline, error)
	Save(siteID string, b domain.Baseline) (string, error)
	List(siteID string) ([]string, error)
	Load(siteID, baselineID string) (domain.Baseline, error)
	Validate(b domain.Baseline, previous *domain.Baseline) ValidationResult
	Prune(siteID string, keep int) error
	AppendEvent(siteID string, e domain.BaselineEvent) error
	// WithLock acquires the site's exclusive lock, waiting up to
	// busyWait, then runs fn while holding it.
	WithLock(ctx context.Context, siteID string, busyWait time.Duration, fn func() error) error
}

type LocalStore struct {
	rootDir      string
	metadataSink metadata.MetadataSink
}

func NewLocalStore(rootDir string, metadataSink metadata.MetadataSink) LocalStore {
	return LocalStore{rootDir: rootDir, metadataSink: metadataSink}
}

func (s LocalStore) siteDir(siteID string) string {
	return filepath.Join(s.rootDir, "baselines", siteID)
}

func (s LocalStore) lockPath(siteID string) string {
	return filepath.Join(s.siteDir(siteID), ".lock")
}

func (s LocalStore) eventLogPath(siteID string) string {
	return filepath.Join(s.siteDir(siteID), "events.ndjson")
}

// WithLock enforces single-entry-per-site (spec.md 5): it takes the
// site's exclusive flock, waiting up to busyWait, then runs fn. Lock
// acquisition failing after the wait surfaces LockError/BusySite
// (spec.md 7).
func (s LocalStore) WithLock(ctx context.Context, siteID string, busyWait time.Duration, fn func() error) error {
	if err := fileutil.EnsureDir(s.siteDir(siteID)); err != nil {
		return err
	}

	lock := flock.New(s.lockPath(siteID))
	lockCtx, cancel := context.WithTimeout(ctx, busyWait)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 200*time.Millisecond)
	if err != nil || !locked {
		return &LockError{SiteID: siteID, Waited: busyWait.String()}
	}
	defer lock.Unlock()

	return fn()
}

// Latest returns the most recently created baseline for siteID, or nil
// if the site has no baseline yet (spec.md 4.4: "latest(site-id) ->
// Baseline | none"). Ties on creation timestamp are broken
// lexicographically on identifier (spec.md 3).
func (s LocalStore) Latest(siteID string) (*domain.Baseline, error) {
	ids, err := s.List(siteID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	b, err := s.Load(siteID, ids[0])
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Save writes b atomically: temp file in the site's directory, fsync,
// rename (spec.md 4.4). The baseline identifier is returned for
// bookkeeping (event logs, report cross-references).
func (s LocalStore) Save(siteID string, b domain.Baseline) (string, error) {
	if err := fileutil.EnsureDir(s.siteDir(siteID)); err != nil {
		return "", s.wrapStoreError(err, ErrCauseWriteFailure, "SaveEnsureDir")
	}

	data, err := marshalBaseline(b)
	if err != nil {
		storeErr := &StoreError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
		s.recordError("Save", storeErr)
		return "", storeErr
	}

	shortHash, err := hashutil.HashBytes(data, hashutil.HashAlgoBLAKE3)
	if err != nil {
		storeErr := &StoreError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
		s.recordError("Save", storeErr)
		return "", storeErr
	}

	id := fmt.Sprintf("baseline_%s_%s", b.CreatedAt.UTC().Format("20060102T150405Z"), shortHash[:12])
	path := filepath.Join(s.siteDir(siteID), id+".json")

	if writeErr := fileutil.WriteFileAtomic(path, data, 0644); writeErr != nil {
		storeErr := &StoreError{Message: writeErr.Error(), Retryable: true, Cause: ErrCauseWriteFailure}
		s.recordError("Save", storeErr)
		return "", storeErr
	}

	s.metadataSink.RecordArtifact(path)
	return id, nil
}

// List returns baseline identifiers for siteID, sorted newest first
// (spec.md 4.4).
func (s LocalStore) List(siteID string) ([]string, error) {
	entries, err := os.ReadDir(s.siteDir(siteID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseReadFailure}
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "baseline_") && strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Load reads and decodes a single baseline by identifier.
func (s LocalStore) Load(siteID, baselineID string) (domain.Baseline, error) {
	path := filepath.Join(s.siteDir(siteID), baselineID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Baseline{}, &StoreError{Message: baselineID, Retryable: false, Cause: ErrCauseNotFound}
		}
		return domain.Baseline{}, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseReadFailure}
	}
	b, err := unmarshalBaseline(data)
	if err != nil {
		return domain.Baseline{}, &StoreError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	return b, nil
}

func (s LocalStore) Validate(b domain.Baseline, previous *domain.Baseline) ValidationResult {
	return Validate(b, previous)
}

// Prune retains the keep most recent baselines plus the initial
// baseline, removing the rest (spec.md 4.4).
func (s LocalStore) Prune(siteID string, keep int) error {
	ids, err := s.List(siteID)
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	if len(ids) <= keep+1 {
		return nil
	}

	initialID := ids[len(ids)-1]
	toKeep := make(map[string]struct{}, keep+1)
	for _, id := range ids[:keep] {
		toKeep[id] = struct{}{}
	}
	toKeep[initialID] = struct{}{}

	for _, id := range ids {
		if _, isKept := toKeep[id]; isKept {
			continue
		}
		path := filepath.Join(s.siteDir(siteID), id+".json")
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return &StoreError{Message: removeErr.Error(), Retryable: true, Cause: ErrCauseWriteFailure}
		}
	}
	return nil
}

// AppendEvent appends e to the site's event log under the caller's held
// lock, guaranteeing events appear in commit order (spec.md 5).
func (s LocalStore) AppendEvent(siteID string, e domain.BaselineEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	data, err := marshalEvent(e)
	if err != nil {
		return &StoreError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	if err := fileutil.EnsureDir(s.siteDir(siteID)); err != nil {
		return err
	}
	if err := fileutil.AppendLine(s.eventLogPath(siteID), data); err != nil {
		storeErr := &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteFailure}
		s.recordError("AppendEvent", storeErr)
		return storeErr
	}
	return nil
}

func (s LocalStore) recordError(action string, err *StoreError) {
	s.metadataSink.RecordError(time.Now(), "baseline", action, mapStoreErrorToMetadataCause(err), err.Error(), nil)
}

func (s LocalStore) wrapStoreError(err error, cause StoreErrorCause, action string) *StoreError {
	storeErr := &StoreError{Message: err.Error(), Retryable: true, Cause: cause}
	s.recordError(action, storeErr)
	return storeErr
}
