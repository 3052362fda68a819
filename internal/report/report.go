// Package report writes the per-site, per-method change report file
// spec.md 6 describes: one JSON document per run naming every
// classified change plus a summary, written under a timestamped run
// directory.
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rohmanhakim/sitewatch/internal/domain"
	"github.com/rohmanhakim/sitewatch/pkg/fileutil"
)

type changeDTO struct {
	URL        string            `json:"url"`
	Kind       domain.ChangeKind `json:"kind"`
	DetectedAt time.Time         `json:"detected_at"`
	PrevHash   string            `json:"prev_hash,omitempty"`
	NewHash    string            `json:"new_hash,omitempty"`
	FileType   string            `json:"file_type,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

type sourceMetadataDTO struct {
	BaselineVersionTag string `json:"baseline_version_tag"`
	PreviousVersionTag string `json:"previous_version_tag,omitempty"`
}

type documentDTO struct {
	Site           string               `json:"site"`
	DetectedAt     time.Time            `json:"detected_at"`
	Method         domain.Method        `json:"method"`
	Changes        []changeDTO          `json:"changes"`
	Summary        domain.ChangeSummary `json:"summary"`
	SourceMetadata sourceMetadataDTO    `json:"source_metadata"`
}

// Document is the in-memory form of a change report, built by the
// orchestrator from a Classify/Evolve result.
type Document struct {
	Site           string
	DetectedAt     time.Time
	Method         domain.Method
	Changes        []domain.ChangeRecord
	Summary        domain.ChangeSummary
	BaselineTag    string
	PreviousTag    string
}

// Write renders doc as indented JSON and writes it atomically under
// runDir, named "<site-name>_<method>_<YYYYMMDD_HHMMSS>.json" (spec.md
// 6). It returns the path written.
func Write(runDir string, doc Document) (string, error) {
	changes := make([]changeDTO, 0, len(doc.Changes))
	for _, c := range doc.Changes {
		changes = append(changes, changeDTO{
			URL:        c.URL,
			Kind:       c.Kind,
			DetectedAt: c.DetectedAt,
			PrevHash:   c.PrevHash,
			NewHash:    c.NewHash,
			FileType:   c.FileType,
			Detail:     c.Detail,
		})
	}

	out := documentDTO{
		Site:       doc.Site,
		DetectedAt: doc.DetectedAt,
		Method:     doc.Method,
		Changes:    changes,
		Summary:    doc.Summary,
		SourceMetadata: sourceMetadataDTO{
			BaselineVersionTag: doc.BaselineTag,
			PreviousVersionTag: doc.PreviousTag,
		},
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: encode: %w", err)
	}

	if err := fileutil.EnsureDir(runDir); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s_%s.json", doc.Site, doc.Method, doc.DetectedAt.UTC().Format("20060102_150405"))
	path := filepath.Join(runDir, name)
	if writeErr := fileutil.WriteFileAtomic(path, data, 0644); writeErr != nil {
		return "", writeErr
	}
	return path, nil
}

// RunDir builds the timestamped run directory a batch of reports from a
// single invocation shares (spec.md 6: "output/<run-timestamp>/").
func RunDir(outputRoot string, runStartedAt time.Time) string {
	return filepath.Join(outputRoot, runStartedAt.UTC().Format("20060102_150405"))
}
