package config

import (
	"fmt"

	"github.com/saworbit/zfsbackup/internal/backuperr"
	"github.com/saworbit/zfsbackup/internal/diffentry"
)

// StepKind tags which stage of one backup run a Step represents.
type StepKind string

const (
	StepDiff              StepKind = "diff"
	StepUpload            StepKind = "upload"
	StepUpdateHotMetadata StepKind = "update_hot_metadata"
)

// Step is the persisted tagged union capturing the resumable position
// inside one backup run. Exactly one of the kind-specific field groups is
// meaningful, selected by Kind; this mirrors the original's three-variant
// enum using a flat Go struct so it round-trips through JSON without a
// custom discriminator wrapper on every field.
type Step struct {
	Kind StepKind `json:"kind"`

	SnapshotName string `json:"snapshot_name"`

	// AllowEmpty is meaningful only when Kind == StepDiff.
	AllowEmpty bool `json:"allow_empty,omitempty"`

	// Diff and UploadedParts are meaningful only when Kind == StepUpload.
	Diff          []diffentry.Resolved `json:"diff,omitempty"`
	UploadedParts uint64               `json:"uploaded_parts,omitempty"`
}

// NewDiffStep builds the initial Step a backup run starts from.
func NewDiffStep(snapshotName string, allowEmpty bool) Step {
	return Step{Kind: StepDiff, SnapshotName: snapshotName, AllowEmpty: allowEmpty}
}

// NewUploadStep builds the Step produced once Diff has a non-empty (or
// explicitly allowed empty) change set.
func NewUploadStep(snapshotName string, diff []diffentry.Resolved) Step {
	return Step{Kind: StepUpload, SnapshotName: snapshotName, Diff: diff, UploadedParts: 0}
}

// NewUpdateHotMetadataStep builds the Step produced once every part has
// been uploaded.
func NewUpdateHotMetadataStep(snapshotName string) Step {
	return Step{Kind: StepUpdateHotMetadata, SnapshotName: snapshotName}
}

// BackupData is the tool-owned, frequently-rewritten state file: the
// bucket/region the dataset backs up to, the last snapshot fully
// committed to hot metadata, and the in-progress step, if any.
type BackupData struct {
	Bucket                string  `json:"bucket"`
	Region                string  `json:"region"`
	LastCommittedSnapshot *string `json:"last_committed_snapshot,omitempty"`
	InProgressStep        *Step   `json:"in_progress_step,omitempty"`
}

// LoadBackupData reads a BackupData file from path.
func LoadBackupData(path string) (*BackupData, error) {
	var data BackupData
	if err := loadJSON(path, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", backuperr.ErrDataLoad, err)
	}
	return &data, nil
}

// Save atomically (re)writes d as pretty-printed JSON at path.
func (d *BackupData) Save(path string) error {
	return saveJSON(path, d)
}
