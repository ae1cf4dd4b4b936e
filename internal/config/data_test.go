package config

import (
	"path/filepath"
	"testing"

	"github.com/saworbit/zfsbackup/internal/diffentry"
)

func TestBackupDataSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	last := "snap0"
	step := NewUploadStep("snap1", []diffentry.Resolved{
		{Path: "a.txt", Kind: diffentry.RegularFile, Change: diffentry.Change[*diffentry.FileMetadata]{Kind: diffentry.Created}},
	})
	data := &BackupData{
		Bucket:                "my-bucket",
		Region:                "us-east-1",
		LastCommittedSnapshot: &last,
		InProgressStep:        &step,
	}

	if err := data.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := LoadBackupData(path)
	if err != nil {
		t.Fatalf("LoadBackupData() error = %v", err)
	}
	if got.Bucket != data.Bucket || got.Region != data.Region {
		t.Errorf("got bucket/region = %q/%q, want %q/%q", got.Bucket, got.Region, data.Bucket, data.Region)
	}
	if got.LastCommittedSnapshot == nil || *got.LastCommittedSnapshot != "snap0" {
		t.Errorf("LastCommittedSnapshot = %v, want snap0", got.LastCommittedSnapshot)
	}
	if got.InProgressStep == nil || got.InProgressStep.Kind != StepUpload {
		t.Fatalf("InProgressStep = %+v, want StepUpload", got.InProgressStep)
	}
	if len(got.InProgressStep.Diff) != 1 || got.InProgressStep.Diff[0].Path != "a.txt" {
		t.Errorf("InProgressStep.Diff = %+v, want one entry for a.txt", got.InProgressStep.Diff)
	}
}

func TestBackupDataWithNoInProgressStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	data := &BackupData{Bucket: "b", Region: "us-east-1"}
	if err := data.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := LoadBackupData(path)
	if err != nil {
		t.Fatalf("LoadBackupData() error = %v", err)
	}
	if got.LastCommittedSnapshot != nil {
		t.Errorf("LastCommittedSnapshot = %v, want nil", got.LastCommittedSnapshot)
	}
	if got.InProgressStep != nil {
		t.Errorf("InProgressStep = %+v, want nil", got.InProgressStep)
	}
}

func TestStepConstructors(t *testing.T) {
	diff := NewDiffStep("snap0", true)
	if diff.Kind != StepDiff || diff.SnapshotName != "snap0" || !diff.AllowEmpty {
		t.Errorf("NewDiffStep() = %+v", diff)
	}

	upload := NewUploadStep("snap0", nil)
	if upload.Kind != StepUpload || upload.UploadedParts != 0 {
		t.Errorf("NewUploadStep() = %+v", upload)
	}

	update := NewUpdateHotMetadataStep("snap0")
	if update.Kind != StepUpdateHotMetadata || update.SnapshotName != "snap0" {
		t.Errorf("NewUpdateHotMetadataStep() = %+v", update)
	}
}
