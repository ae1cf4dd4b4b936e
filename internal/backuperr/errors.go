// Package backuperr collects the sentinel error kinds named by the design,
// in the style the teacher uses throughout diff_integration.go: plain
// stdlib errors wrapped with fmt.Errorf("...: %w", err), checked with
// errors.Is / errors.As, no error-kind framework.
package backuperr

import "errors"

var (
	ErrConfigLoad               = errors.New("config load failed")
	ErrDataLoad                 = errors.New("backup data load failed")
	ErrDatasetUnmounted         = errors.New("dataset is not mounted")
	ErrSnapshotExists           = errors.New("snapshot already exists")
	ErrDuplicateSnapshotName    = errors.New("snapshot name already committed to hot metadata")
	ErrDiffToolFailed           = errors.New("diff tool invocation failed")
	ErrBadDiffFormat            = errors.New("diff line has unrecognized format")
	ErrPathEscapesMount         = errors.New("path does not fall under the dataset mount point")
	ErrUnsupportedKind          = errors.New("unsupported filesystem entry kind")
	ErrStatFailed               = errors.New("stat of changed file failed")
	ErrEncodeFailed             = errors.New("record encoding failed")
	ErrStreamIO                 = errors.New("stream I/O failed")
	ErrCipherFailed             = errors.New("authenticated cipher operation failed")
	ErrNonceExhausted           = errors.New("stream nonce counter exhausted")
	ErrIncompatibleChunkGeometry = errors.New("part size is not aligned to an integer number of cipher chunks")
	ErrObjectStoreTransient     = errors.New("object store request failed transiently")
	ErrObjectStoreFatal         = errors.New("object store request failed")
	ErrObjectExistsPrecondition = errors.New("object already exists, precondition treated as success")
	ErrHotMetadataCorrupt       = errors.New("hot metadata object is corrupt or undecodable")
	ErrConfigRemoteMismatch     = errors.New("local encryption config does not match the remote hot metadata")
	ErrPasswordMismatch         = errors.New("password does not match the stored content key")
	ErrStateSaveFailed          = errors.New("checkpoint save failed")
)
