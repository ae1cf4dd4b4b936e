// Package backup wires together the diff, optimizer, upload-stream,
// stream-cipher, re-chunker, object-store, and hot-metadata packages into
// the three concrete step states (Diff, Upload, UpdateHotMetadata) the
// resumable driver (internal/retry) executes.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/saworbit/zfsbackup/internal/backuperr"
	"github.com/saworbit/zfsbackup/internal/config"
	"github.com/saworbit/zfsbackup/internal/diffentry"
	"github.com/saworbit/zfsbackup/internal/diffopt"
	"github.com/saworbit/zfsbackup/internal/hotmeta"
	"github.com/saworbit/zfsbackup/internal/integrity"
	"github.com/saworbit/zfsbackup/internal/keymaterial"
	"github.com/saworbit/zfsbackup/internal/logging"
	"github.com/saworbit/zfsbackup/internal/objectstore"
	"github.com/saworbit/zfsbackup/internal/rechunk"
	"github.com/saworbit/zfsbackup/internal/retry"
	"github.com/saworbit/zfsbackup/internal/streamcipher"
	"github.com/saworbit/zfsbackup/internal/uploadstream"
	"github.com/saworbit/zfsbackup/internal/zfssource"
)

// ManifestObjectKey returns the bucket key a snapshot's integrity manifest
// (its part digests and their Merkle root) is uploaded under, alongside its
// part objects.
func ManifestObjectKey(keyName string) string {
	return fmt.Sprintf("%s/%s/manifest", SnapshotsPrefix, keyName)
}

// SnapshotsPrefix is the fixed bucket key prefix every snapshot's parts
// live under: "snapshots/<key_snapshot_name>/<part_index>".
const SnapshotsPrefix = "snapshots"

// MaxObjectSize is the largest body a single part object may carry: the
// AWS S3 single-PUT limit, 5 * 10^9 bytes. In an encrypted run a part
// boundary is a ciphertext offset, which generally falls inside a sealed
// cipher chunk; buildUploadPipeline accounts for that when it resumes.
const MaxObjectSize = 5_000_000_000

// Deps are the external collaborators and per-run settings the step
// executor needs; they do not change across the lifetime of one backup
// run, unlike the persisted Step state the driver threads through.
type Deps struct {
	Source  zfssource.Source
	Store   objectstore.Store
	Dataset zfssource.Dataset
	Bucket  string

	// LastCommittedSnapshot is the dataset's previously committed
	// snapshot, or nil on a dataset's first backup.
	LastCommittedSnapshot *string

	// ContentKey is nil when encryption is disabled.
	ContentKey []byte
	// NoncePrefix is the 7-byte stream nonce prefix for this run, derived
	// from the snapshot commit count. Required when ContentKey is set.
	NoncePrefix []byte
	// SnapshotNameSubKey, when non-nil, causes part-object keys to be
	// addressed by a keyed-BLAKE3 hash of the snapshot name rather than
	// the name itself.
	SnapshotNameSubKey []byte

	CreateEmptyObjects bool
	StorageClass       objectstore.StorageClass

	Log *logging.Logger
}

func (d Deps) encrypted() bool { return d.ContentKey != nil }

// memoryState holds the in-flight upload pipeline for the Upload step: the
// file-backed plaintext reader, the chunk cipher (if encrypting), and the
// re-chunker slicing part-sized bodies out of it. It is cheap in-memory
// state the driver is allowed to drop across a crash; stepUpload rebuilds
// it from the persisted uploaded_parts counter when it finds it missing.
type memoryState struct {
	rechunker *rechunk.Rechunker
}

// Result is what the driver returns once a run finishes: the committed
// snapshot name, or nil for a no-op (empty diff, not allow_empty) run.
type Result = *string

// Executor implements retry.StepDoer for one backup run.
type Executor struct {
	Deps Deps
}

// NewExecutor constructs an Executor over deps.
func NewExecutor(deps Deps) *Executor {
	return &Executor{Deps: deps}
}

var _ retry.StepDoer[*memoryState, config.Step, Result] = (*Executor)(nil)

// NewRun builds the retry.RetryState an Executor starts or resumes a run
// from: fresh in-memory state (rebuilt lazily on the first Upload step) and
// the given persisted step. Callers outside this package never need to name
// memoryState themselves; the type is carried along through inference.
func NewRun(step config.Step) retry.RetryState[*memoryState, config.Step] {
	return retry.RetryState[*memoryState, config.Step]{Persistent: step}
}

// Step dispatches to the handler for state.Persistent.Kind.
func (e *Executor) Step(ctx context.Context, state retry.RetryState[*memoryState, config.Step]) (retry.StepOutcome[*memoryState, config.Step, Result], error) {
	switch state.Persistent.Kind {
	case config.StepDiff:
		return e.stepDiff(ctx, state.Persistent)
	case config.StepUpload:
		return e.stepUpload(ctx, state.Memory, state.Persistent)
	case config.StepUpdateHotMetadata:
		return e.stepUpdateHotMetadata(ctx, state.Persistent)
	default:
		return retry.StepOutcome[*memoryState, config.Step, Result]{}, fmt.Errorf("backup: unrecognized step kind %q", state.Persistent.Kind)
	}
}

// Start produces the initial persistent state for a new backup run, per
// "backup start": optionally taking a fresh snapshot, then rejecting a
// snapshot name already present in hot metadata.
func Start(ctx context.Context, deps Deps, snapshotName string, takeSnapshot, allowEmpty bool) (config.Step, error) {
	if snapshotName == "" {
		snapshotName = "backup-" + time.Now().UTC().Format("2006-01-02_15-04-05")
	}

	if takeSnapshot {
		if err := deps.Source.TakeSnapshot(ctx, deps.Dataset, snapshotName); err != nil {
			return config.Step{}, err
		}
	}

	existing, err := currentSnapshotNames(ctx, deps)
	if err != nil {
		return config.Step{}, err
	}
	for _, name := range existing {
		if name == snapshotName {
			return config.Step{}, fmt.Errorf("%w: %s", backuperr.ErrDuplicateSnapshotName, snapshotName)
		}
	}

	return config.NewDiffStep(snapshotName, allowEmpty), nil
}

func currentSnapshotNames(ctx context.Context, deps Deps) ([]string, error) {
	data, err := deps.Store.GetObject(ctx, deps.Bucket, hotmeta.ObjectKey)
	if err != nil {
		return nil, err
	}
	decoded, err := hotmeta.Decode(data)
	if err != nil {
		return nil, err
	}
	if !decoded.Encrypted {
		return decoded.Snapshots, nil
	}
	if deps.ContentKey == nil {
		return nil, fmt.Errorf("%w: bucket hot metadata is encrypted but no content key is configured", backuperr.ErrConfigRemoteMismatch)
	}
	return hotmeta.DecryptSnapshots(deps.ContentKey, decoded.Ciphertext)
}

// stepDiff computes the optimized change-set for the snapshot named in
// step, resolving file metadata for every created or modified regular
// file.
func (e *Executor) stepDiff(ctx context.Context, step config.Step) (retry.StepOutcome[*memoryState, config.Step, Result], error) {
	zero := retry.StepOutcome[*memoryState, config.Step, Result]{}

	raw, err := e.Deps.Source.Diff(ctx, e.Deps.Dataset, e.Deps.LastCommittedSnapshot, step.SnapshotName)
	if err != nil {
		return zero, err
	}

	mountPath, err := e.Deps.Source.SnapshotMountPath(ctx, e.Deps.Dataset, step.SnapshotName)
	if err != nil {
		return zero, err
	}

	resolved := make([]diffentry.Resolved, 0, len(raw))
	for _, entry := range raw {
		out := entry.MapUnit()
		if needsMetadata(entry) {
			meta, err := statEntry(mountPath, entry.Path)
			if err != nil {
				return zero, err
			}
			out.Change.Content = meta
		}
		resolved = append(resolved, out)
	}

	optimized := diffopt.Optimize(resolved)

	if len(optimized) == 0 && !step.AllowEmpty {
		return retry.Done[*memoryState, config.Step, Result](nil), nil
	}

	next := config.NewUploadStep(step.SnapshotName, optimized)
	return retry.NotFinished[*memoryState, config.Step, Result](retry.RetryState[*memoryState, config.Step]{Persistent: next}), nil
}

func needsMetadata(e diffentry.Raw) bool {
	if e.Kind != diffentry.RegularFile {
		return false
	}
	return e.Change.Kind == diffentry.Created || e.Change.Kind == diffentry.Modified
}

func statEntry(mountPath, relPath string) (*diffentry.FileMetadata, error) {
	full := filepath.Join(mountPath, filepath.FromSlash(relPath))
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", backuperr.ErrStatFailed, full, err)
	}
	return statMetadata(info), nil
}

// stepUpload computes the size accounting for the diff, uploads the next
// part if any remain, and transitions to UpdateHotMetadata once every part
// has been uploaded.
func (e *Executor) stepUpload(ctx context.Context, mem *memoryState, step config.Step) (retry.StepOutcome[*memoryState, config.Step, Result], error) {
	zero := retry.StepOutcome[*memoryState, config.Step, Result]{}

	plaintextSize := plaintextStreamSize(step.Diff)
	streamSize := plaintextSize
	if e.Deps.encrypted() {
		streamSize = plaintextSize + streamcipher.TotalChunks(int64(plaintextSize))*streamcipher.TagSize
	}

	totalParts := ceilDiv(int64(streamSize), MaxObjectSize)
	if totalParts == 0 && e.Deps.CreateEmptyObjects {
		totalParts = 1
	}

	if step.UploadedParts >= uint64(totalParts) {
		if err := e.buildAndUploadManifest(ctx, step, totalParts); err != nil {
			return zero, err
		}
		next := config.NewUpdateHotMetadataStep(step.SnapshotName)
		return retry.NotFinished[*memoryState, config.Step, Result](retry.RetryState[*memoryState, config.Step]{Persistent: next}), nil
	}

	if mem == nil {
		built, err := e.buildUploadPipeline(ctx, step, plaintextSize)
		if err != nil {
			return zero, err
		}
		mem = built
	}

	partOffset := int64(step.UploadedParts) * MaxObjectSize
	partLen := int64(streamSize) - partOffset
	if partLen > MaxObjectSize {
		partLen = MaxObjectSize
	}

	body, n, err := mem.rechunker.TakeReader(int(partLen))
	if err != nil {
		return zero, err
	}

	keyName, err := e.keySnapshotName(step.SnapshotName)
	if err != nil {
		return zero, err
	}
	objectKey := fmt.Sprintf("%s/%s/%d", SnapshotsPrefix, keyName, step.UploadedParts)

	err = e.Deps.Store.PutObject(ctx, e.Deps.Bucket, objectKey, body, int64(n), objectstore.PutOptions{
		IfNoneMatch:  "*",
		StorageClass: e.Deps.StorageClass,
	})
	if err != nil && !errors.Is(err, backuperr.ErrObjectExistsPrecondition) {
		return zero, err
	}
	if e.Deps.Log != nil {
		e.Deps.Log.Infof("uploaded part %d of snapshot %s (%d bytes)", step.UploadedParts, step.SnapshotName, n)
	}

	next := step
	next.UploadedParts++
	return retry.NotFinished[*memoryState, config.Step, Result](retry.RetryState[*memoryState, config.Step]{
		Memory:     mem,
		Persistent: next,
	}), nil
}

// buildAndUploadManifest re-downloads every part object just written for
// step.SnapshotName, hashes each one, builds a Merkle tree over the ordered
// digests, and uploads the result as the snapshot's verification manifest.
// Rebuilding from the objects actually committed to the bucket (rather than
// from digests accumulated in memory during upload) means the manifest is
// correct even after a crash-resumed run that never recomputed the digests
// of parts uploaded before the crash.
func (e *Executor) buildAndUploadManifest(ctx context.Context, step config.Step, totalParts int64) error {
	if totalParts == 0 {
		return nil
	}

	keyName, err := e.keySnapshotName(step.SnapshotName)
	if err != nil {
		return err
	}

	digests := make([][]byte, 0, totalParts)
	for i := int64(0); i < totalParts; i++ {
		objectKey := fmt.Sprintf("%s/%s/%d", SnapshotsPrefix, keyName, i)
		body, err := e.Deps.Store.GetObject(ctx, e.Deps.Bucket, objectKey)
		if err != nil {
			return err
		}
		digest, err := integrity.DigestOf(body)
		if err != nil {
			return fmt.Errorf("backup: hashing part %d of %s: %w", i, step.SnapshotName, err)
		}
		digests = append(digests, digest)
	}

	mgr := integrity.NewManager()
	tree, err := mgr.BuildAndCache(step.SnapshotName, digests)
	if err != nil {
		return err
	}
	if ok, err := integrity.VerifyTree(tree); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("backup: integrity tree for snapshot %s failed self-verification", step.SnapshotName)
	}

	manifest, err := integrity.EncodeManifest(digests, integrity.Root(tree))
	if err != nil {
		return err
	}

	return e.Deps.Store.PutObject(ctx, e.Deps.Bucket, ManifestObjectKey(keyName), bytes.NewReader(manifest), int64(len(manifest)), objectstore.PutOptions{
		StorageClass: e.Deps.StorageClass,
	})
}

// buildUploadPipeline (re)constructs the plaintext stream, optional cipher,
// and re-chunker so that its first byte is byte step.UploadedParts *
// MaxObjectSize of the uploaded stream. This is called both on a cold start
// and after losing mem across a crash; in either case the offset formula is
// the same, which is what lets a crash mid-upload resume without
// re-uploading already-committed parts. In an encrypted run that offset is
// a ciphertext offset: the cipher restarts at the sealed chunk containing
// it, and the bytes of that chunk belonging to earlier parts are discarded.
func (e *Executor) buildUploadPipeline(ctx context.Context, step config.Step, plaintextSize uint64) (*memoryState, error) {
	mountPath, err := e.Deps.Source.SnapshotMountPath(ctx, e.Deps.Dataset, step.SnapshotName)
	if err != nil {
		return nil, err
	}

	partOffset := int64(step.UploadedParts) * MaxObjectSize

	plaintextOffset, skipCiphertext := partOffset, int64(0)
	if e.Deps.encrypted() {
		sealedChunkSize := int64(streamcipher.ChunkSize + streamcipher.TagSize)
		plaintextOffset = partOffset / sealedChunkSize * streamcipher.ChunkSize
		skipCiphertext = partOffset % sealedChunkSize
	}

	plainStream, err := uploadstream.New(mountPath, step.Diff, plaintextOffset)
	if err != nil {
		return nil, err
	}

	if !e.Deps.encrypted() {
		return &memoryState{rechunker: rechunk.New(plainStream)}, nil
	}

	if plaintextOffset%streamcipher.ChunkSize != 0 {
		return nil, fmt.Errorf("%w: part offset %d is not a multiple of the cipher chunk size %d",
			backuperr.ErrIncompatibleChunkGeometry, plaintextOffset, streamcipher.ChunkSize)
	}
	startChunk := uint64(plaintextOffset) / streamcipher.ChunkSize
	totalChunks := streamcipher.TotalChunks(int64(plaintextSize))

	writer, err := streamcipher.NewWriterAt(e.Deps.ContentKey, e.Deps.NoncePrefix, totalChunks, startChunk)
	if err != nil {
		return nil, err
	}

	remaining := int64(plaintextSize) - plaintextOffset
	sealed := newSealingReader(plainStream, writer, remaining)
	if _, err := io.CopyN(io.Discard, sealed, skipCiphertext); err != nil {
		return nil, fmt.Errorf("%w: skipping to part offset %d: %v", backuperr.ErrStreamIO, partOffset, err)
	}
	return &memoryState{rechunker: rechunk.New(sealed)}, nil
}

// keySnapshotName returns the bucket-object-key form of a snapshot name:
// the name itself when snapshot names are not encrypted, or the hex of a
// keyed-BLAKE3 hash of the name under the sub-key derived from the content
// key and the envelope's BLAKE3 salt.
func (e *Executor) keySnapshotName(snapshotName string) (string, error) {
	if e.Deps.SnapshotNameSubKey == nil {
		return snapshotName, nil
	}
	return keymaterial.HashSnapshotName(e.Deps.SnapshotNameSubKey, snapshotName)
}

// stepUpdateHotMetadata appends step.SnapshotName to the bucket's hot
// metadata, unless it is already the last committed entry.
func (e *Executor) stepUpdateHotMetadata(ctx context.Context, step config.Step) (retry.StepOutcome[*memoryState, config.Step, Result], error) {
	zero := retry.StepOutcome[*memoryState, config.Step, Result]{}

	data, err := e.Deps.Store.GetObject(ctx, e.Deps.Bucket, hotmeta.ObjectKey)
	if err != nil {
		return zero, err
	}
	decoded, err := hotmeta.Decode(data)
	if err != nil {
		return zero, err
	}

	name := step.SnapshotName
	var newObject []byte

	if !decoded.Encrypted {
		if len(decoded.Snapshots) > 0 && decoded.Snapshots[len(decoded.Snapshots)-1] == name {
			return retry.Done[*memoryState, config.Step, Result](&name), nil
		}
		newObject = hotmeta.EncodeNotEncrypted(hotmeta.AppendIfAbsent(decoded.Snapshots, name))
	} else {
		if e.Deps.ContentKey == nil {
			return zero, fmt.Errorf("%w: bucket hot metadata is encrypted but no content key is configured", backuperr.ErrConfigRemoteMismatch)
		}
		snapshots, err := hotmeta.DecryptSnapshots(e.Deps.ContentKey, decoded.Ciphertext)
		if err != nil {
			return zero, err
		}
		if len(snapshots) > 0 && snapshots[len(snapshots)-1] == name {
			return retry.Done[*memoryState, config.Step, Result](&name), nil
		}
		ciphertext, err := hotmeta.EncryptSnapshots(e.Deps.ContentKey, hotmeta.AppendIfAbsent(snapshots, name))
		if err != nil {
			return zero, err
		}
		newObject = hotmeta.EncodeEncrypted(decoded.Envelope, ciphertext)
	}

	err = e.Deps.Store.PutObject(ctx, e.Deps.Bucket, hotmeta.ObjectKey, bytes.NewReader(newObject), int64(len(newObject)), objectstore.PutOptions{})
	if err != nil {
		return zero, err
	}
	return retry.Done[*memoryState, config.Step, Result](&name), nil
}

// plaintextStreamSize computes Σ varint_size(len(record)) + len(record) +
// body_len across diff, the exact byte count uploadstream.Stream produces.
func plaintextStreamSize(diff []diffentry.Resolved) uint64 {
	var total uint64
	for _, entry := range diff {
		record, err := diffentry.EncodeRecord(entry)
		if err != nil {
			continue
		}
		total += uint64(len(varint.ToUvarint(uint64(len(record))))) + uint64(len(record))
		if entry.Change.Content != nil {
			total += entry.Change.Content.Len
		}
	}
	return total
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

