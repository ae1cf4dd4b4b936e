package cli

import (
	"context"
	"fmt"

	"github.com/saworbit/zfsbackup/internal/backup"
	"github.com/saworbit/zfsbackup/internal/backuperr"
	"github.com/saworbit/zfsbackup/internal/config"
	"github.com/saworbit/zfsbackup/internal/hotmeta"
	"github.com/saworbit/zfsbackup/internal/keymaterial"
	"github.com/saworbit/zfsbackup/internal/logging"
	"github.com/saworbit/zfsbackup/internal/objectstore"
	"github.com/saworbit/zfsbackup/internal/streamcipher"
	"github.com/saworbit/zfsbackup/internal/zfssource"
)

// resolvedKeys holds the content key and derived sub-keys for one unlocked
// encrypted backup, or is entirely nil/zero for a plaintext one.
type resolvedKeys struct {
	envelope           *hotmeta.Envelope
	contentKey         []byte
	snapshotNameSubKey []byte
}

// unlockContentKey downloads hot metadata and, if it is encrypted, derives
// the KEK from password and opens the sealed content key. A plaintext
// backup (decoded.Encrypted == false) returns a zero resolvedKeys and nil
// error: the caller is expected to have already confirmed cfg.Encryption is
// nil in that case.
func unlockContentKey(ctx context.Context, store objectstore.Store, bucket string, password []byte) (*hotmeta.Decoded, resolvedKeys, error) {
	raw, err := store.GetObject(ctx, bucket, hotmeta.ObjectKey)
	if err != nil {
		return nil, resolvedKeys{}, err
	}
	decoded, err := hotmeta.Decode(raw)
	if err != nil {
		return nil, resolvedKeys{}, err
	}
	if !decoded.Encrypted {
		return decoded, resolvedKeys{}, nil
	}
	if password == nil {
		return nil, resolvedKeys{}, fmt.Errorf("%w: remote hot metadata is encrypted but no password was supplied", backuperr.ErrConfigRemoteMismatch)
	}

	kek := keymaterial.DeriveKEK(password, decoded.Envelope.KEKSalt)
	contentKey, err := keymaterial.OpenContentKey(kek, decoded.Envelope.SealedContentKey)
	if err != nil {
		return nil, resolvedKeys{}, fmt.Errorf("%w: %v", backuperr.ErrPasswordMismatch, err)
	}

	keys := resolvedKeys{envelope: decoded.Envelope, contentKey: contentKey}
	if len(decoded.Envelope.BlakeSalt) > 0 {
		keys.snapshotNameSubKey = keymaterial.DeriveSubKey(contentKey, decoded.Envelope.BlakeSalt)
	}
	return decoded, keys, nil
}

// buildDeps assembles backup.Deps for one run of the pipeline: it unlocks
// the content key (if any), counts already-committed snapshots to derive
// this run's stream-cipher nonce prefix, and wires the dataset/store/logger
// collaborators.
func buildDeps(ctx context.Context, cfg *config.Config, data *config.BackupData, store objectstore.Store, source zfssource.Source, log *logging.Logger) (backup.Deps, error) {
	var password []byte
	if cfg.Encryption != nil {
		var err error
		password, err = cfg.Encryption.Password.Bytes()
		if err != nil {
			return backup.Deps{}, err
		}
	}

	decoded, keys, err := unlockContentKey(ctx, store, data.Bucket, password)
	if err != nil {
		return backup.Deps{}, err
	}
	if cfg.Encryption != nil && !decoded.Encrypted {
		return backup.Deps{}, fmt.Errorf("%w: local config requires encryption but the remote backup is not encrypted", backuperr.ErrConfigRemoteMismatch)
	}
	if cfg.Encryption == nil && decoded.Encrypted {
		return backup.Deps{}, fmt.Errorf("%w: remote backup is encrypted but the local config has no encryption settings", backuperr.ErrConfigRemoteMismatch)
	}

	var noncePrefix []byte
	if keys.contentKey != nil {
		plain, err := hotmeta.DecryptSnapshots(keys.contentKey, decoded.Ciphertext)
		if err != nil {
			return backup.Deps{}, err
		}
		noncePrefix, err = streamcipher.NonceFromCommitCount(uint64(len(plain)))
		if err != nil {
			return backup.Deps{}, err
		}
	}

	subKey := keys.snapshotNameSubKey
	if cfg.Encryption != nil && !cfg.Encryption.EncryptSnapshotNames {
		subKey = nil
	}

	return backup.Deps{
		Source:                source,
		Store:                 store,
		Dataset:               zfssource.Dataset{Pool: datasetPool(cfg.DatasetName), Name: datasetName(cfg.DatasetName)},
		Bucket:                data.Bucket,
		LastCommittedSnapshot: data.LastCommittedSnapshot,
		ContentKey:            keys.contentKey,
		NoncePrefix:           noncePrefix,
		SnapshotNameSubKey:    subKey,
		CreateEmptyObjects:    cfg.CreateEmptyObjects,
		StorageClass:          objectstore.StorageClassStandard,
		Log:                   log,
	}, nil
}

// datasetPool and datasetName split a zfs "pool/name" dataset string at its
// first slash, so a nested dataset "pool/a/b" has name "a/b"; this matches
// how zfssource.Dataset.String rejoins them with a single slash.
func datasetPool(full string) string {
	for i := 0; i < len(full); i++ {
		if full[i] == '/' {
			return full[:i]
		}
	}
	return full
}

func datasetName(full string) string {
	for i := 0; i < len(full); i++ {
		if full[i] == '/' {
			return full[i+1:]
		}
	}
	return ""
}
