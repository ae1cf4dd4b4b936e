package cli

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saworbit/zfsbackup/internal/config"
	"github.com/saworbit/zfsbackup/internal/hotmeta"
	"github.com/saworbit/zfsbackup/internal/keymaterial"
	"github.com/saworbit/zfsbackup/internal/objectstore"
)

func newInitCmd() *cobra.Command {
	var bucketPrefix, region, configPath, dataPath, dataset string
	var force, createEmptyObjects, encrypt, encryptSnapshotNames bool
	var passwordKind, passwordValue string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a fresh bucket and write the local config/data files for a new backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := createExclusive(dataPath, force); err != nil {
				return err
			}
			if err := createExclusive(configPath, force); err != nil {
				return err
			}

			cfg := &config.Config{DatasetName: dataset, CreateEmptyObjects: createEmptyObjects}
			if encrypt {
				kind, err := parsePasswordKind(passwordKind)
				if err != nil {
					return err
				}
				cfg.Encryption = &config.EncryptionConfig{
					Password:             config.PasswordSource{Kind: kind, Value: passwordValue},
					EncryptSnapshotNames: encryptSnapshotNames,
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			bucket := bucketPrefix + "-" + randomSuffix()
			store, err := newStore(ctx, region)
			if err != nil {
				return err
			}
			if err := store.CreateBucket(ctx, bucket); err != nil {
				return err
			}

			hotObject, err := initialHotMetadata(cfg)
			if err != nil {
				return err
			}
			if err := putBytes(ctx, store, bucket, hotmeta.ObjectKey, hotObject); err != nil {
				return err
			}

			if err := cfg.Save(configPath); err != nil {
				return err
			}
			data := &config.BackupData{Bucket: bucket, Region: region}
			if err := data.Save(dataPath); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created bucket %s and saved %s, %s\n", bucket, configPath, dataPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&bucketPrefix, "bucket-prefix", "b", "zfs-backup", "prefix the new bucket's random-suffixed name starts with")
	cmd.Flags().StringVarP(&region, "region", "r", "us-west-2", "AWS region to create the bucket in")
	cmd.Flags().StringVarP(&configPath, "config-path", "c", "", "path to write the backup config JSON file")
	cmd.Flags().StringVarP(&dataPath, "data-path", "d", "", "path to write the backup data JSON file")
	cmd.Flags().StringVar(&dataset, "dataset", "", "zfs pool/dataset name to back up")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing config/data files")
	cmd.Flags().BoolVar(&createEmptyObjects, "create-empty-objects", false, "still write a zero-byte part for an empty backup")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "enable end-to-end encryption of snapshot bodies")
	cmd.Flags().BoolVar(&encryptSnapshotNames, "encrypt-snapshot-names", false, "also hash snapshot names in the bucket (requires --encrypt)")
	cmd.Flags().StringVar(&passwordKind, "password-kind", "plain", "how --password is interpreted: plain, hex, or file")
	cmd.Flags().StringVar(&passwordValue, "password", "", "the encryption password, hex string, or path to a password file")
	cmd.MarkFlagRequired("config-path")
	cmd.MarkFlagRequired("data-path")
	cmd.MarkFlagRequired("dataset")

	return cmd
}

func parsePasswordKind(s string) (config.PasswordSourceKind, error) {
	switch s {
	case "plain":
		return config.PasswordPlain, nil
	case "hex":
		return config.PasswordHex, nil
	case "file":
		return config.PasswordFile, nil
	default:
		return "", fmt.Errorf("unrecognized --password-kind %q (want plain, hex, or file)", s)
	}
}

func randomSuffix() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func putBytes(ctx context.Context, store objectstore.Store, bucket, key string, data []byte) error {
	return store.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), objectstore.PutOptions{})
}

// newEnvelope generates fresh key material for a brand new encrypted
// backup: a random content key sealed under a password-derived KEK, plus
// the salt the snapshot-name sub-key will later be derived from.
func newEnvelope(password []byte) (*hotmeta.Envelope, []byte, error) {
	kekSalt, err := keymaterial.NewSalt()
	if err != nil {
		return nil, nil, err
	}
	blakeSalt, err := keymaterial.NewSalt()
	if err != nil {
		return nil, nil, err
	}
	contentKey, err := keymaterial.NewContentKey()
	if err != nil {
		return nil, nil, err
	}
	kek := keymaterial.DeriveKEK(password, kekSalt)
	sealed, err := keymaterial.SealContentKey(kek, contentKey)
	if err != nil {
		return nil, nil, err
	}
	envelope := &hotmeta.Envelope{
		KEKSalt:          kekSalt,
		SealedContentKey: sealed,
		BlakeSalt:        blakeSalt,
	}
	return envelope, contentKey, nil
}

// initialHotMetadata builds the hot-metadata object a brand new bucket
// starts with: an empty snapshot list, sealed under a fresh content key if
// cfg enables encryption.
func initialHotMetadata(cfg *config.Config) ([]byte, error) {
	if cfg.Encryption == nil {
		return hotmeta.EncodeNotEncrypted(nil), nil
	}
	password, err := cfg.Encryption.Password.Bytes()
	if err != nil {
		return nil, err
	}
	envelope, contentKey, err := newEnvelope(password)
	if err != nil {
		return nil, err
	}
	ciphertext, err := hotmeta.EncryptSnapshots(contentKey, nil)
	if err != nil {
		return nil, err
	}
	return hotmeta.EncodeEncrypted(envelope, ciphertext), nil
}
