package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saworbit/zfsbackup/internal/config"
	"github.com/saworbit/zfsbackup/internal/hotmeta"
	"github.com/saworbit/zfsbackup/internal/zfssource"
)

func newRecoverConfigCmd() *cobra.Command {
	var bucket, region, configPath, dataPath, dataset string
	var force, createEmptyObjects, encryptSnapshotNames bool
	var passwordKind, passwordValue string

	cmd := &cobra.Command{
		Use:   "recover-config",
		Short: "Rebuild local config/data files from the bucket's hot metadata, for disaster recovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ds := zfssource.Dataset{Pool: datasetPool(dataset), Name: datasetName(dataset)}
			source := zfssource.NewExec()

			snapshots, err := source.ListSnapshots(ctx, ds)
			if err != nil {
				return err
			}
			if len(snapshots) > 0 {
				return fmt.Errorf("dataset %s must not have any snapshots", ds)
			}
			mount, err := source.MountPath(ctx, ds)
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(mount)
			if err != nil {
				return fmt.Errorf("reading dataset mount %s: %w", mount, err)
			}
			if len(entries) > 0 {
				return fmt.Errorf("dataset %s must not have any files in it", ds)
			}

			if err := createExclusive(dataPath, force); err != nil {
				return err
			}
			if err := createExclusive(configPath, force); err != nil {
				return err
			}

			store, err := newStore(ctx, region)
			if err != nil {
				return err
			}
			raw, err := store.GetObject(ctx, bucket, hotmeta.ObjectKey)
			if err != nil {
				return err
			}
			decoded, err := hotmeta.Decode(raw)
			if err != nil {
				return err
			}

			cfg := &config.Config{DatasetName: dataset, CreateEmptyObjects: createEmptyObjects}
			var lastCommitted *string
			if decoded.Encrypted {
				kind, perr := parsePasswordKind(passwordKind)
				if perr != nil {
					return perr
				}
				cfg.Encryption = &config.EncryptionConfig{
					Password:             config.PasswordSource{Kind: kind, Value: passwordValue},
					EncryptSnapshotNames: encryptSnapshotNames,
				}
				password, perr := cfg.Encryption.Password.Bytes()
				if perr != nil {
					return perr
				}
				_, keys, perr := unlockContentKey(ctx, store, bucket, password)
				if perr != nil {
					return perr
				}
				snapshots, perr := hotmeta.DecryptSnapshots(keys.contentKey, decoded.Ciphertext)
				if perr != nil {
					return perr
				}
				if len(snapshots) > 0 {
					lastCommitted = &snapshots[len(snapshots)-1]
				}
			} else if len(decoded.Snapshots) > 0 {
				lastCommitted = &decoded.Snapshots[len(decoded.Snapshots)-1]
			}

			if err := cfg.Save(configPath); err != nil {
				return err
			}
			data := &config.BackupData{Bucket: bucket, Region: region, LastCommittedSnapshot: lastCommitted}
			if err := data.Save(dataPath); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "saved %s and %s\n", configPath, dataPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "existing S3 bucket to recover the config from")
	cmd.Flags().StringVarP(&region, "region", "r", "us-west-2", "AWS region the bucket lives in")
	cmd.Flags().StringVarP(&configPath, "config-path", "c", "", "path to write the backup config JSON file")
	cmd.Flags().StringVarP(&dataPath, "data-path", "d", "", "path to write the backup data JSON file")
	cmd.Flags().StringVar(&dataset, "dataset", "", "empty, mounted zfs pool/dataset name to recover into")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing config/data files")
	cmd.Flags().BoolVar(&createEmptyObjects, "create-empty-objects", false, "still write a zero-byte part for an empty backup")
	cmd.Flags().BoolVar(&encryptSnapshotNames, "encrypt-snapshot-names", false, "the recovered backup hashes snapshot names in the bucket")
	cmd.Flags().StringVar(&passwordKind, "password-kind", "plain", "how --password is interpreted: plain, hex, or file")
	cmd.Flags().StringVar(&passwordValue, "password", "", "the encryption password, hex string, or path to a password file")
	cmd.MarkFlagRequired("bucket")
	cmd.MarkFlagRequired("config-path")
	cmd.MarkFlagRequired("data-path")
	cmd.MarkFlagRequired("dataset")

	return cmd
}
