package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saworbit/zfsbackup/internal/backup"
	"github.com/saworbit/zfsbackup/internal/config"
	"github.com/saworbit/zfsbackup/internal/logging"
	"github.com/saworbit/zfsbackup/internal/objectstore"
	"github.com/saworbit/zfsbackup/internal/retry"
	"github.com/saworbit/zfsbackup/internal/zfssource"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take and upload an incremental snapshot, or manage an in-progress one",
	}
	cmd.AddCommand(newBackupStartCmd(), newBackupContinueCmd(), newBackupStatusCmd())
	return cmd
}

func newBackupStartCmd() *cobra.Command {
	var configPath, dataPath, snapshotName string
	var takeSnapshot, allowEmpty bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new backup run from a fresh or existing snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New("zfsbackup").With("Backup")

			cfg, data, err := loadConfigAndData(configPath, dataPath)
			if err != nil {
				return err
			}
			if data.InProgressStep != nil {
				return fmt.Errorf("previous backup in progress! run `backup continue` or `backup status`")
			}
			debugf("starting backup for dataset %s, bucket %s", cfg.DatasetName, data.Bucket)

			store, err := newStore(ctx, data.Region)
			if err != nil {
				return err
			}
			source := zfssource.NewExec()

			deps, err := buildDeps(ctx, cfg, data, store, source, log)
			if err != nil {
				return err
			}

			step, err := backup.Start(ctx, deps, snapshotName, takeSnapshot, allowEmpty)
			if err != nil {
				return err
			}

			return runToCompletion(ctx, deps, data, dataPath, step)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config-path", "c", "", "path to the backup config JSON file")
	cmd.Flags().StringVarP(&dataPath, "data-path", "d", "", "path to the backup data JSON file")
	cmd.Flags().StringVarP(&snapshotName, "snapshot-name", "n", "", "snapshot name to back up (default: backup-<UTC timestamp>)")
	cmd.Flags().BoolVarP(&takeSnapshot, "take-snapshot", "t", true, "take the zfs snapshot before diffing (set false to back up one already taken)")
	cmd.Flags().BoolVar(&allowEmpty, "allow-empty", false, "still commit a snapshot with no changes since the last backup")
	cmd.MarkFlagRequired("config-path")
	cmd.MarkFlagRequired("data-path")

	return cmd
}

func newBackupContinueCmd() *cobra.Command {
	var configPath, dataPath string

	cmd := &cobra.Command{
		Use:   "continue",
		Short: "Resume an interrupted backup run from its last checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New("zfsbackup").With("Backup")

			cfg, data, err := loadConfigAndData(configPath, dataPath)
			if err != nil {
				return err
			}
			if data.InProgressStep == nil {
				return fmt.Errorf("no backup in progress")
			}

			store, err := newStore(ctx, data.Region)
			if err != nil {
				return err
			}
			source := zfssource.NewExec()

			deps, err := buildDeps(ctx, cfg, data, store, source, log)
			if err != nil {
				return err
			}

			return runToCompletion(ctx, deps, data, dataPath, *data.InProgressStep)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config-path", "c", "", "path to the backup config JSON file")
	cmd.Flags().StringVarP(&dataPath, "data-path", "d", "", "path to the backup data JSON file")
	cmd.MarkFlagRequired("config-path")
	cmd.MarkFlagRequired("data-path")

	return cmd
}

func newBackupStatusCmd() *cobra.Command {
	var configPath, dataPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the last committed snapshot and any in-progress run",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, data, err := loadConfigAndData(configPath, dataPath)
			if err != nil {
				return err
			}

			last := "none"
			if data.LastCommittedSnapshot != nil {
				last = *data.LastCommittedSnapshot
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bucket: %s\nlast committed snapshot: %s\n", data.Bucket, last)

			if data.InProgressStep == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "in progress: none")
				return nil
			}
			step := data.InProgressStep
			fmt.Fprintf(cmd.OutOrStdout(), "in progress: %s (snapshot %s", step.Kind, step.SnapshotName)
			if step.Kind == config.StepUpload {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d parts uploaded", step.UploadedParts)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ")")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config-path", "c", "", "path to the backup config JSON file")
	cmd.Flags().StringVarP(&dataPath, "data-path", "d", "", "path to the backup data JSON file")
	cmd.MarkFlagRequired("config-path")
	cmd.MarkFlagRequired("data-path")

	return cmd
}

// runToCompletion drives the resumable pipeline from step to the end,
// checkpointing progress into data/dataPath after every transition and
// clearing the in-progress marker once the run commits.
func runToCompletion(ctx context.Context, deps backup.Deps, data *config.BackupData, dataPath string, step config.Step) error {
	exec := backup.NewExecutor(deps)
	saver := &dataFileSaver{data: data, dataPath: dataPath}
	result, err := retry.Run(ctx, newInstrumented(exec), saver, backup.NewRun(step))
	if err != nil {
		return err
	}

	data.InProgressStep = nil
	if result != nil {
		data.LastCommittedSnapshot = result
	}
	return data.Save(dataPath)
}

func loadConfigAndData(configPath, dataPath string) (*config.Config, *config.BackupData, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	data, err := config.LoadBackupData(dataPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, data, nil
}

func newStore(ctx context.Context, region string) (objectstore.Store, error) {
	return objectstore.NewS3Store(ctx, region)
}
