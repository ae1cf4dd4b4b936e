// Package cli wires the backup engine's components into the cobra command
// tree the teacher's own main.go builds its single root command from:
// package-level flag variables bound with cmd.Flags().*Var, RunE handlers
// that return wrapped errors rather than calling log.Fatal directly.
package cli

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/saworbit/zfsbackup/internal/metrics"
)

var (
	debugEnabled bool
	metricsAddr  string
)

// debugf logs only when --debug is set, mirroring the teacher's logDebug.
func debugf(format string, args ...any) {
	if !debugEnabled {
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}

// NewRootCommand builds the zfsbackup command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "zfsbackup",
		Short:         "Incremental, resumable, optionally encrypted backups of a zfs dataset to S3",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				return nil
			}
			ctx := cmd.Context()
			go func() {
				if err := metrics.Serve(ctx, metricsAddr, nil); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "metrics server exited: %v\n", err)
				}
			}()
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&debugEnabled, "debug", false, "enable verbose debug logging")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (disabled if empty)")

	root.AddCommand(
		newInitCmd(),
		newBackupCmd(),
		newCheckPasswordCmd(),
		newChangePasswordCmd(),
		newRecoverConfigCmd(),
	)

	return root
}
