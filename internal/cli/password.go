package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saworbit/zfsbackup/internal/backuperr"
	"github.com/saworbit/zfsbackup/internal/config"
	"github.com/saworbit/zfsbackup/internal/hotmeta"
	"github.com/saworbit/zfsbackup/internal/keymaterial"
)

func newCheckPasswordCmd() *cobra.Command {
	var configPath, dataPath string

	cmd := &cobra.Command{
		Use:   "check-password",
		Short: "Verify the configured password can unlock the remote content key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, data, err := loadConfigAndData(configPath, dataPath)
			if err != nil {
				return err
			}
			if cfg.Encryption == nil {
				return fmt.Errorf("local config has no encryption settings; nothing to check")
			}
			password, err := cfg.Encryption.Password.Bytes()
			if err != nil {
				return err
			}

			store, err := newStore(ctx, data.Region)
			if err != nil {
				return err
			}
			if _, _, err := unlockContentKey(ctx, store, data.Bucket, password); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "password is correct")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config-path", "c", "", "path to the backup config JSON file")
	cmd.Flags().StringVarP(&dataPath, "data-path", "d", "", "path to the backup data JSON file")
	cmd.MarkFlagRequired("config-path")
	cmd.MarkFlagRequired("data-path")

	return cmd
}

func newChangePasswordCmd() *cobra.Command {
	var configPath, dataPath string
	var newPasswordKind, newPasswordValue string

	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Re-seal the remote content key under a new password",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, data, err := loadConfigAndData(configPath, dataPath)
			if err != nil {
				return err
			}
			if cfg.Encryption == nil {
				return fmt.Errorf("not encrypted! there is no way to encrypt an existing unencrypted backup; create a new encrypted backup instead")
			}
			password, err := cfg.Encryption.Password.Bytes()
			if err != nil {
				return err
			}

			store, err := newStore(ctx, data.Region)
			if err != nil {
				return err
			}
			decoded, keys, err := unlockContentKey(ctx, store, data.Bucket, password)
			if err != nil {
				return err
			}
			if !decoded.Encrypted {
				return fmt.Errorf("%w: local config specifies a password but the remote backup is not encrypted", backuperr.ErrConfigRemoteMismatch)
			}

			newKind, err := parsePasswordKind(newPasswordKind)
			if err != nil {
				return err
			}
			newPassword, err := (config.PasswordSource{Kind: newKind, Value: newPasswordValue}).Bytes()
			if err != nil {
				return err
			}

			newKEKSalt, err := keymaterial.NewSalt()
			if err != nil {
				return err
			}
			newKEK := keymaterial.DeriveKEK(newPassword, newKEKSalt)
			newSealed, err := keymaterial.SealContentKey(newKEK, keys.contentKey)
			if err != nil {
				return err
			}

			envelope := &hotmeta.Envelope{
				KEKSalt:          newKEKSalt,
				SealedContentKey: newSealed,
				BlakeSalt:        keys.envelope.BlakeSalt,
				GCMSalt:          keys.envelope.GCMSalt,
			}
			newObject := hotmeta.EncodeEncrypted(envelope, decoded.Ciphertext)

			if err := putBytes(ctx, store, data.Bucket, hotmeta.ObjectKey, newObject); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "changed encryption password; update your config file to use the new password, "+
				"the old one will no longer work. Use check-password to verify the new one.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config-path", "c", "", "path to the backup config JSON file")
	cmd.Flags().StringVarP(&dataPath, "data-path", "d", "", "path to the backup data JSON file")
	cmd.Flags().StringVar(&newPasswordKind, "new-password-kind", "plain", "how --new-password is interpreted: plain, hex, or file")
	cmd.Flags().StringVar(&newPasswordValue, "new-password", "", "the new encryption password, hex string, or path to a password file")
	cmd.MarkFlagRequired("config-path")
	cmd.MarkFlagRequired("data-path")
	cmd.MarkFlagRequired("new-password")

	return cmd
}
