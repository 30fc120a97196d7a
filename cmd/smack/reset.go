package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newResetCredentialsCommand blanks every stored API key. It is an offline
// recovery step for a lost encryption key; the records themselves are kept
// and must be given new keys before they can be browsed again. A snapshot is
// written first unless --no-backup is set.
func newResetCredentialsCommand(ctx *commandContext) *cobra.Command {
	var noBackup bool
	cmd := &cobra.Command{
		Use:   "reset-credentials",
		Short: "Clear all stored remote server API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				if !noBackup {
					svc, err := ctx.backupService(st, "", 0, logger)
					if err != nil {
						return err
					}
					info, err := svc.Backup(cmd.Context())
					if err != nil {
						return fmt.Errorf("backing up before reset: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", filepath.Join(svc.Dir(), info.Filename))
				}

				n, err := st.servers.ClearCredentials(cmd.Context())
				if err != nil {
					return err
				}
				logger.Info("credentials reset", "servers", n)
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Credentials reset successfully.")
				fmt.Fprintf(out, "Cleared API keys for %d remote servers. Set new keys with `smack servers update <id> --api-key`.\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Skip the database snapshot taken before the reset")
	return cmd
}
