package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sydlexius/smack/internal/backup"
	"github.com/sydlexius/smack/internal/maintenance"
)

const backupDirName = "backups"

// backupService returns the snapshot service for st. An empty dir means the
// backups directory next to the database.
func (c *commandContext) backupService(st *store, dir string, keep int, logger *slog.Logger) (*backup.Service, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = filepath.Join(filepath.Dir(cfg.Database.Path), backupDirName)
	}
	return backup.NewService(st.db, dir, keep, logger), nil
}

func (c *commandContext) maintenanceService(st *store, logger *slog.Logger) (*maintenance.Service, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return maintenance.NewService(st.db, c.fs, cfg.Database.Path, logger), nil
}

func newDBCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Back up and maintain the configuration database",
	}
	cmd.AddCommand(
		newDBBackupCommand(ctx),
		newDBBackupsCommand(ctx),
		newDBStatusCommand(ctx),
		newDBOptimizeCommand(ctx),
		newDBVacuumCommand(ctx),
	)
	return cmd
}

func newDBBackupCommand(ctx *commandContext) *cobra.Command {
	var (
		dir  string
		keep int
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a database snapshot and prune old ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				svc, err := ctx.backupService(st, dir, keep, logger)
				if err != nil {
					return err
				}
				info, err := svc.Backup(cmd.Context())
				if err != nil {
					return err
				}
				if _, err := svc.Prune(); err != nil {
					return fmt.Errorf("pruning backups: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(svc.Dir(), info.Filename))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Backup directory (default: backups/ next to the database)")
	cmd.Flags().IntVar(&keep, "keep", backup.DefaultRetention, "Number of snapshots to keep")
	return cmd
}

func newDBBackupsCommand(ctx *commandContext) *cobra.Command {
	var (
		dir    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List database snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				svc, err := ctx.backupService(st, dir, 0, logger)
				if err != nil {
					return err
				}
				snapshots, err := svc.List()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					if snapshots == nil {
						snapshots = []backup.Info{}
					}
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(snapshots)
				}
				if len(snapshots) == 0 {
					fmt.Fprintln(out, "No backups found.")
					return nil
				}

				rows := make([][]string, 0, len(snapshots))
				for _, b := range snapshots {
					rows = append(rows, []string{b.Filename, strconv.FormatInt(b.Size, 10), b.CreatedAt.Format(time.RFC3339)})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"File", "Bytes", "Created"},
					rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Backup directory (default: backups/ next to the database)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newDBStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database file and page sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				svc, err := ctx.maintenanceService(st, logger)
				if err != nil {
					return err
				}
				status, err := svc.Status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(out,
					[]string{"Metric", "Value"},
					[][]string{
						{"Database bytes", strconv.FormatInt(status.DBFileSize, 10)},
						{"WAL bytes", strconv.FormatInt(status.WALFileSize, 10)},
						{"Pages", strconv.FormatInt(status.PageCount, 10)},
						{"Page size", strconv.FormatInt(status.PageSize, 10)},
					},
					[]columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newDBOptimizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Refresh query planner statistics and checkpoint the WAL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				svc, err := ctx.maintenanceService(st, logger)
				if err != nil {
					return err
				}
				if err := svc.Optimize(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Database optimized.")
				return nil
			})
		},
	}
}

func newDBVacuumCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				svc, err := ctx.maintenanceService(st, logger)
				if err != nil {
					return err
				}
				if err := svc.Vacuum(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Database vacuumed.")
				return nil
			})
		},
	}
}
