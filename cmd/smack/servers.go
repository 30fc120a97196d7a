package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sydlexius/smack/internal/connection"
)

// serverView is the printable form of a record. It never carries the API key.
type serverView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ServerURL    string `json:"serverUrl"`
	RemoteUserID string `json:"remoteUserId"`
	Configured   bool   `json:"configured"`
}

func newServersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage remote server records",
	}
	cmd.AddCommand(
		newServersListCommand(ctx),
		newServersAddCommand(ctx),
		newServersUpdateCommand(ctx),
		newServersRemoveCommand(ctx),
	)
	return cmd
}

func newServersListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remote servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, _ *slog.Logger) error {
				servers, err := st.servers.List(cmd.Context())
				if err != nil {
					return err
				}

				views := make([]serverView, 0, len(servers))
				for _, s := range servers {
					views = append(views, serverView{
						ID:           s.ID,
						Name:         s.Name,
						ServerURL:    s.ServerURL,
						RemoteUserID: s.RemoteUserID,
						Configured:   s.Configured(),
					})
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(views)
				}
				if len(views) == 0 {
					fmt.Fprintln(out, "No remote servers configured.")
					return nil
				}

				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{v.ID, v.Name, v.ServerURL, v.RemoteUserID, yesNo(v.Configured)})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"ID", "Name", "URL", "Remote User", "Configured"},
					rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newServersAddCommand(ctx *commandContext) *cobra.Command {
	var srv connection.Server
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a remote server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				if err := st.servers.Create(cmd.Context(), &srv); err != nil {
					return err
				}
				logger.Info("remote server added", "id", srv.ID, "name", srv.Name)
				fmt.Fprintln(cmd.OutOrStdout(), srv.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&srv.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&srv.ServerURL, "url", "", "Base URL of the remote server, including any path prefix")
	cmd.Flags().StringVar(&srv.APIKey, "api-key", "", "API key for the remote server")
	cmd.Flags().StringVar(&srv.RemoteUserID, "remote-user-id", "", "User id on the remote server")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newServersUpdateCommand(ctx *commandContext) *cobra.Command {
	var name, serverURL, apiKey, remoteUserID string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a remote server; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				srv, err := st.servers.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				flags := cmd.Flags()
				if flags.Changed("name") {
					srv.Name = name
				}
				if flags.Changed("url") {
					srv.ServerURL = serverURL
				}
				if flags.Changed("api-key") {
					srv.APIKey = apiKey
				}
				if flags.Changed("remote-user-id") {
					srv.RemoteUserID = remoteUserID
				}

				if err := st.servers.Update(cmd.Context(), srv); err != nil {
					return err
				}
				logger.Info("remote server updated", "id", srv.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&serverURL, "url", "", "Base URL of the remote server")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for the remote server")
	cmd.Flags().StringVar(&remoteUserID, "remote-user-id", "", "User id on the remote server")
	return cmd
}

func newServersRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a remote server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				if err := st.servers.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				logger.Info("remote server removed", "id", args[0])
				return nil
			})
		},
	}
}
