package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sydlexius/smack/internal/settingsio"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write all remote servers, with credentials, to a passphrase-encrypted file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := readPassphrase(cmd, true)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				env, err := settingsio.NewService(st.servers).Export(cmd.Context(), passphrase)
				if err != nil {
					return err
				}
				if err := settingsio.WriteFile(ctx.fs, args[0], env); err != nil {
					return err
				}
				logger.Info("settings exported", "path", args[0])
				return nil
			})
		},
	}
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load remote servers from an export file, updating records with the same URL and name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := settingsio.ReadFile(ctx.fs, args[0])
			if err != nil {
				return err
			}
			passphrase, err := readPassphrase(cmd, false)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.ErrOrStderr(), func(st *store, logger *slog.Logger) error {
				result, err := settingsio.NewService(st.servers).Import(cmd.Context(), env, passphrase)
				if err != nil {
					return err
				}
				logger.Info("settings imported", "path", args[0], "created", result.Created, "updated", result.Updated)
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d new and %d updated remote servers.\n", result.Created, result.Updated)
				return nil
			})
		},
	}
}

// readPassphrase prompts on the terminal without echo, asking twice when
// confirm is set. When stdin is not a terminal the first line is used.
func readPassphrase(cmd *cobra.Command, confirm bool) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		fd := int(f.Fd()) //nolint:gosec // file descriptors fit in int
		prompt := func(label string) (string, error) {
			fmt.Fprint(cmd.ErrOrStderr(), label)
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(cmd.ErrOrStderr())
			return string(b), err
		}

		first, err := prompt("Passphrase: ")
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if confirm {
			second, err := prompt("Confirm passphrase: ")
			if err != nil {
				return "", fmt.Errorf("reading passphrase: %w", err)
			}
			if first != second {
				return "", errors.New("passphrases do not match")
			}
		}
		return nonEmpty(first)
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return nonEmpty(strings.TrimRight(line, "\r\n"))
}

func nonEmpty(passphrase string) (string, error) {
	if passphrase == "" {
		return "", settingsio.ErrEmptyPassphrase
	}
	return passphrase, nil
}
