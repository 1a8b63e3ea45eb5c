package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/litlabs-admin/daddyjohn/internal/auth"
	"github.com/litlabs-admin/daddyjohn/internal/memory"
)

type storeOpener func(ctx context.Context) (memory.Store, error)

type rootOptions struct {
	databaseURL string
	sqlitePath  string
	open        storeOpener
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	opts := &rootOptions{}
	opts.open = func(ctx context.Context) (memory.Store, error) {
		if strings.TrimSpace(opts.databaseURL) == "" && strings.TrimSpace(opts.sqlitePath) == "" {
			return nil, errors.New("set --database-url or --sqlite-path (or DATABASE_URL / SQLITE_PATH)")
		}
		return memory.NewStore(ctx, opts.databaseURL, opts.sqlitePath)
	}
	return buildRootCmd(opts, stdin, stdout)
}

func buildRootCmd(opts *rootOptions, stdin io.Reader, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "manage-users",
		Short:         "Manage invited users of the Daddy John chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	root.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite-path", os.Getenv("SQLITE_PATH"), "sqlite database file, used when no database url is set")

	root.AddCommand(
		newAddCmd(opts),
		newListCmd(opts),
		newSetActiveCmd(opts, "activate", true),
		newSetActiveCmd(opts, "deactivate", false),
	)
	return root
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var (
		password string
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Invite a new user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.ToLower(strings.TrimSpace(args[0]))
			if email == "" {
				return errors.New("email is required")
			}
			if password == "" {
				var err error
				password, err = readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}
			if strings.TrimSpace(password) == "" {
				return errors.New("password is required")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), opts, func(ctx context.Context, store memory.Store) error {
				user, err := store.CreateInvitedUser(ctx, email, hash, !inactive)
				if errors.Is(err, memory.ErrUserExists) {
					return fmt.Errorf("user %s already exists", email)
				}
				if err != nil {
					return fmt.Errorf("add user %s: %w", email, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %s added (id %s)\n", user.Email, user.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password for the new user (prompted when omitted)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the account deactivated")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List invited users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, store memory.Store) error {
				users, err := store.ListInvitedUsers(ctx)
				if err != nil {
					return fmt.Errorf("list users: %w", err)
				}
				if len(users) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No users found.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "EMAIL\tSTATUS\tCREATED")
				for _, u := range users {
					status := "inactive"
					if u.IsActive {
						status = "active"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Email, status, u.CreatedAt.UTC().Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newSetActiveCmd(opts *rootOptions, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.ToLower(strings.TrimSpace(args[0]))
			return withStore(cmd.Context(), opts, func(ctx context.Context, store memory.Store) error {
				err := store.SetUserActive(ctx, email, active)
				if errors.Is(err, memory.ErrNotFound) {
					return fmt.Errorf("user %s not found", email)
				}
				if err != nil {
					return fmt.Errorf("%s user %s: %w", use, email, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %s %sd\n", email, use)
				return nil
			})
		},
	}
}

func withStore(ctx context.Context, opts *rootOptions, fn func(context.Context, memory.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

// readPassword prompts with echo disabled on a terminal, otherwise reads
// one line from in.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
