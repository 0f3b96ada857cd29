package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/linkflow/humantask/internal/config"
	"github.com/linkflow/humantask/internal/engine/postgres"
	"github.com/linkflow/humantask/internal/security/authn"
)

func tokenCmd(opts *options) *cobra.Command {
	var groups []string

	cmd := &cobra.Command{
		Use:   "token [actor-id]",
		Short: "Issue an actor token signed with the configured auth.secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if !cfg.AuthEnabled() {
				return errors.New("auth.secret is not set; taskd trusts X-Actor-ID and needs no token")
			}

			signer, err := authn.NewSigner(authn.Config{
				Secret: cfg.Auth.Secret,
				Salt:   cfg.Auth.Salt,
				TTL:    cfg.Auth.TokenTTL,
			})
			if err != nil {
				return err
			}

			token, err := signer.Issue(args[0], groups)
			if err != nil {
				return err
			}
			if opts.output == formatTable || opts.output == "" {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			out := map[string]any{"actor_id": args[0], "token": token, "expires_in": cfg.Auth.TokenTTL.String()}
			return render(cmd.OutOrStdout(), opts.output, out, nil)
		},
	}
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "groups to embed in the token")
	return cmd
}

func migrateCmd(opts *options) *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the PostgreSQL engine schema",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "overrides engine.database_url")

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *postgres.Migrator) error) error {
		url := databaseURL
		if url == "" {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			url = cfg.Engine.DatabaseURL
		}
		if url == "" {
			return errors.New("database url required: set --database-url or engine.database_url")
		}

		ctx := cmd.Context()
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer pool.Close()

		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
		return fn(ctx, postgres.NewMigrator(pool, nil, logger))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator) error {
				n, err := m.Down(ctx, steps)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", n)
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "number of migrations to roll back")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show which migrations are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, statuses, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "VERSION\tNAME\tSTATE\tAPPLIED AT")
					for _, s := range statuses {
						state, at := "pending", "-"
						if s.Applied {
							state = "applied"
							at = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
						if s.Dirty {
							state = "dirty"
						}
						fmt.Fprintf(tw, "%03d\t%s\t%s\t%s\n", s.Version, s.Name, state, at)
					}
				})
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, statusCmd)
	return cmd
}
