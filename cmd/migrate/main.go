package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"nexpos/backend/internal/config"
	"nexpos/backend/internal/migrate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	dbURL      string
	jsonOutput bool
	upSteps    int
	downSteps  int
	username   string
	password   string
	fullName   string
	bcryptCost int
}

func newRootCmd(cfg config.Config) *cobra.Command {
	opts := &options{bcryptCost: cfg.BcryptCost}

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the NexPos database schema",
		Long: `Apply, roll back and inspect the versioned schema compiled into this binary.

Subcommands:
  up          - Apply pending migrations
  down        - Roll back applied migrations
  status      - Show migration status
  seed-admin  - Create or reset an administrator account`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dbURL, "db", cfg.DatabaseURL, "Database connection URL (defaults to DATABASE_URL)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Long: `Apply pending migrations in version order.

Examples:
  migrate up              # Apply everything pending
  migrate up --steps 1    # Apply the next migration only`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), opts, func(r *migrate.Runner) error {
				applied, err := r.Up(cmd.Context(), opts.upSteps)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s): %v\n", len(applied), applied)
				return nil
			})
		},
	}
	up.Flags().IntVar(&opts.upSteps, "steps", 0, "Number of migrations to apply (0 applies all)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the most recently applied migrations.

Examples:
  migrate down            # Roll back the last migration
  migrate down --steps 2  # Roll back the last two`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.downSteps < 1 {
				return errors.New("--steps must be at least 1")
			}
			return withRunner(cmd.Context(), opts, func(r *migrate.Runner) error {
				rolledBack, err := r.Down(cmd.Context(), opts.downSteps)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s): %v\n", len(rolledBack), rolledBack)
				return nil
			})
		},
	}
	down.Flags().IntVar(&opts.downSteps, "steps", 1, "Number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), opts, func(r *migrate.Runner) error {
				records, err := r.Status(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(records)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
				for _, rec := range records {
					state, at := "pending", "-"
					if rec.Applied {
						state = "applied"
						at = rec.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.Version, rec.Name, state, at)
				}
				return w.Flush()
			})
		},
	}

	seedAdmin := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create or reset an administrator account",
		Long: `Create an administrator, or reset the password of an existing one.

The password may also be supplied through NEXPOS_ADMIN_PASSWORD.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password := opts.password
			if password == "" {
				password = os.Getenv("NEXPOS_ADMIN_PASSWORD")
			}
			if opts.username == "" || len(password) < 8 {
				return errors.New("--username and a --password of at least 8 characters are required")
			}
			cost := opts.bcryptCost
			if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
				cost = bcrypt.DefaultCost
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			return withRunner(cmd.Context(), opts, func(r *migrate.Runner) error {
				if err := r.SeedAdmin(cmd.Context(), opts.username, string(hash), opts.fullName); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Administrator %s is ready\n", opts.username)
				return nil
			})
		},
	}
	seedAdmin.Flags().StringVar(&opts.username, "username", "admin", "Administrator username")
	seedAdmin.Flags().StringVar(&opts.password, "password", "", "Administrator password")
	seedAdmin.Flags().StringVar(&opts.fullName, "full-name", "Administrator", "Display name")

	root.AddCommand(up, down, status, seedAdmin)
	return root
}

func withRunner(ctx context.Context, opts *options, fn func(r *migrate.Runner) error) error {
	if opts.dbURL == "" {
		return errors.New("--db flag or DATABASE_URL is required")
	}
	migrations, err := migrate.Embedded()
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, opts.dbURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(migrate.NewRunner(pool, migrations))
}
