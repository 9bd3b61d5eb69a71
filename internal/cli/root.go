// Package cli implements escalationctl, the operator CLI for the escalation engine.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/myle1996kh/base-chatbot/internal/config"
	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/escalation"
	"github.com/myle1996kh/base-chatbot/internal/store"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	driver  string
	dbPath  string
	dsn     string
	verbose bool
}

// NewRootCmd builds the escalationctl command tree.
func NewRootCmd() *cobra.Command {
	db := config.LoadDB()
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "escalationctl",
		Short: "Operate the escalation engine",
		Long: `escalationctl seeds tenants and staff, inspects queues and staff load,
and runs maintenance such as capacity reconciliation and queue sweeps.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.driver, "db-driver", db.Driver, "store backend (sqlite or mysql)")
	pf.StringVar(&flags.dbPath, "db-path", db.Path, "SQLite database path")
	pf.StringVar(&flags.dsn, "db-dsn", db.DSN, "MySQL DSN")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(seedCmd(flags))
	root.AddCommand(staffCmd(flags))
	root.AddCommand(queueCmd(flags))
	root.AddCommand(detectCmd(flags))
	root.AddCommand(sweepCmd(flags))
	root.AddCommand(tokenCmd())
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error: ")+err.Error())
		return 1
	}
	return 0
}

// withService opens the store, runs fn and closes the store.
func withService(flags *globalFlags, fn func(ctx context.Context, repo store.Repository, svc *escalation.Service) error) error {
	repo, err := store.Open(flags.driver, flags.dbPath, flags.dsn)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Debug("Failed to close store", "error", err)
		}
	}()
	return fn(context.Background(), repo, escalation.NewService(repo))
}

func requireTenantFlag(cmd *cobra.Command) (string, error) {
	tenantID, _ := cmd.Flags().GetString("tenant")
	if tenantID == "" {
		return "", fmt.Errorf("--tenant is required")
	}
	return tenantID, nil
}

func statusColor(s domain.EscalationStatus) string {
	switch s {
	case domain.EscalationPending:
		return color.New(color.FgYellow).Sprint(s)
	case domain.EscalationAssigned:
		return color.New(color.FgCyan).Sprint(s)
	case domain.EscalationResolved:
		return color.New(color.FgGreen).Sprint(s)
	default:
		return string(s)
	}
}

func availabilityColor(a domain.Availability) string {
	if a.AcceptsClaims() {
		return color.New(color.FgGreen).Sprint(a)
	}
	if a == domain.AvailabilityOffline {
		return color.New(color.FgRed).Sprint(a)
	}
	return color.New(color.FgYellow).Sprint(a)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
