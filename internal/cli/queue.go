package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/escalation"
	"github.com/myle1996kh/base-chatbot/internal/identity"
	"github.com/myle1996kh/base-chatbot/internal/store"
	"github.com/spf13/cobra"
)

func queueCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show a tenant's escalation queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := requireTenantFlag(cmd)
			if err != nil {
				return err
			}
			status, _ := cmd.Flags().GetString("status")
			return withService(flags, func(ctx context.Context, _ store.Repository, svc *escalation.Service) error {
				q, err := svc.ListQueue(ctx, tenantID, domain.EscalationStatus(status))
				if err != nil {
					return fmt.Errorf("failed to list queue: %w", err)
				}
				fmt.Fprintf(out(cmd), "pending: %d  assigned: %d  resolved: %d\n\n",
					q.PendingCount, q.AssignedCount, q.ResolvedCount)
				if len(q.Sessions) == 0 {
					fmt.Fprintln(out(cmd), "No escalations found.")
					return nil
				}

				w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SESSION\tSTATUS\tSTAFF\tREQUESTED\tREASON")
				fmt.Fprintln(w, "-------\t------\t-----\t---------\t------")
				for _, s := range q.Sessions {
					requested := "-"
					if s.EscalationRequestedAt != nil {
						requested = s.EscalationRequestedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						s.SessionID,
						statusColor(s.EscalationStatus),
						orDash(s.AssignedStaffID),
						requested,
						orDash(s.EscalationReason),
					)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	cmd.Flags().String("status", "", "filter by pending, assigned or resolved")
	return cmd
}

func detectCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect [message]",
		Short: "Score a message against the escalation keywords",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			keywords, _ := cmd.Flags().GetStringSlice("keyword")
			tenantID, _ := cmd.Flags().GetString("tenant")

			show := func(d escalation.Detection) {
				fmt.Fprintf(out(cmd), "escalate:   %t\n", d.ShouldEscalate)
				fmt.Fprintf(out(cmd), "confidence: %.2f\n", d.Confidence)
				fmt.Fprintf(out(cmd), "keywords:   %s\n", orDash(strings.Join(d.DetectedKeywords, ", ")))
			}

			if tenantID == "" {
				show(escalation.NewDetector(nil).Detect(message, keywords))
				return nil
			}
			return withService(flags, func(ctx context.Context, _ store.Repository, svc *escalation.Service) error {
				d, err := svc.DetectForTenant(ctx, tenantID, message, keywords)
				if err != nil {
					return fmt.Errorf("failed to detect: %w", err)
				}
				show(d)
				return nil
			})
		},
	}
	cmd.Flags().String("tenant", "", "include this tenant's configured keywords")
	cmd.Flags().StringSlice("keyword", nil, "extra keyword (repeatable)")
	return cmd
}

func sweepCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Assign pending escalations to staff with spare capacity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			return withService(flags, func(ctx context.Context, _ store.Repository, svc *escalation.Service) error {
				var results []escalation.SweepResult
				if tenantID == "" {
					all, err := svc.SweepAll(ctx)
					if err != nil {
						return fmt.Errorf("failed to sweep: %w", err)
					}
					results = all
				} else {
					res, err := svc.SweepQueue(ctx, tenantID)
					if err != nil {
						return fmt.Errorf("failed to sweep: %w", err)
					}
					results = append(results, *res)
				}
				for _, r := range results {
					fmt.Fprintf(out(cmd), "%s: assigned %d of %d pending\n", r.TenantID, r.Assigned, r.Examined)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("tenant", "", "sweep one tenant instead of all")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := requireTenantFlag(cmd)
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}

			auth, err := identity.NewAuthenticator(os.Getenv("JWT_SECRET"))
			if err != nil {
				return err
			}
			token, err := auth.Issue(subject, tenantID, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), token)
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	cmd.Flags().String("subject", "", "staff or admin id")
	cmd.Flags().StringSlice("role", []string{identity.RoleAdmin}, "role (admin or supporter, repeatable)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
