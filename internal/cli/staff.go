package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/escalation"
	"github.com/myle1996kh/base-chatbot/internal/store"
	"github.com/spf13/cobra"
)

func staffCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Inspect and manage staff capacity",
	}
	cmd.PersistentFlags().String("tenant", "", "tenant id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List staff with their load",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := requireTenantFlag(cmd)
			if err != nil {
				return err
			}
			availableOnly, _ := cmd.Flags().GetBool("available")
			return withService(flags, func(ctx context.Context, _ store.Repository, svc *escalation.Service) error {
				var staff []escalation.StaffView
				if availableOnly {
					staff, err = svc.ListAvailableStaff(ctx, tenantID)
				} else {
					staff, err = svc.ListStaff(ctx, tenantID)
				}
				if err != nil {
					return fmt.Errorf("failed to list staff: %w", err)
				}
				if len(staff) == 0 {
					fmt.Fprintln(out(cmd), "No staff found.")
					return nil
				}

				w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tUSERNAME\tAVAILABILITY\tLOAD\tUSED")
				fmt.Fprintln(w, "--\t--------\t------------\t----\t----")
				for _, s := range staff {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d%%\n",
						s.StaffID,
						s.Username,
						availabilityColor(s.Availability),
						s.CurrentSessionsCount,
						s.MaxConcurrentSessions,
						s.CapacityPercentage,
					)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().Bool("available", false, "only staff who can take a session now")

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every load counter from assigned sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := requireTenantFlag(cmd)
			if err != nil {
				return err
			}
			return withService(flags, func(ctx context.Context, _ store.Repository, svc *escalation.Service) error {
				corrections, err := svc.ReconcileCapacity(ctx, tenantID)
				if err != nil {
					return fmt.Errorf("failed to reconcile: %w", err)
				}
				if len(corrections) == 0 {
					fmt.Fprintln(out(cmd), color.New(color.FgGreen).Sprint("✓")+" all load counters consistent")
					return nil
				}
				for _, c := range corrections {
					fmt.Fprintf(out(cmd), "%s %s: %d -> %d\n", color.New(color.FgYellow).Sprint("!"), c.StaffID, c.Before, c.After)
				}
				return nil
			})
		},
	}

	availability := &cobra.Command{
		Use:   "availability [staff-id] [online|available|busy|away|offline]",
		Short: "Set a staff member's availability",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := requireTenantFlag(cmd)
			if err != nil {
				return err
			}
			return withService(flags, func(ctx context.Context, _ store.Repository, svc *escalation.Service) error {
				m, err := svc.SetAvailability(ctx, tenantID, args[0], domain.Availability(args[1]))
				if err != nil {
					return fmt.Errorf("failed to set availability: %w", err)
				}
				fmt.Fprintf(out(cmd), "%s is now %s\n", m.Name(), availabilityColor(m.Availability))
				return nil
			})
		},
	}

	capacity := &cobra.Command{
		Use:   "capacity [staff-id] [max-sessions]",
		Short: "Set a staff member's concurrent session ceiling",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := requireTenantFlag(cmd)
			if err != nil {
				return err
			}
			maxSessions, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("max-sessions must be a number: %w", err)
			}
			return withService(flags, func(ctx context.Context, _ store.Repository, svc *escalation.Service) error {
				m, err := svc.SetCapacity(ctx, tenantID, args[0], maxSessions)
				if err != nil {
					return fmt.Errorf("failed to set capacity: %w", err)
				}
				fmt.Fprintf(out(cmd), "%s: %d/%d\n", m.Name(), m.CurrentSessionsCount, m.MaxConcurrentSessions)
				return nil
			})
		},
	}

	cmd.AddCommand(list, reconcile, availability, capacity)
	return cmd
}
