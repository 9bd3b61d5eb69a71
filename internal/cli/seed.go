package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/myle1996kh/base-chatbot/internal/config"
	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/escalation"
	"github.com/myle1996kh/base-chatbot/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// SeedFile describes tenants, staff and sessions to load into the store.
type SeedFile struct {
	Tenants []SeedTenant `yaml:"tenants"`
}

// SeedTenant is one tenant in a seed file. Blank ids are generated.
type SeedTenant struct {
	ID                 string      `yaml:"id"`
	Name               string      `yaml:"name"`
	Keywords           []string    `yaml:"keywords"`
	DefaultMaxSessions int         `yaml:"default_max_sessions"`
	Staff              []SeedStaff `yaml:"staff"`
	Sessions           []string    `yaml:"sessions"`
	// SessionCount generates this many extra sessions with random ids.
	SessionCount int `yaml:"session_count"`
}

// SeedStaff is one staff member in a seed file.
type SeedStaff struct {
	ID           string `yaml:"id"`
	Username     string `yaml:"username"`
	DisplayName  string `yaml:"display_name"`
	Email        string `yaml:"email"`
	Availability string `yaml:"availability"`
	MaxSessions  int    `yaml:"max_sessions"`
}

// SeedSummary reports what Seed wrote.
type SeedSummary struct {
	TenantID string
	StaffIDs []string
	Sessions []string
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(f.Tenants) == 0 {
		return nil, fmt.Errorf("seed file %s has no tenants", path)
	}
	return &f, nil
}

// Seed upserts tenants and staff and creates missing sessions. Existing
// staff keep their load counters. Running it twice is harmless.
func Seed(ctx context.Context, repo store.Repository, f *SeedFile, defaultMax int) ([]SeedSummary, error) {
	var summaries []SeedSummary
	for _, t := range f.Tenants {
		tenant := &domain.Tenant{
			TenantID:           orNewID(t.ID),
			Name:               t.Name,
			EscalationKeywords: t.Keywords,
			DefaultMaxSessions: t.DefaultMaxSessions,
		}
		if tenant.DefaultMaxSessions <= 0 {
			tenant.DefaultMaxSessions = defaultMax
		}
		if tenant.Name == "" {
			tenant.Name = tenant.TenantID
		}
		if err := repo.UpsertTenant(ctx, tenant); err != nil {
			return summaries, fmt.Errorf("tenant %s: %w", tenant.TenantID, err)
		}
		summary := SeedSummary{TenantID: tenant.TenantID}

		for _, s := range t.Staff {
			availability := domain.Availability(s.Availability)
			if availability == "" {
				availability = domain.AvailabilityOffline
			}
			if !availability.Valid() {
				return summaries, fmt.Errorf("staff %s: invalid availability %q", s.Username, s.Availability)
			}
			member := &domain.StaffMember{
				StaffID:               orNewID(s.ID),
				TenantID:              tenant.TenantID,
				Username:              s.Username,
				DisplayName:           s.DisplayName,
				Email:                 s.Email,
				Availability:          availability,
				MaxConcurrentSessions: s.MaxSessions,
			}
			if err := repo.UpsertStaff(ctx, member); err != nil {
				return summaries, fmt.Errorf("staff %s: %w", member.Username, err)
			}
			summary.StaffIDs = append(summary.StaffIDs, member.StaffID)
		}

		ids := append([]string{}, t.Sessions...)
		for i := 0; i < t.SessionCount; i++ {
			ids = append(ids, uuid.NewString())
		}
		for _, id := range ids {
			existing, err := repo.GetSession(ctx, tenant.TenantID, id)
			if err != nil {
				return summaries, fmt.Errorf("session %s: %w", id, err)
			}
			if existing != nil {
				continue
			}
			if err := repo.CreateSession(ctx, &domain.Session{SessionID: id, TenantID: tenant.TenantID}); err != nil {
				return summaries, fmt.Errorf("session %s: %w", id, err)
			}
			summary.Sessions = append(summary.Sessions, id)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func seedCmd(flags *globalFlags) *cobra.Command {
	var defaultMax int
	cmd := &cobra.Command{
		Use:   "seed [file.yaml]",
		Short: "Load tenants, staff and sessions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			return withService(flags, func(ctx context.Context, repo store.Repository, _ *escalation.Service) error {
				summaries, err := Seed(ctx, repo, f, defaultMax)
				if err != nil {
					return err
				}
				for _, s := range summaries {
					fmt.Fprintf(out(cmd), "Tenant %s: %d staff, %d new sessions\n", s.TenantID, len(s.StaffIDs), len(s.Sessions))
					for _, id := range s.Sessions {
						fmt.Fprintf(out(cmd), "  session %s\n", id)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&defaultMax, "default-max-sessions", config.DefaultMaxSessions(), "ceiling for tenants and staff that do not set one")
	return cmd
}
