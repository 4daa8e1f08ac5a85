package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecgard/annex/internal/config"
	"github.com/alecgard/annex/internal/directory"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo organization with standalone users and teams",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := directory.NewPgStore(pool)

	// Check if seed has already run.
	if _, err := store.FindFirstUser(ctx, directory.UserFilter{Username: "ada"}); err == nil {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	org, err := store.InsertTeam(ctx, "Acme Corp", nil, nil, directory.TeamMetadata{
		IsOrganization:     true,
		RequestedSlug:      "acme",
		OrgAutoAcceptEmail: "acme.test",
	})
	if err != nil {
		return fmt.Errorf("creating demo organization: %w", err)
	}
	slog.Info("created organization", "id", org.ID, "requested_slug", "acme")

	demoUsers := []struct {
		username string
		email    string
	}{
		{"ada", "ada@acme.test"},
		{"grace", "grace@acme.test"},
		{"linus", "linus@elsewhere.test"},
	}
	var userIDs []int64
	for _, du := range demoUsers {
		u, err := store.InsertUser(ctx, du.username, du.email, nil)
		if err != nil {
			return fmt.Errorf("creating user %q: %w", du.username, err)
		}
		userIDs = append(userIDs, u.ID)
		slog.Info("created user", "id", u.ID, "username", u.Username)
	}

	slug := "compilers"
	team, err := store.InsertTeam(ctx, "Compilers", &slug, nil, directory.TeamMetadata{})
	if err != nil {
		return fmt.Errorf("creating demo team: %w", err)
	}
	for _, id := range userIDs[:2] {
		if err := store.UpsertMembership(ctx, id, team.ID, "member", true); err != nil {
			return fmt.Errorf("creating membership: %w", err)
		}
	}
	slog.Info("created team", "id", team.ID, "slug", slug)

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Organization: %d (requested slug: acme)\n", org.ID)
	fmt.Printf("Users:        %v (ada and grace are in team %d)\n", userIDs, team.ID)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  annex move-user --username ada --org %d\n", org.ID)
	fmt.Printf("  annex remove-user --user-id %d --org %d\n", userIDs[0], org.ID)
	return nil
}
