package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/alecgard/annex/internal/config"
	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/migration"
	"github.com/alecgard/annex/internal/org"
	"github.com/alecgard/annex/internal/redirect"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// Flags shared by the operation commands.
var (
	opOrgID          int64
	opUserID         int64
	opUsername       string
	opTargetUsername string
	opRole           string
	opNotAccepted    bool
	opTeamID         int64
	opMoveMembers    bool
)

var moveUserCmd = &cobra.Command{
	Use:   "move-user",
	Short: "Migrate a user into an organization",
	Long:  "Migrates a standalone user into the target organization. Safe to re-run: a partially applied migration is completed by invoking the same command again.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, engine *migration.Engine) error {
			accepted := !opNotAccepted
			return engine.MigrateUserToOrg(ctx, migration.MigrateUserArgs{
				UserID:         opUserID,
				Username:       opUsername,
				TargetOrgID:    opOrgID,
				TargetUsername: opTargetUsername,
				Role:           opRole,
				Accepted:       &accepted,
			})
		})
	},
}

var removeUserCmd = &cobra.Command{
	Use:   "remove-user",
	Short: "Revert a user migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, engine *migration.Engine) error {
			return engine.RemoveUserFromOrg(ctx, migration.RemoveUserArgs{
				UserID:      opUserID,
				TargetOrgID: opOrgID,
			})
		})
	},
}

var moveTeamCmd = &cobra.Command{
	Use:   "move-team",
	Short: "Move a team into an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, engine *migration.Engine) error {
			accepted := !opNotAccepted
			return engine.MoveTeamToOrg(ctx, migration.MoveTeamArgs{
				TeamID:      opTeamID,
				TargetOrgID: opOrgID,
				MoveMembers: opMoveMembers,
				Role:        opRole,
				Accepted:    &accepted,
			})
		})
	},
}

var removeTeamCmd = &cobra.Command{
	Use:   "remove-team",
	Short: "Move a team back out of an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, engine *migration.Engine) error {
			return engine.RemoveTeamFromOrg(ctx, migration.RemoveTeamArgs{
				TeamID:      opTeamID,
				TargetOrgID: opOrgID,
			})
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{moveUserCmd, removeUserCmd, moveTeamCmd, removeTeamCmd} {
		cmd.Flags().Int64Var(&opOrgID, "org", 0, "target organization id")
		_ = cmd.MarkFlagRequired("org")
	}

	moveUserCmd.Flags().Int64Var(&opUserID, "user-id", 0, "user id (exactly one of --user-id and --username)")
	moveUserCmd.Flags().StringVar(&opUsername, "username", "", "standalone username (exactly one of --user-id and --username)")
	moveUserCmd.Flags().StringVar(&opTargetUsername, "target-username", "", "username inside the organization (derived from email when empty)")
	moveUserCmd.Flags().StringVar(&opRole, "role", "", "membership role (default: member)")
	moveUserCmd.Flags().BoolVar(&opNotAccepted, "not-accepted", false, "create the membership unaccepted")

	removeUserCmd.Flags().Int64Var(&opUserID, "user-id", 0, "user id")
	_ = removeUserCmd.MarkFlagRequired("user-id")

	moveTeamCmd.Flags().Int64Var(&opTeamID, "team-id", 0, "team id")
	_ = moveTeamCmd.MarkFlagRequired("team-id")
	moveTeamCmd.Flags().BoolVar(&opMoveMembers, "move-members", false, "also migrate every team member")
	moveTeamCmd.Flags().StringVar(&opRole, "role", "", "membership role for migrated members (default: member)")
	moveTeamCmd.Flags().BoolVar(&opNotAccepted, "not-accepted", false, "create memberships unaccepted")

	removeTeamCmd.Flags().Int64Var(&opTeamID, "team-id", 0, "team id")
	_ = removeTeamCmd.MarkFlagRequired("team-id")

	rootCmd.AddCommand(moveUserCmd, removeUserCmd, moveTeamCmd, removeTeamCmd)
}

// withEngine connects to the database, builds the migration engine, and runs
// fn against it.
func withEngine(fn func(ctx context.Context, engine *migration.Engine) error) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

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
	engine := migration.NewEngine(store, org.NewResolver(store), redirect.NewMaintainer(store, cfg.Site.Origin))

	if err := fn(ctx, engine); err != nil {
		return err
	}
	slog.Info("operation completed")
	return nil
}
