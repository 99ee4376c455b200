package cmd

import (
	"fmt"

	"user-level-system/database"
	"user-level-system/fixtures"
	"user-level-system/services"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the level tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := bootstrap()
		if err != nil {
			return err
		}
		defer rt.close()
		if err := database.Migrate(rt.db); err != nil {
			return err
		}
		rt.log.Info("Migration complete")
		return nil
	},
}

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the level ladder from YAML (embedded default when --file is empty)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		set, err := loadFixtures(seedFile)
		if err != nil {
			return err
		}
		rt, err := bootstrap()
		if err != nil {
			return err
		}
		defer rt.close()
		if err := database.Migrate(rt.db); err != nil {
			return err
		}

		ctx := services.WithActor(cmd.Context(), "seed")
		loader := &fixtures.Loader{
			Levels:   services.NewLevelService(rt.db, rt.log),
			Rules:    services.NewRuleService(rt.db, rt.log),
			Progress: services.NewProgressService(rt.db, rt.log),
			Log:      rt.log,
		}
		sum, err := loader.Apply(ctx, set)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "levels: %d created, %d updated; rules: %d created, %d updated; progress: %d\n",
			sum.LevelsCreated, sum.LevelsUpdated, sum.RulesCreated, sum.RulesUpdated, sum.Progress)
		return nil
	},
}

var demoteRemark string

var advanceCmd = &cobra.Command{
	Use:   "advance <user-id>...",
	Short: "Run one upgrade evaluation for each user",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForUsers(cmd, args, func(up *services.UpgradeService, cmd *cobra.Command, id string) (services.Outcome, error) {
			return up.Advance(cmd.Context(), services.UserID(id))
		})
	},
}

var demoteCmd = &cobra.Command{
	Use:   "demote <user-id>...",
	Short: "Move each user one level down",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForUsers(cmd, args, func(up *services.UpgradeService, cmd *cobra.Command, id string) (services.Outcome, error) {
			return up.Demote(cmd.Context(), services.UserID(id), demoteRemark)
		})
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "fixture YAML file")
	demoteCmd.Flags().StringVar(&demoteRemark, "remark", "", "remark stored in the assign log (max 100 chars)")
}

type userAction func(up *services.UpgradeService, cmd *cobra.Command, userID string) (services.Outcome, error)

func runForUsers(cmd *cobra.Command, ids []string, action userAction) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	cmd.SetContext(services.WithActor(cmd.Context(), "cli"))
	up, closeLock, err := rt.upgradeService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeLock()

	failed := 0
	for _, id := range ids {
		out, err := action(up, cmd, id)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", id, out.Kind, out.Message())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d users failed", failed, len(ids))
	}
	return nil
}
