package statscmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"agenda/internal/config"
	"agenda/internal/database"
	"agenda/internal/reminder"
	"agenda/internal/scheduler"
	"agenda/internal/store"
)

var Command = &cobra.Command{
	Use:   "stats",
	Short: "Statistics maintenance",
}

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Rebuilds an account's reminder counters from persisted history",
	Run: func(cmd *cobra.Command, args []string) {
		accountID, err := cmd.Flags().GetString("account")
		if err != nil || accountID == "" {
			log.Fatal().Err(err).Msg("An account id is required")
		}

		conf := config.FromCobraCmd(cmd)
		db, err := database.New(conf)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not connect to database")
		}
		defer db.Close()

		templates := store.NewTemplateStore(db)
		statistics := store.NewStatisticsStore(db)
		resolver := reminder.NewControlResolver(store.NewGroupStore(db))
		executor := scheduler.NewTriggerExecutor(templates, statistics, resolver, nil)
		loop := scheduler.NewLoop(templates, statistics, resolver, executor, nil)

		if err := loop.RecalculateStatistics(context.Background(), accountID); err != nil {
			log.Fatal().Err(err).Str("account_id", accountID).Msg("Recalculation failed")
		}
		log.Info().Str("account_id", accountID).Msg("Statistics recalculated")
	},
}

func init() {
	recalcCmd.Flags().String("account", "", "account id to recalculate")
	Command.AddCommand(recalcCmd)
}
