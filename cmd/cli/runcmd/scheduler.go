package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"agenda/internal/config"
	"agenda/internal/reminder"
	"agenda/internal/scheduler"
	"agenda/internal/store"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Starts the reminder scheduler process",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running scheduler process")
		conf := config.FromCobraCmd(cmd)

		db := mustDatabase(conf)
		publisher := mustPublisher(conf)

		templates := store.NewTemplateStore(db)
		statistics := store.NewStatisticsStore(db)
		resolver := reminder.NewControlResolver(store.NewGroupStore(db))
		executor := scheduler.NewTriggerExecutor(templates, statistics, resolver, publisher)
		loop := scheduler.NewLoop(templates, statistics, resolver, executor, publisher)

		ctx, cancel := context.WithCancel(context.Background())

		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Could not close db cleanly on shutdown: %v\n", err)
			}

			if err := publisher.Close(); err != nil {
				log.Printf("Could not close redis event stream cleanly on shutdown: %v\n", err)
			}

			cancel()
			loop.Stop()
		}()

		// One overdue sweep before the steady-state loop takes over
		action := conf.GetOverdueAction()
		if report, err := loop.HandleOverdue(ctx, "", action, conf.GraceWindow()); err != nil {
			log.Error().Err(err).Msg("Overdue sweep failed")
		} else if report.TotalCount > 0 {
			log.Info().
				Str("action", string(action)).
				Int("total", report.TotalCount).
				Msg("Overdue sweep complete")
		}

		loop.Start(ctx, conf.TickInterval(), scheduler.RunOptions{
			MaxCount:    conf.Scheduler.MaxCount,
			Concurrency: conf.Scheduler.Concurrency,
		})

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		log.Info().Msgf("Received signal %v, shutting down...", <-sigCh)
	},
}
