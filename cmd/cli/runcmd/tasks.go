package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"agenda/internal/config"
	"agenda/internal/events"
	"agenda/internal/scheduler"
	"agenda/internal/store"
	"agenda/internal/task"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Starts the schedule task runner process",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running task runner process")
		conf := config.FromCobraCmd(cmd)

		db := mustDatabase(conf)
		publisher := mustPublisher(conf)

		tasks := store.NewTaskStore(db)
		statistics := store.NewStatisticsStore(db)
		runner := scheduler.NewTaskRunner(tasks, statistics, publisher, dispatchAction(publisher))

		ctx, cancel := context.WithCancel(context.Background())

		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Could not close db cleanly on shutdown: %v\n", err)
			}

			if err := publisher.Close(); err != nil {
				log.Printf("Could not close redis event stream cleanly on shutdown: %v\n", err)
			}

			cancel()
			runner.Stop()
		}()

		runner.Start(ctx, conf.TickInterval(), conf.Scheduler.TaskBatchSize)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		log.Info().Msgf("Received signal %v, shutting down...", <-sigCh)
	},
}

// dispatchAction hands the task to its source module by publishing a dispatch
// event. The module consumers do the actual work (send the notification, sync
// the goal) and report back through their own APIs.
func dispatchAction(publisher events.Publisher) scheduler.TaskAction {
	return func(ctx context.Context, t *task.ScheduleTask) (string, error) {
		evt := events.New(events.TaskDispatched, t.ID(), t.AccountID(), map[string]any{
			"source_module":    string(t.SourceModule()),
			"source_entity_id": t.SourceEntityID(),
			"name":             t.Name(),
		})
		if err := publisher.Publish(ctx, evt); err != nil {
			return "", err
		}
		return "dispatched", nil
	}
}
