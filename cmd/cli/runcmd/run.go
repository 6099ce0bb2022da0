package runcmd

import (
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"agenda/internal/config"
	"agenda/internal/database"
	"agenda/internal/events"
)

var Command = &cobra.Command{
	Use:   "run",
	Short: "Run service",
	Long:  "Run service from a selected list of services",
}

func init() {
	Command.AddCommand(schedulerCmd)
	Command.AddCommand(tasksCmd)
}

func mustDatabase(conf *config.AgendaConfig) *sqlx.DB {
	db, err := database.New(conf)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	return db
}

func mustPublisher(conf *config.AgendaConfig) *events.RedisPublisher {
	publisher, err := events.NewRedisPublisher(conf.Events.Host, conf.Events.Password, conf.Events.DB)
	if err != nil {
		log.Fatalf("Could not connect to redis event stream: %v", err)
	}
	return publisher
}
