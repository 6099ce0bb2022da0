package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"agenda/cmd/cli/runcmd"
	"agenda/cmd/cli/statscmd"
)

var RootCmd = &cobra.Command{
	Use:   "agendactl",
	Short: "Agenda - a personal scheduling core",
	Long: `Agenda is the scheduling core behind a personal productivity suite. It detects
calendar conflicts, computes recurring trigger times, executes scheduled tasks
with retry and keeps per-account usage statistics.

At a minimum you need to start the scheduler, which runs the reminder loop and
the task runner.`,
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.AddCommand(runcmd.Command)
	RootCmd.AddCommand(statscmd.Command)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
