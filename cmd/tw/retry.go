package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var retryForce bool

var retryCmd = &cobra.Command{
	Use:   "retry [issue-id]",
	Short: "Reset failed items to pending",
	Long: `Reset failed (and dependent blocked) items in the active queue to
pending so the scheduler picks them up again. With an issue-id, only that
issue's items are touched.

--force also resets items that have been executing longer than the stuck
threshold. Use it after confirming the run is really dead; the scheduler
never does this on its own.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		issueID := ""
		if len(args) == 1 {
			issueID = args[0]
		}

		n, err := store.RetryFailed(ctx, issueID, retryForce, cfg.Scheduler.StuckThreshold(), cliActor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if flagJSON {
			printJSON(map[string]int{"retried": n})
			return
		}

		if n == 0 {
			fmt.Println("Nothing to retry")
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Reset %d item(s) to pending\n", green("✓"), n)
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retryForce, "force", false, "also reset items stuck in executing")
	rootCmd.AddCommand(retryCmd)
}
