package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/internal/resolver"
	"github.com/taskwright/taskwright/internal/types"
)

var nextExecutor string

// nextResponse is the machine-readable result of popping the queue.
type nextResponse struct {
	Item   *types.QueueItem `json:"item"`
	Resume bool             `json:"resume"`
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Pop the highest-priority eligible item and mark it executing",
	Long: `Pop the next dispatchable item from the active queue, mark it
executing, and print it as JSON. An item that was already executing (for
example after a process restart) is surfaced first with "resume": true.

Prints {"item": null} when nothing is eligible.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		queue, err := store.GetActiveQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if queue == nil {
			printJSON(nextResponse{})
			return
		}

		ready := resolver.Ready(queue.Items)
		if len(ready) == 0 {
			printJSON(nextResponse{})
			return
		}

		pick := ready[0]
		item, resume, err := store.MarkItemExecuting(ctx, pick.Item.ID, nextExecutor, cliActor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printJSON(nextResponse{Item: item, Resume: resume})
	},
}

func init() {
	nextCmd.Flags().StringVar(&nextExecutor, "executor", "", "record this executor on the item")
	rootCmd.AddCommand(nextCmd)
}
