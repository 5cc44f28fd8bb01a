package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/internal/types"
)

var (
	doneFail   bool
	doneReason string
	doneResult string
)

var doneCmd = &cobra.Command{
	Use:   "done <queue-item-id>",
	Short: "Record the terminal outcome of a queue item",
	Long: `Record success (default) or failure (--fail) for a queue item.
Issue and queue statuses roll up in the same transaction. Recording a
second outcome for the same item is rejected.

Example:
  tw done qi-7 --result '{"files_changed": 3}'
  tw done qi-8 --fail --reason "tests still red"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		itemID := args[0]

		if doneFail && doneReason == "" {
			fmt.Fprintf(os.Stderr, "Error: --fail requires --reason\n")
			os.Exit(1)
		}

		outcome := types.ItemOutcome{
			Success:       !doneFail,
			Result:        doneResult,
			FailureReason: doneReason,
		}
		if err := store.RecordOutcome(ctx, itemID, outcome, cliActor); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if flagJSON {
			item, err := store.GetQueueItem(ctx, itemID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printJSON(item)
			return
		}

		if doneFail {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s Marked %s failed: %s\n", red("✗"), itemID, doneReason)
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Marked %s completed\n", green("✓"), itemID)
	},
}

func init() {
	doneCmd.Flags().BoolVar(&doneFail, "fail", false, "record a failure instead of success")
	doneCmd.Flags().StringVar(&doneReason, "reason", "", "failure reason (required with --fail)")
	doneCmd.Flags().StringVar(&doneResult, "result", "", "result payload (JSON or free text)")
	rootCmd.AddCommand(doneCmd)
}
