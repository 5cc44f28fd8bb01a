package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Multi-queue management and enqueueing",
	Long: `Manage execution queues. Exactly one queue is active at a time;
"queue add" enqueues an issue's bound solution into it.`,
	Run: func(cmd *cobra.Command, args []string) {
		queueListCmd.Run(cmd, args)
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all queues",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		queues, err := store.ListQueues(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if flagJSON {
			printJSON(queues)
			return
		}

		if len(queues) == 0 {
			fmt.Println("No queues. Enqueue an issue with: tw queue add <issue-id>")
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%-12s %-10s %-7s %s\n",
			yellow("ID"), yellow("STATUS"), yellow("ITEMS"), yellow("PROGRESS"))
		for _, q := range queues {
			marker := " "
			if q.Active {
				marker = green("*")
			}
			fmt.Printf("%s%-11s %-10s %-7d %d done, %d failed, %d executing\n",
				marker, q.ID, q.Status, q.Metadata.Total,
				q.Metadata.Completed, q.Metadata.Failed, q.Metadata.Executing)
		}
	},
}

var queueSwitchCmd = &cobra.Command{
	Use:   "switch <queue-id>",
	Short: "Make another queue the active one",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := store.SwitchActiveQueue(cmd.Context(), args[0], cliActor); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Active queue is now %s\n", green("✓"), args[0])
	},
}

var queueArchiveCmd = &cobra.Command{
	Use:   "archive <queue-id>",
	Short: "Archive a queue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := store.ArchiveQueue(cmd.Context(), args[0], cliActor); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Archived queue %s\n", green("✓"), args[0])
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add <issue-id>",
	Short: "Enqueue the issue's bound solution into the active queue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		queue, items, err := store.Enqueue(ctx, args[0], cliActor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if flagJSON {
			printJSON(map[string]interface{}{"queue": queue.ID, "items": items})
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		if len(items) == 0 {
			fmt.Printf("%s Nothing to add; all tasks of %s are already in %s\n",
				green("✓"), args[0], cyan(queue.ID))
			return
		}
		fmt.Printf("%s Enqueued %d item(s) into %s\n", green("✓"), len(items), cyan(queue.ID))
		for _, item := range items {
			fmt.Printf("  %-8s %s\n", item.ID, item.Title)
		}
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueSwitchCmd)
	queueCmd.AddCommand(queueArchiveCmd)
	queueCmd.AddCommand(queueAddCmd)
	rootCmd.AddCommand(queueCmd)
}
