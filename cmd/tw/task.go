package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/internal/types"
)

var (
	taskTitle     string
	taskScope     string
	taskAction    string
	taskDependsOn []string
	taskExecutor  string
	taskEstimate  int
)

var taskCmd = &cobra.Command{
	Use:   "task <issue-id> [task-id]",
	Short: "Add or update a manual task in the bound solution",
	Long: `Add or update a task in the issue's bound solution. If no solution
is bound yet, a manual one is created and bound. When task-id is omitted,
the next free t<N> id is used.

Example:
  tw task myapp-42 --title "Write failing test" --scope tests/
  tw task myapp-42 t2 --title "Fix handler" --depends-on t1`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		issueID := args[0]

		if taskTitle == "" {
			fmt.Fprintf(os.Stderr, "Error: --title is required\n")
			os.Exit(1)
		}

		taskID := ""
		if len(args) == 2 {
			taskID = args[1]
		} else {
			sol, err := store.GetBoundSolution(ctx, issueID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			n := 1
			if sol != nil {
				n = len(sol.Tasks) + 1
			}
			taskID = fmt.Sprintf("t%d", n)
		}

		executor := taskExecutor
		if executor == "" {
			executor = types.ExecutorAuto
		}

		task := types.SolutionTask{
			ID:               taskID,
			Title:            taskTitle,
			Scope:            taskScope,
			Action:           taskAction,
			DependsOn:        taskDependsOn,
			Executor:         executor,
			EstimatedMinutes: taskEstimate,
		}
		if err := store.UpsertTask(ctx, issueID, task, cliActor); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if flagJSON {
			printJSON(task)
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Task %s saved on %s\n", green("✓"), taskID, issueID)
	},
}

func init() {
	taskCmd.Flags().StringVar(&taskTitle, "title", "", "task title (required)")
	taskCmd.Flags().StringVar(&taskScope, "scope", "", "files or area the task touches")
	taskCmd.Flags().StringVar(&taskAction, "action", "", "what the executor should do")
	taskCmd.Flags().StringSliceVar(&taskDependsOn, "depends-on", nil, "sibling task ids this task waits for")
	taskCmd.Flags().StringVar(&taskExecutor, "executor", "", "tool name, or auto")
	taskCmd.Flags().IntVar(&taskEstimate, "estimate", 0, "estimated minutes")
	rootCmd.AddCommand(taskCmd)
}
