package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/internal/types"
)

var listCmd = &cobra.Command{
	Use:   "list [issue-id]",
	Short: "List issues, or the bound solution's tasks of one issue",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if len(args) == 1 {
			listTasks(cmd, args[0])
			return
		}

		issues, err := store.ListIssues(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if flagJSON {
			printJSON(issues)
			return
		}

		if len(issues) == 0 {
			fmt.Println("No issues. Create one with: tw init <issue-id>")
			return
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%-20s %-10s %-4s %-5s %s\n",
			yellow("ID"), yellow("STATUS"), yellow("PRI"), yellow("SOLS"), yellow("TITLE"))
		for _, issue := range issues {
			fmt.Printf("%-20s %-10s %-4d %-5d %s\n",
				issue.ID, statusColor(issue.Status)(string(issue.Status)),
				issue.Priority, issue.SolutionCount, issue.Title)
		}
	},
}

func listTasks(cmd *cobra.Command, issueID string) {
	ctx := cmd.Context()

	issue, err := store.GetIssue(ctx, issueID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if issue == nil {
		fmt.Fprintf(os.Stderr, "Error: issue %s not found\n", issueID)
		os.Exit(1)
	}

	sol, err := store.GetBoundSolution(ctx, issueID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if sol == nil {
		fmt.Fprintf(os.Stderr, "Error: issue %s has no bound solution\n", issueID)
		os.Exit(1)
	}

	if flagJSON {
		printJSON(sol)
		return
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("Solution %s for %s", cyan(sol.ID), cyan(issueID))
	if sol.Description != "" {
		fmt.Printf(" %s", gray("("+sol.Description+")"))
	}
	fmt.Println()
	for _, task := range sol.Tasks {
		fmt.Printf("  %-8s %s", task.ID, task.Title)
		if len(task.DependsOn) > 0 {
			fmt.Printf(" %s", gray("after "+strings.Join(task.DependsOn, ", ")))
		}
		if task.Executor != "" && task.Executor != types.ExecutorAuto {
			fmt.Printf(" %s", gray("["+task.Executor+"]"))
		}
		fmt.Println()
	}
}

// statusColor maps an issue status to its display color.
func statusColor(s types.IssueStatus) func(a ...interface{}) string {
	switch s {
	case types.IssueStatusCompleted:
		return color.New(color.FgGreen).SprintFunc()
	case types.IssueStatusFailed:
		return color.New(color.FgRed).SprintFunc()
	case types.IssueStatusExecuting, types.IssueStatusQueued:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func init() {
	rootCmd.AddCommand(listCmd)
}
