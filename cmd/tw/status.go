package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [issue-id]",
	Short: "Show issue, solution and queue counts",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			issueStatus(cmd, args[0])
			return
		}
		overallStatus(cmd)
	},
}

type statusSummary struct {
	Issues      map[types.IssueStatus]int `json:"issues"`
	ActiveQueue *types.QueueSummary       `json:"active_queue,omitempty"`
	Stale       []*types.QueueItem        `json:"stale,omitempty"`
}

func overallStatus(cmd *cobra.Command) {
	ctx := cmd.Context()

	issues, err := store.ListIssues(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	summary := statusSummary{Issues: make(map[types.IssueStatus]int)}
	for _, issue := range issues {
		summary.Issues[issue.Status]++
	}

	queue, err := store.GetActiveQueue(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if queue != nil {
		summary.ActiveQueue = &types.QueueSummary{
			ID:        queue.ID,
			Status:    queue.Status,
			Active:    true,
			Metadata:  queue.Metadata,
			CreatedAt: queue.CreatedAt,
		}
		// Items executing past the stuck threshold; candidates for
		// retry --force.
		cutoff := time.Now().Add(-cfg.Scheduler.StuckThreshold())
		for _, item := range queue.Items {
			if item.Status == types.ItemStatusExecuting &&
				item.StartedAt != nil && item.StartedAt.Before(cutoff) {
				summary.Stale = append(summary.Stale, item)
			}
		}
	}

	if flagJSON {
		printJSON(summary)
		return
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== taskwright status ==="))

	fmt.Printf("%s\n", yellow("Issues:"))
	if len(issues) == 0 {
		fmt.Printf("  %s\n", gray("none"))
	}
	for _, st := range []types.IssueStatus{
		types.IssueStatusRegistered, types.IssueStatusPlanning, types.IssueStatusPlanned,
		types.IssueStatusQueued, types.IssueStatusExecuting, types.IssueStatusCompleted,
		types.IssueStatusFailed, types.IssueStatusPaused,
	} {
		if n := summary.Issues[st]; n > 0 {
			fmt.Printf("  %-11s %d\n", st, n)
		}
	}

	fmt.Printf("\n%s\n", yellow("Active queue:"))
	if queue == nil {
		fmt.Printf("  %s\n", gray("none"))
	} else {
		m := queue.Metadata
		fmt.Printf("  %s (%s): %d items, %d pending, %d executing, %d completed, %d failed\n",
			queue.ID, queue.Status, m.Total, m.Pending, m.Executing, m.Completed, m.Failed)
	}

	if len(summary.Stale) > 0 {
		fmt.Printf("\n%s\n", red("Stale executing items (retry --force to reset):"))
		for _, item := range summary.Stale {
			fmt.Printf("  %s  %s  started %s\n", item.ID, item.Title,
				item.StartedAt.Format("2006-01-02 15:04:05"))
		}
	}
	fmt.Println()
}

type issueDetail struct {
	Issue  *types.Issue        `json:"issue"`
	Bound  *types.Solution     `json:"bound_solution,omitempty"`
	Items  []*types.QueueItem  `json:"items,omitempty"`
	Events []*types.AuditEvent `json:"events,omitempty"`
}

func issueStatus(cmd *cobra.Command, issueID string) {
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

	detail := issueDetail{Issue: issue}
	detail.Bound, err = store.GetBoundSolution(ctx, issueID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if queue, err := store.GetActiveQueue(ctx); err == nil && queue != nil {
		for _, item := range queue.Items {
			if item.IssueID == issueID {
				detail.Items = append(detail.Items, item)
			}
		}
	}

	detail.Events, err = store.GetEvents(ctx, issueID, 10)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if flagJSON {
		printJSON(detail)
		return
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s  %s\n", cyan(issue.ID), issue.Title)
	fmt.Printf("  Status:    %s\n", statusColor(issue.Status)(string(issue.Status)))
	fmt.Printf("  Priority:  %d\n", issue.Priority)
	fmt.Printf("  Solutions: %d", issue.SolutionCount)
	if detail.Bound != nil {
		fmt.Printf(" (bound: %s)", detail.Bound.ID)
	}
	fmt.Println()

	if len(detail.Items) > 0 {
		fmt.Printf("\n%s\n", yellow("Queue items:"))
		for _, item := range detail.Items {
			fmt.Printf("  %-8s %-10s %s\n", item.ID, item.Status, item.Title)
		}
	}

	if len(detail.Events) > 0 {
		fmt.Printf("\n%s\n", yellow("Recent events:"))
		for _, ev := range detail.Events {
			fmt.Printf("  %s  %-16s %s\n",
				gray(ev.CreatedAt.Format("15:04:05")), ev.Type, ev.Detail)
		}
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
