package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/internal/types"
)

var (
	initTitle    string
	initPriority int
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init <issue-id>",
	Short: "Register a new issue",
	Long: `Register a new issue in the tracker. The issue starts in the
registered status; bind a solution to it before enqueueing.

Example:
  tw init myapp-42 --title "Fix login timeout" --priority 1`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		issueID := args[0]

		existing, err := store.GetIssue(ctx, issueID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if existing != nil {
			if !initForce {
				fmt.Fprintf(os.Stderr, "Error: issue %s already exists (use --force to replace)\n", issueID)
				os.Exit(1)
			}
			if err := store.DeleteIssue(ctx, issueID); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		title := initTitle
		if title == "" {
			title = issueID
		}
		issue := &types.Issue{ID: issueID, Title: title, Priority: initPriority}
		if err := store.CreateIssue(ctx, issue, cliActor); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if flagJSON {
			printJSON(issue)
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s Registered issue %s\n", green("✓"), cyan(issueID))
		fmt.Printf("  Title:    %s\n", issue.Title)
		fmt.Printf("  Priority: %d\n", issue.Priority)
	},
}

func init() {
	initCmd.Flags().StringVar(&initTitle, "title", "", "issue title (defaults to the issue id)")
	initCmd.Flags().IntVar(&initPriority, "priority", 2, "priority 0 (highest) to 4")
	initCmd.Flags().BoolVar(&initForce, "force", false, "replace an existing issue")
	rootCmd.AddCommand(initCmd)
}
