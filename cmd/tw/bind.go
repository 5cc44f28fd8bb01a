package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskwright/taskwright/internal/types"
)

var bindSolutionPath string

// solutionFile is the on-disk authoring format for a solution, accepted as
// YAML or JSON.
type solutionFile struct {
	Description string `yaml:"description" json:"description"`
	Tasks       []struct {
		ID               string   `yaml:"id" json:"id"`
		Title            string   `yaml:"title" json:"title"`
		Scope            string   `yaml:"scope" json:"scope"`
		Action           string   `yaml:"action" json:"action"`
		DependsOn        []string `yaml:"depends_on" json:"depends_on"`
		Executor         string   `yaml:"executor" json:"executor"`
		EstimatedMinutes int      `yaml:"estimated_minutes" json:"estimated_minutes"`
	} `yaml:"tasks" json:"tasks"`
}

var bindCmd = &cobra.Command{
	Use:   "bind <issue-id> [solution-id]",
	Short: "Register and/or bind a solution to an issue",
	Long: `Bind a solution to an issue, making its tasks the ones that enqueue.
With a solution-id argument, an already-registered solution is bound. With
--solution, the file is registered as a new solution and bound in one step.

Solution file (YAML or JSON):
  description: Fix login timeout
  tasks:
    - id: t1
      title: Write failing test
      scope: tests/
    - id: t2
      title: Fix the handler
      depends_on: [t1]`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		issueID := args[0]

		solutionID := ""
		if len(args) == 2 {
			solutionID = args[1]
		}

		if solutionID == "" && bindSolutionPath == "" {
			fmt.Fprintf(os.Stderr, "Error: give a solution-id or --solution <path>\n")
			os.Exit(1)
		}
		if solutionID != "" && bindSolutionPath != "" {
			fmt.Fprintf(os.Stderr, "Error: solution-id and --solution are mutually exclusive\n")
			os.Exit(1)
		}

		if bindSolutionPath != "" {
			sol, err := loadSolutionFile(bindSolutionPath, issueID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			created, err := store.AddSolution(ctx, sol, cliActor)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			solutionID = created.ID
		}

		if err := store.BindSolution(ctx, issueID, solutionID, cliActor); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if flagJSON {
			sol, err := store.GetBoundSolution(ctx, issueID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printJSON(sol)
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s Bound solution %s to %s\n", green("✓"), cyan(solutionID), cyan(issueID))
	},
}

func loadSolutionFile(path, issueID string) (*types.Solution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read solution file: %w", err)
	}

	var file solutionFile
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parse solution file %s: %w", path, err)
	}

	sol := &types.Solution{IssueID: issueID, Description: file.Description}
	for _, t := range file.Tasks {
		executor := t.Executor
		if executor == "" {
			executor = types.ExecutorAuto
		}
		sol.Tasks = append(sol.Tasks, types.SolutionTask{
			ID:               t.ID,
			Title:            t.Title,
			Scope:            t.Scope,
			Action:           t.Action,
			DependsOn:        t.DependsOn,
			Executor:         executor,
			EstimatedMinutes: t.EstimatedMinutes,
		})
	}
	if err := sol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid solution file %s: %w", path, err)
	}
	return sol, nil
}

func init() {
	bindCmd.Flags().StringVar(&bindSolutionPath, "solution", "", "path to a solution YAML/JSON file to register and bind")
	rootCmd.AddCommand(bindCmd)
}
