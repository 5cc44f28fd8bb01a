// Command tw is the taskwright CLI: issue registration, solution binding,
// queue management and the scheduler server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/internal/config"
	"github.com/taskwright/taskwright/internal/storage"
)

var (
	flagDB     string
	flagConfig string
	flagJSON   bool

	cfg   *config.Config
	store storage.Store
)

// cliActor is the audit-trail identity for CLI-driven mutations.
const cliActor = "cli"

var rootCmd = &cobra.Command{
	Use:   "tw",
	Short: "Task queue scheduler for AI CLI tools",
	Long: `tw turns issues and their bound solutions into dependency-ordered
queue items and schedules them into AI CLI sessions under a concurrency cap.

Typical flow:
  tw init myapp-42 --title "Fix login timeout"
  tw bind myapp-42 --solution plan.yaml
  tw queue add myapp-42
  tw serve                # or drive items by hand with next/done`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagDB != "" {
			cfg.DBPath = flagDB
		}
		store, err = storage.NewStore(cmd.Context(), &storage.Config{Path: cfg.DBPath})
		if err != nil {
			return fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default .taskwright/tw.db)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default .taskwright/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to encode output: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
