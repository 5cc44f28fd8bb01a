package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/internal/config"
	"github.com/taskwright/taskwright/internal/scheduler"
	"github.com/taskwright/taskwright/internal/server"
	"github.com/taskwright/taskwright/internal/session"
	"github.com/taskwright/taskwright/internal/types"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler engine and its HTTP API",
	Long: `Run the scheduler as a long-lived process: the engine dispatches
ready queue items into CLI tool sessions, the HTTP API exposes control
endpoints and a server-sent event stream, and the config file is watched
for live tuning.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		manager := session.NewCLIManager(nil)
		engine, err := scheduler.New(scheduler.Options{
			Store:       store,
			Manager:     manager,
			Config:      cfg.Scheduler,
			DefaultTool: cfg.DefaultTool,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		janitor := scheduler.NewJanitor(engine)
		janitor.Start()
		defer janitor.Stop()

		// Live config: scheduler tunables apply without restart; db path
		// and listen address changes need one.
		watcher, err := config.Watch(flagConfig, func(next *config.Config) {
			if err := engine.UpdateConfig(context.Background(), next.Scheduler); err != nil {
				fmt.Fprintf(os.Stderr, "config update rejected: %v\n", err)
			}
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: config watch disabled: %v\n", err)
		} else {
			defer watcher.Close()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Scheduler.AutoStart {
			if err := engine.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		listen := serveListen
		if listen == "" {
			listen = cfg.Listen
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("Scheduler listening on %s\n", cyan("http://"+listen))

		if err := server.New(engine, store).Start(ctx, listen); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Drain in-flight sessions before exiting.
		switch engine.Status() {
		case types.SchedulerRunning, types.SchedulerPaused:
			if err := engine.Stop(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
			}
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
