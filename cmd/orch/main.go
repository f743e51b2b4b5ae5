// Command orch is the local task orchestrator CLI: it loads a plan file,
// validates its DAG, and drives the plan's tasks to completion (or resumes
// a previously interrupted run), persisting crash-resumable state as it
// goes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swarmguard/orch/internal/cli"
	"github.com/swarmguard/orch/internal/obs"
)

func main() {
	obs.InitLogging("orch")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers := obs.Init(ctx, "orch")
	defer providers.Shutdown(context.Background())

	app := &cli.App{Out: os.Stdout, ErrOut: os.Stderr, Providers: providers}

	root := newRootCommand(ctx, app)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitBadInput)
	}
}

func newRootCommand(ctx context.Context, app *cli.App) *cobra.Command {
	root := &cobra.Command{
		Use:          "orch",
		Short:        "CLI agent task orchestrator",
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCommand(ctx, app),
		newResumeCommand(ctx, app),
		newStatusCommand(app),
		newLogsCommand(app),
		newCancelCommand(app),
	)
	return root
}

func newRunCommand(ctx context.Context, app *cli.App) *cobra.Command {
	opts := cli.RunOptions{}
	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "run a plan from scratch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PlanPath = args[0]
			os.Exit(app.Run(ctx, opts))
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.MaxParallel, "max-parallel", 4, "maximum concurrently running tasks")
	cmd.Flags().StringVar(&opts.Home, "home", ".orch", "orchestrator home directory")
	cmd.Flags().StringVar(&opts.Workdir, "workdir", ".", "default task working directory")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop scheduling new tasks after the first failure")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the topological order and exit")
	return cmd
}

func newResumeCommand(ctx context.Context, app *cli.App) *cobra.Command {
	opts := cli.ResumeOptions{}
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "resume a previously interrupted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RunID = args[0]
			os.Exit(app.Resume(ctx, opts))
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.MaxParallel, "max-parallel", 4, "maximum concurrently running tasks")
	cmd.Flags().StringVar(&opts.Home, "home", ".orch", "orchestrator home directory")
	cmd.Flags().StringVar(&opts.Workdir, "workdir", ".", "default task working directory")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop scheduling new tasks after the first failure")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed-only", false, "only rerun FAILED tasks and their non-SUCCESS downstream tasks")
	return cmd
}

func newStatusCommand(app *cli.App) *cobra.Command {
	opts := cli.StatusOptions{}
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "show a run's current task states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RunID = args[0]
			os.Exit(app.Status(opts))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Home, "home", ".orch", "orchestrator home directory")
	cmd.Flags().BoolVar(&opts.AsJSON, "json", false, "print the full state document as JSON")
	return cmd
}

func newLogsCommand(app *cli.App) *cobra.Command {
	opts := cli.LogsOptions{}
	cmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "tail a run's captured task output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RunID = args[0]
			os.Exit(app.Logs(opts))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Home, "home", ".orch", "orchestrator home directory")
	cmd.Flags().StringVar(&opts.Task, "task", "", "restrict output to a single task id")
	cmd.Flags().IntVar(&opts.Tail, "tail", 100, "number of trailing lines per stream")
	return cmd
}

func newCancelCommand(app *cli.App) *cobra.Command {
	var home string
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "request cooperative cancellation of a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(app.Cancel(args[0], home))
			return nil
		},
	}
	cmd.Flags().StringVar(&home, "home", ".orch", "orchestrator home directory")
	return cmd
}
