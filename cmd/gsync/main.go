// cmd/gsync/main.go
//
// Entry point for the gsync CLI. Every checkout command follows the same
// flow:
// 1. Find the checkout root (the directory holding .gsync.yaml)
// 2. Load .gsync/config.yaml and apply flag overrides
// 3. Build the engine and run the command over every dependency
// 4. Render progress in the TUI when attached to a terminal

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "gsync: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// cliOptions holds the persistent flags shared by all commands.
type cliOptions struct {
	root        string
	specPath    string
	jobs        int
	haltOnError bool
	useTUI      bool
	metricsFile string
	verbose     bool
	vars        keyValueFlag
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:   "gsync",
		Short: "Fetch and update a tree of repositories described by .gsync.yaml",
		Long: `gsync checks out the solutions named in .gsync.yaml, reads each
checkout's DEPS manifest, and syncs the dependencies it pins in parallel
while keeping parent directories ahead of the paths nested inside them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.root, "root", "", "checkout root (defaults to the nearest directory holding .gsync.yaml)")
	flags.StringVar(&opts.specPath, "spec", "", "path to the root spec file")
	flags.IntVarP(&opts.jobs, "jobs", "j", 0, "checkouts to run in parallel (defaults to config jobs)")
	flags.BoolVar(&opts.haltOnError, "halt-on-error", false, "stop launching checkouts after the first failure")
	flags.BoolVar(&opts.useTUI, "tui", true, "show live progress when attached to a terminal")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write prometheus metrics to this textfile after the run")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "mirror logs to stderr and pass verbose to checkouts")
	flags.Var(&opts.vars, "var", "custom var applied to every solution (key=value, repeatable)")

	for _, spec := range checkoutCommands {
		root.AddCommand(newCheckoutCmd(opts, spec))
	}
	root.AddCommand(
		newTreeCmd(opts),
		newLogCmd(opts),
		newInitCmd(opts),
	)
	return root
}
