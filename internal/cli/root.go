// Package cli implements the taskqctl commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRoot constructs the taskqctl root command with every subcommand
// registered. Command output goes to out, logs to stderr.
func NewRoot(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "taskqctl",
		Short:         "taskq workload driver",
		Long:          "taskqctl drives synthetic workloads through a task queue and reports queue statistics.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.PersistentFlags().String("log-level", os.Getenv("TASKQ_LOG_LEVEL"), "Log level: debug|info|warn|error")

	root.AddCommand(NewBenchCommand())
	root.AddCommand(NewVersionCommand())
	return root
}

// loggerFor builds the command logger from --log-level, defaulting to warn so
// queue lifecycle messages stay out of benchmark output.
func loggerFor(cmd *cobra.Command) (*slog.Logger, error) {
	level := slog.LevelWarn
	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("invalid --log-level %q; use debug|info|warn|error", s)
		}
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})), nil
}
