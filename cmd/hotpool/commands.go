package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hotpool/internal/config"
	"hotpool/internal/supervisor"
	"hotpool/internal/task"
)

const description = "Hot-reloading task pool supervisor"

var (
	cyan  = color.New(color.FgCyan).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "hotpool",
		Short:         description,
		Long:          description + ". Settings come from hotpool.yaml, .env and HOTPOOL_* variables.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	rootCmd.SetContext(context.Background())

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newKindsCommand())
	rootCmd.AddCommand(newStatusCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the supervisor version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hotpool %s\n", Version)
		},
	}
}

func newKindsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List task kinds a manifest can bind to",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, kind := range task.Builtins().Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), kind)
			}
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last status snapshot written by a running supervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Supervisor.StatusFile == "" {
				return fmt.Errorf("supervisor.status_file is not configured")
			}
			status, err := supervisor.NewStatusFile(cfg.Supervisor.StatusFile).Read()
			if err != nil {
				return fmt.Errorf("read status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n%s\n", bold(cyan("hotpool")), green(Version), gray(description))
}

func printStatus(w io.Writer, status supervisor.Status) {
	fmt.Fprintf(w, "%s %s  cycle %d  at %s\n", bold("pool"), status.Pool, status.Cycle, status.Timestamp)
	if status.LastError != "" {
		fmt.Fprintf(w, "%s %s\n", red("last error:"), status.LastError)
	}
	if len(status.Tasks) == 0 {
		fmt.Fprintln(w, gray("  no tasks running"))
		return
	}
	ids := make([]string, 0, len(status.Tasks))
	for id := range status.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	width := 0
	for _, id := range ids {
		if len(id) > width {
			width = len(id)
		}
	}
	for _, id := range ids {
		ts := status.Tasks[id]
		fmt.Fprintf(w, "  %s%s %s %s %s\n",
			cyan(id), strings.Repeat(" ", width-len(id)),
			green(ts.Name+" "+ts.Version),
			gray("digest="+ts.Digest),
			gray(fmt.Sprintf("runs=%d since %s", ts.Iterations, ts.StartedAt)))
	}
}
