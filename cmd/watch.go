package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"waggle/checkpoint"
	"waggle/internal/ui"
)

var watchSweep time.Duration

// watchCmd runs the staleness watcher until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch agents for staleness and trigger recovery",
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := GetBoard()
		if err != nil {
			HandleFatalError("Failed to open the task board", err)
		}
		defer func() { _ = board.Close() }()

		fb, err := GetFeedbackEngine()
		if err != nil {
			HandleFatalError("Failed to build the feedback engine", err)
		}

		mgr := GetCheckpointManager()
		recoverer := checkpoint.NewRecoverer(mgr, board, fb)
		watcher := checkpoint.NewWatcher(mgr, recoverer, GetAgentsRoot(), StaleInterval(), watchSweep,
			func(agentID string, result checkpoint.RecoveryResult, err error) {
				if err != nil {
					fmt.Println(ui.StyleError.Render("✗") + " recovery of " + agentID + " failed: " + err.Error())
					return
				}
				line := ui.StyleWarning.Render("!") + " agent " + agentID + " stale, recovery initiated"
				if result.Requeued {
					line += " (task " + result.TaskID + " requeued)"
				}
				fmt.Println(line)
			})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Println(ui.StyleHeader.Render("Watching " + GetAgentsRoot()))
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

// recoverCmd forces recovery of one agent.
var recoverCmd = &cobra.Command{
	Use:   "recover <agent-id>",
	Short: "Force recovery of a stale agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := GetBoard()
		if err != nil {
			HandleFatalError("Failed to open the task board", err)
		}
		defer func() { _ = board.Close() }()

		fb, err := GetFeedbackEngine()
		if err != nil {
			HandleFatalError("Failed to build the feedback engine", err)
		}

		recoverer := checkpoint.NewRecoverer(GetCheckpointManager(), board, fb)
		result, err := recoverer.Recover(args[0])
		if err != nil {
			PrintError("Recovery of "+args[0]+" failed", err)
			return err
		}
		if result.Requeued {
			fmt.Println(ui.StyleSuccess.Render("✓") + " Recovered " + args[0] + "; task " + result.TaskID + " requeued")
		} else {
			fmt.Println(ui.StyleSuccess.Render("✓") + " Recovered " + args[0] + "; nothing to requeue")
		}
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	watchCmd.Flags().DurationVar(&watchSweep, "sweep", 0, "sweep interval (default half the staleness threshold)")
	rootCmd.AddCommand(watchCmd, recoverCmd)
}
