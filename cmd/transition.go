package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"waggle/internal/ui"
	"waggle/models"
)

var transitionResult string

func transitionCommand(use, short string, status models.TaskStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := GetBoard()
			if err != nil {
				HandleFatalError("Failed to open the task board", err)
			}
			defer func() { _ = board.Close() }()

			task, err := board.Transition(args[0], status, transitionResult)
			if err != nil {
				PrintError(fmt.Sprintf("Failed to mark task %s as %s", args[0], status), err)
				return err
			}
			fmt.Println(ui.StyleSuccess.Render("✓") + " Task " + ui.StylePrimary.Render(task.ID) +
				" is now " + ui.StatusStyle(string(task.Status)).Render(string(task.Status)))
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
}

// startCmd moves a claimed task to running.
var startCmd = transitionCommand("start", "Mark a claimed task as running", models.StatusRunning)

// doneCmd completes a running task.
var doneCmd = transitionCommand("done", "Mark a running task as completed", models.StatusCompleted)

// failCmd fails a running task.
var failCmd = transitionCommand("fail", "Mark a running task as failed", models.StatusFailed)

// cancelCmd cancels a task from any non-terminal state.
var cancelCmd = transitionCommand("cancel", "Cancel a task", models.StatusCancelled)

// releaseCmd returns a claimed task to the pending pool.
var releaseCmd = &cobra.Command{
	Use:   "release <task-id>",
	Short: "Return a claimed task to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := GetBoard()
		if err != nil {
			HandleFatalError("Failed to open the task board", err)
		}
		defer func() { _ = board.Close() }()

		task, err := board.Release(args[0])
		if err != nil {
			PrintError("Failed to release task "+args[0], err)
			return err
		}
		fmt.Println(ui.StyleSuccess.Render("✓") + " Released " + ui.StylePrimary.Render(task.ID))
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

// resetCmd is the explicit terminal-to-pending escape hatch.
var resetCmd = &cobra.Command{
	Use:   "reset <task-id>",
	Short: "Move a terminal task back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := GetBoard()
		if err != nil {
			HandleFatalError("Failed to open the task board", err)
		}
		defer func() { _ = board.Close() }()

		task, err := board.Reset(args[0])
		if err != nil {
			PrintError("Failed to reset task "+args[0], err)
			return err
		}
		fmt.Println(ui.StyleSuccess.Render("✓") + " Reset " + ui.StylePrimary.Render(task.ID) + " to pending")
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	for _, c := range []*cobra.Command{doneCmd, failCmd} {
		c.Flags().StringVarP(&transitionResult, "result", "r", "", "opaque result payload recorded on the task")
	}
	rootCmd.AddCommand(startCmd, doneCmd, failCmd, cancelCmd, releaseCmd, resetCmd)
}
