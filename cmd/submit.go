package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"waggle/internal/ui"
	"waggle/models"
)

var (
	submitPriority    int
	submitTarget      string
	submitDeps        []string
	submitTargetFiles []string
)

// submitCmd submits a new task to the board.
var submitCmd = &cobra.Command{
	Use:   "submit <description>",
	Short: "Submit a new task to the board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := GetBoard()
		if err != nil {
			HandleFatalError("Failed to open the task board", err)
		}
		defer func() { _ = board.Close() }()

		task := models.Task{
			Description:  args[0],
			Priority:     submitPriority,
			TargetAgent:  submitTarget,
			Dependencies: submitDeps,
			TargetFiles:  submitTargetFiles,
		}
		created, err := board.Submit(task)
		if err != nil {
			PrintError("Failed to submit task", err)
			return err
		}
		fmt.Println(ui.StyleSuccess.Render("✓") + " Submitted task " + ui.StylePrimary.Render(created.ID))
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	submitCmd.Flags().IntVarP(&submitPriority, "priority", "p", 5, "priority, 1 is highest")
	submitCmd.Flags().StringVarP(&submitTarget, "agent", "a", "", "pin the task to one agent")
	submitCmd.Flags().StringSliceVarP(&submitDeps, "depends-on", "d", nil, "task IDs that must complete first")
	submitCmd.Flags().StringSliceVar(&submitTargetFiles, "target-files", nil, "informational list of files the task touches")
	rootCmd.AddCommand(submitCmd)
}
