package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"waggle/internal/ui"
	"waggle/models"
)

var boardAll bool

// boardCmd shows the board's status snapshot and task list.
var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the task board",
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := GetBoard()
		if err != nil {
			HandleFatalError("Failed to open the task board", err)
		}
		defer func() { _ = board.Close() }()

		snap, err := board.Snapshot()
		if err != nil {
			PrintError("Failed to read the board snapshot", err)
			return err
		}

		fmt.Println(ui.StyleHeader.Render("Task Board"))
		fmt.Printf("  total: %d   ready: %d\n", snap.Total, snap.ReadyCount)
		statuses := make([]string, 0, len(snap.ByStatus))
		for status := range snap.ByStatus {
			statuses = append(statuses, string(status))
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			styled := ui.StatusStyle(status).Render(status)
			fmt.Printf("  %-32s %d\n", styled, snap.ByStatus[models.TaskStatus(status)])
		}

		tasks, err := board.List(func(t models.Task) bool {
			return boardAll || !t.Status.IsTerminal()
		}, nil)
		if err != nil {
			PrintError("Failed to list tasks", err)
			return err
		}
		if len(tasks) > 0 {
			fmt.Println()
			for _, t := range tasks {
				status := ui.StatusStyle(string(t.Status)).Render(fmt.Sprintf("%-9s", t.Status))
				claimant := ""
				if t.ClaimedBy != "" {
					claimant = ui.StyleSubtle.Render(" ← " + t.ClaimedBy)
				}
				fmt.Printf("  %s p%d  %s  %s%s\n", status, t.Priority, ui.StylePrimary.Render(t.ID), t.Description, claimant)
			}
		}
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	boardCmd.Flags().BoolVar(&boardAll, "all", false, "include completed, failed and cancelled tasks")
	rootCmd.AddCommand(boardCmd)
}
