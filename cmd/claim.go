package cmd

import (
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"waggle/internal/ui"
	"waggle/models"
)

var (
	claimAgent string
	claimPick  bool
)

// claimCmd claims the next ready task for an agent, or interactively picks a
// specific pending task.
var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the next ready task",
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := GetBoard()
		if err != nil {
			HandleFatalError("Failed to open the task board", err)
		}
		defer func() { _ = board.Close() }()

		if claimPick {
			pending, err := board.List(func(t models.Task) bool {
				return t.Status == models.StatusPending
			}, nil)
			if err != nil {
				PrintError("Failed to list pending tasks", err)
				return err
			}
			if len(pending) == 0 {
				fmt.Println(ui.StyleSubtle.Render("No pending tasks."))
				return nil
			}
			items := make([]string, len(pending))
			for i, t := range pending {
				items[i] = fmt.Sprintf("%s  [p%d]  %s", t.ID, t.Priority, t.Description)
			}
			prompt := promptui.Select{
				Label: "Pick a task to claim",
				Items: items,
				Size:  10,
			}
			idx, _, err := prompt.Run()
			if err != nil {
				return err
			}
			picked := pending[idx]
			claimed, err := board.Claim(picked.ID, claimAgent)
			if err != nil {
				PrintError("Failed to claim the selected task", err)
				return err
			}
			printClaim(claimed)
			return nil
		}

		task, err := board.NextReadyFor(claimAgent)
		if err != nil {
			PrintError("Failed to claim a task from the board", err)
			return err
		}
		if task == nil {
			fmt.Println(ui.StyleSubtle.Render("No ready tasks for " + displayAgent(claimAgent) + "."))
			return nil
		}
		printClaim(*task)
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func displayAgent(agentID string) string {
	if agentID == "" {
		return "any agent"
	}
	return agentID
}

func printClaim(task models.Task) {
	fmt.Println(ui.StyleSuccess.Render("✓") + " Claimed " + ui.StylePrimary.Render(task.ID))
	fmt.Println("  " + task.Description)
}

func init() {
	claimCmd.Flags().StringVarP(&claimAgent, "agent", "a", "", "agent ID doing the claiming")
	claimCmd.Flags().BoolVar(&claimPick, "pick", false, "interactively pick a pending task instead")
	rootCmd.AddCommand(claimCmd)
}
