package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"waggle/internal/ui"
	"waggle/mailbox"
	"waggle/models"
)

var (
	broadcastID        string
	broadcastObjective string
)

// broadcastCmd fans a control directive out to every known agent.
var broadcastCmd = &cobra.Command{
	Use:       "broadcast <pause|resume|terminate|cleanup>",
	Short:     "Broadcast a control directive to every agent",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pause", "resume", "terminate", "cleanup"},
	RunE: func(cmd *cobra.Command, args []string) error {
		root := GetAgentsRoot()
		agents, err := mailbox.KnownAgents(root)
		if err != nil {
			PrintError("Failed to enumerate agents", err)
			return err
		}
		if len(agents) == 0 {
			fmt.Println(ui.StyleSubtle.Render("No agents to broadcast to."))
			return nil
		}

		report, err := mailbox.BroadcastDirective(root, "cli", broadcastID,
			models.DirectiveKind(args[0]), broadcastObjective, nil, agents)
		if err != nil {
			PrintError("Failed to broadcast directive", err)
			return err
		}

		for _, agent := range report.Delivered {
			fmt.Println(ui.StyleSuccess.Render("✓") + " " + agent)
		}
		for agent, deliverErr := range report.Failed {
			fmt.Println(ui.StyleError.Render("✗") + " " + agent + ": " + deliverErr.Error())
		}
		if !report.AllDelivered() {
			return fmt.Errorf("directive reached %d of %d agents", len(report.Delivered), len(agents))
		}
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	broadcastCmd.Flags().StringVar(&broadcastID, "id", "", "stable directive ID; reuse to make re-announcements idempotent")
	broadcastCmd.Flags().StringVar(&broadcastObjective, "objective", "", "human-readable objective")
	rootCmd.AddCommand(broadcastCmd)
}
