package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"waggle/internal/ui"
	"waggle/mailbox"
	"waggle/models"
)

var (
	sendFrom string
	sendType string
)

// sendCmd delivers a message into an agent's inbox.
var sendCmd = &cobra.Command{
	Use:   "send <agent-id> <content>",
	Short: "Deliver a message to an agent's inbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mbox, err := GetMailbox(args[0])
		if err != nil {
			HandleFatalError("Failed to open mailbox for "+args[0], err)
		}

		msg, err := models.NewMessage("", sendFrom, args[0], models.MessageType(sendType),
			models.InstructionPayload{Content: args[1]})
		if err != nil {
			return err
		}
		delivered, err := mbox.Deliver(msg)
		if err != nil {
			PrintError("Failed to deliver message to "+args[0], err)
			return err
		}
		fmt.Println(ui.StyleSuccess.Render("✓") + " Delivered " + ui.StylePrimary.Render(delivered.ID))
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

// peekCmd lists an agent's unread messages without consuming them.
var peekCmd = &cobra.Command{
	Use:   "peek <agent-id>",
	Short: "List an agent's unread messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mbox, err := GetMailbox(args[0])
		if err != nil {
			HandleFatalError("Failed to open mailbox for "+args[0], err)
		}
		msgs, err := mbox.Poll()
		if err != nil {
			PrintError("Failed to poll mailbox of "+args[0], err)
			return err
		}
		if len(msgs) == 0 {
			fmt.Println(ui.StyleSubtle.Render("Inbox of " + args[0] + " is empty."))
			return nil
		}
		fmt.Println(ui.StyleHeader.Render("Inbox: " + args[0]))
		for _, m := range msgs {
			fmt.Printf("  %s  %-12s from %s  %s\n",
				m.Timestamp.Format("2006-01-02 15:04:05"),
				ui.StyleWarning.Render(string(m.Type)),
				m.Sender,
				ui.StylePrimary.Render(m.ID))
		}
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

// agentsCmd enumerates known mailboxes.
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List known agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := mailbox.KnownAgents(GetAgentsRoot())
		if err != nil {
			PrintError("Failed to enumerate agents", err)
			return err
		}
		if len(agents) == 0 {
			fmt.Println(ui.StyleSubtle.Render("No agents yet."))
			return nil
		}
		for _, agent := range agents {
			fmt.Println("  " + agent)
		}
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	sendCmd.Flags().StringVar(&sendFrom, "from", "cli", "sender identifier")
	sendCmd.Flags().StringVar(&sendType, "type", string(models.TypeInstruction), "message type tag")
	rootCmd.AddCommand(sendCmd, peekCmd, agentsCmd)
}
