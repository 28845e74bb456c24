package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"waggle/internal/ui"
)

var compactOlderThan time.Duration

// compactCmd archives old terminal tasks out of the live board file.
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Archive old completed, failed and cancelled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := GetBoard()
		if err != nil {
			HandleFatalError("Failed to open the task board", err)
		}
		defer func() { _ = board.Close() }()

		n, err := board.Compact(compactOlderThan)
		if err != nil {
			PrintError("Failed to compact the board", err)
			return err
		}
		fmt.Printf("%s Archived %d task(s)\n", ui.StyleSuccess.Render("✓"), n)
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	compactCmd.Flags().DurationVar(&compactOlderThan, "older-than", 7*24*time.Hour, "minimum age of terminal tasks to archive")
	rootCmd.AddCommand(compactCmd)
}
