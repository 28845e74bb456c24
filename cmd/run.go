package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"waggle/internal/ui"
	"waggle/models"
	"waggle/swarm"
)

var (
	runAgentID string
	runPoll    time.Duration
	runShell   string
)

// runCmd runs the cooperative agent loop with a shell-command task handler.
// The handler treats each task description as a command line; real
// deployments inject their own handler through the swarm package.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an agent's control loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runAgentID == "" {
			return errors.New("--agent is required")
		}

		board, err := GetBoard()
		if err != nil {
			HandleFatalError("Failed to open the task board", err)
		}
		defer func() { _ = board.Close() }()

		fb, err := GetFeedbackEngine()
		if err != nil {
			HandleFatalError("Failed to build the feedback engine", err)
		}

		config := GetConfig()
		agentCfg := swarm.Config{
			PollInterval:       runPoll,
			CheckpointInterval: time.Duration(config.Checkpoint.IntervalSeconds) * time.Second,
			KeepCheckpoints:    config.Checkpoint.Keep,
			Logf: func(format string, a ...interface{}) {
				LogError(fmt.Sprintf(format, a...), nil)
			},
		}

		handler := swarm.HandlerFunc(func(ctx context.Context, task models.Task) (string, error) {
			shell := exec.CommandContext(ctx, runShell, "-c", task.Description)
			out, err := shell.CombinedOutput()
			if err != nil {
				return "", fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
			}
			return strings.TrimSpace(string(out)), nil
		})

		agent, err := swarm.New(runAgentID, GetAgentsRoot(), board, fb, handler, agentCfg)
		if err != nil {
			HandleFatalError("Failed to start agent "+runAgentID, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintln(os.Stderr, ui.StyleHeader.Render("Agent "+runAgentID+" running"))
		if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintln(os.Stderr, ui.StyleSubtle.Render("Agent "+runAgentID+" stopped."))
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	runCmd.Flags().StringVarP(&runAgentID, "agent", "a", "", "agent identifier (required)")
	runCmd.Flags().DurationVar(&runPoll, "poll", 2*time.Second, "mailbox/board poll interval")
	runCmd.Flags().StringVar(&runShell, "shell", "/bin/sh", "shell used by the demonstration task handler")
	rootCmd.AddCommand(runCmd)
}
