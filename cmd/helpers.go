package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"waggle/checkpoint"
	"waggle/feedback"
	"waggle/mailbox"
	"waggle/store"
)

// GetBoardFilePath returns the full path to the board file.
func GetBoardFilePath() string {
	config := GetConfig()
	return filepath.Join(config.Project.RootDir, config.Board.File)
}

// GetAgentsRoot returns the directory holding every agent's mailbox/state.
func GetAgentsRoot() string {
	config := GetConfig()
	return filepath.Join(config.Project.RootDir, config.Project.AgentsDir)
}

// GetBoard initializes and returns the task board.
func GetBoard() (store.TaskBoard, error) {
	b := store.NewFileTaskBoard()
	config := GetConfig()

	boardFilePath := GetBoardFilePath()
	err := b.Initialize(map[string]string{
		"boardFile":   boardFilePath,
		"boardFormat": config.Board.Format,
		"lockTimeout": config.Board.LockTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize board at %s: %w", boardFilePath, err)
	}
	return b, nil
}

// GetMailbox opens the mailbox for the given agent.
func GetMailbox(agentID string) (*mailbox.Mailbox, error) {
	return mailbox.Open(GetAgentsRoot(), agentID)
}

// GetFeedbackEngine builds the feedback engine per the configured retry
// policy.
func GetFeedbackEngine() (*feedback.Engine, error) {
	config := GetConfig()
	policy := feedback.Policy{
		MaxRetries:     config.Retry.MaxRetries,
		ClearOnSuccess: config.Retry.ClearOnSuccess,
		BaseBackoff:    time.Duration(config.Retry.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(config.Retry.MaxBackoffMs) * time.Millisecond,
	}
	if config.Retry.PersistRecords {
		policy.PersistPath = filepath.Join(config.Project.RootDir, "failures.json")
	}
	return feedback.NewEngine(policy)
}

// GetCheckpointManager returns the checkpoint manager over the agents root.
func GetCheckpointManager() *checkpoint.Manager {
	return checkpoint.NewManager(GetAgentsRoot())
}

// StaleInterval returns the configured staleness threshold.
func StaleInterval() time.Duration {
	return time.Duration(GetConfig().Checkpoint.StaleAfterSeconds) * time.Second
}
