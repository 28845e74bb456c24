package models

import "time"

// CheckpointType distinguishes why a checkpoint was taken.
type CheckpointType string

const (
	CheckpointRoutine CheckpointType = "routine"
	// CheckpointPreOperation is written before a risky operation so recovery
	// has a known-good point to resume from.
	CheckpointPreOperation CheckpointType = "pre-operation"
	CheckpointRecovery     CheckpointType = "recovery"
)

// CheckpointState is the operational snapshot carried by a checkpoint.
type CheckpointState struct {
	CurrentTask   string `json:"currentTask,omitempty"`
	MailboxCursor uint64 `json:"mailboxCursor"`
	MemorySummary string `json:"memorySummary,omitempty"`
}

// Checkpoint is a point-in-time snapshot of one agent. Checkpoints are
// single-writer (the owning agent) and read-only to everyone else.
type Checkpoint struct {
	AgentID   string          `json:"agentId" validate:"required"`
	Timestamp time.Time       `json:"timestamp" validate:"required"`
	Type      CheckpointType  `json:"checkpointType" validate:"required,oneof=routine pre-operation recovery"`
	Version   int             `json:"version" validate:"min=1"`
	State     CheckpointState `json:"state"`
}
