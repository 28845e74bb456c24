package models

import "time"

// FailureEntry is one recorded failure of a task.
type FailureEntry struct {
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agentId"`
	Reason    string    `json:"reason"`
}

// FailureRecord is the retry bookkeeping for one task. FailureCount always
// equals len(History).
type FailureRecord struct {
	TaskID       string         `json:"taskId"`
	FailureCount int            `json:"failureCount"`
	LastReason   string         `json:"lastReason,omitempty"`
	History      []FailureEntry `json:"history"`
}
