package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TaskStatus represents the possible statuses of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusClaimed   TaskStatus = "claimed"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// ValidTransitions is the forward-only task state machine. Cancellation is
// allowed from any non-terminal state. Moving a task backwards (requeue,
// reset) is deliberately absent here; the board exposes those as explicit
// operations instead of transitions.
var ValidTransitions = map[TaskStatus][]TaskStatus{
	StatusPending: {StatusClaimed, StatusCancelled},
	StatusClaimed: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task represents a unit of work on the shared board.
type Task struct {
	ID          string `json:"id" validate:"required"`
	Description string `json:"description" validate:"required,min=3"`
	// TargetAgent pins the task to one agent. Empty means any agent may
	// claim it.
	TargetAgent  string     `json:"targetAgent,omitempty"`
	Priority     int        `json:"priority" validate:"required,min=1,max=10"` // 1 is highest
	Dependencies []string   `json:"dependencies,omitempty"`
	Status       TaskStatus `json:"status" validate:"required,oneof=pending claimed running completed failed cancelled"`
	ClaimedBy    string     `json:"claimedBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt" validate:"required"`
	UpdatedAt    time.Time  `json:"updatedAt" validate:"required"`
	// Result is an opaque payload, present only once the task reaches a
	// terminal state.
	Result     string `json:"result,omitempty"`
	RetryCount int    `json:"retryCount"`
	// TargetFiles and SuccessCriteria are informational for callers; the
	// board stores but never interprets them.
	TargetFiles     []string               `json:"targetFiles,omitempty"`
	SuccessCriteria map[string]interface{} `json:"successCriteria,omitempty"`
}

// TaskList represents the persisted collection of tasks.
type TaskList struct {
	Tasks      []Task `json:"tasks" validate:"dive"`
	TotalCount int    `json:"totalCount"`
}

// global validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateStruct performs validation on any struct that has validation tags.
func ValidateStruct(s interface{}) error {
	if validate == nil {
		validate = validator.New()
	}
	err := validate.Struct(s)
	if err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, fmt.Sprintf("Validation failed on field '%s': rule '%s' (value: '%v')", e.StructNamespace(), e.Tag(), e.Value()))
		}
		return fmt.Errorf("%s", strings.Join(errorMessages, "; "))
	}
	return nil
}

// NewTask creates a pending task with defaulted timestamps and priority.
func NewTask(id, description string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:           id,
		Description:  description,
		Status:       StatusPending,
		Priority:     5,
		CreatedAt:    now,
		UpdatedAt:    now,
		Dependencies: []string{},
	}
}
