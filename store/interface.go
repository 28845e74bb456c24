package store

import (
	"time"

	"waggle/models"
)

// BoardSnapshot is a read-only aggregate of the board's contents.
type BoardSnapshot struct {
	Total      int                       `json:"total"`
	ByStatus   map[models.TaskStatus]int `json:"byStatus"`
	ReadyCount int                       `json:"readyCount"`
}

// TaskBoard defines the interface for the shared task registry. It is the
// single source of truth for task existence and status; every mutating
// operation runs inside one lock-protected critical section.
type TaskBoard interface {
	// Initialize configures the board with backend-specific settings such
	// as the persisted file path, data format and lock timeout. It must be
	// called before any other operation.
	Initialize(config map[string]string) error

	// Submit validates and appends a new task. A task submitted without an
	// ID is assigned one; submitting an existing ID fails with
	// DuplicateTask. The task's status is initialized to pending.
	Submit(task models.Task) (models.Task, error)

	// NextReadyFor selects, claims and returns the next eligible task for
	// the given agent: pending, all dependencies completed, and either
	// untargeted or targeted at this agent. Selection order is (priority,
	// createdAt), lower priority number first. Selection and the claim
	// transition happen inside the same critical section, which is the
	// at-most-one-claimant guarantee. Returns nil when nothing is ready.
	NextReadyFor(agentID string) (*models.Task, error)

	// Claim claims one specific pending task for the agent, subject to the
	// same eligibility rules as NextReadyFor. It fails with
	// InvalidTransition when the task is not pending and with
	// ValidationFailure when its dependencies are not yet completed or it is
	// targeted at a different agent.
	Claim(taskID, agentID string) (models.Task, error)

	// Transition moves a task through the forward-only state machine,
	// rejecting anything else with InvalidTransition. The result payload is
	// recorded on terminal transitions.
	Transition(taskID string, newStatus models.TaskStatus, result string) (models.Task, error)

	// Release returns a claimed task to pending, clearing its claimant.
	Release(taskID string) (models.Task, error)

	// Requeue returns a claimed or running task to pending and increments
	// its retry count. Used by crash recovery and the retry scheduler.
	Requeue(taskID string) (models.Task, error)

	// Reset is the explicit escape hatch that moves a terminal task back to
	// pending. It is never applied implicitly.
	Reset(taskID string) (models.Task, error)

	// Get retrieves a task by ID.
	Get(taskID string) (models.Task, error)

	// List retrieves tasks, optionally filtered and sorted.
	List(filterFn func(models.Task) bool, sortFn func([]models.Task) []models.Task) ([]models.Task, error)

	// Snapshot returns a read-only aggregate without taking the exclusive
	// lock. A stale read is acceptable here.
	Snapshot() (BoardSnapshot, error)

	// Compact archives terminal tasks older than the given age into the
	// board's archive file and removes them from the live set. It returns
	// the number of tasks archived. Pending, claimed and running tasks are
	// never touched.
	Compact(olderThan time.Duration) (int, error)

	// Close releases any resources held by the board, such as file locks.
	Close() error
}
