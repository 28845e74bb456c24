package checkpoint

import (
	"errors"
	"fmt"

	"waggle/feedback"
	"waggle/models"
	"waggle/store"
	"waggle/types"
)

// RecoveryResult describes what Recover actually did, since recovery is
// best-effort and frequently a no-op on re-runs.
type RecoveryResult struct {
	AgentID  string `json:"agentId"`
	TaskID   string `json:"taskId,omitempty"`
	Requeued bool   `json:"requeued"`
}

// Recoverer performs the recovery action for stale agents: requeue the
// in-flight task so another agent (or a restarted instance) can claim it,
// flag the failure, and leave a recovery checkpoint behind.
type Recoverer struct {
	mgr      *Manager
	board    store.TaskBoard
	feedback *feedback.Engine
}

// NewRecoverer wires a Recoverer. The feedback engine may be nil when the
// caller does not track failures.
func NewRecoverer(mgr *Manager, board store.TaskBoard, fb *feedback.Engine) *Recoverer {
	return &Recoverer{mgr: mgr, board: board, feedback: fb}
}

// Recover re-queues the stale agent's in-flight task and writes a recovery
// checkpoint. It is idempotent: the requeue is guarded by the task's current
// status and claimant, so running Recover twice in succession re-queues at
// most once.
func (r *Recoverer) Recover(agentID string) (RecoveryResult, error) {
	result := RecoveryResult{AgentID: agentID}

	latest, err := r.mgr.Latest(agentID)
	if err != nil {
		return result, err
	}

	var state models.CheckpointState
	if latest != nil {
		state = latest.State
	}

	if state.CurrentTask != "" {
		result.TaskID = state.CurrentTask
		task, err := r.board.Get(state.CurrentTask)
		switch {
		case errors.Is(err, types.ErrTaskNotFound):
			// Task already archived or removed; nothing to requeue.
		case err != nil:
			return result, fmt.Errorf("failed to inspect in-flight task %s: %w", state.CurrentTask, err)
		default:
			inFlight := task.Status == models.StatusClaimed || task.Status == models.StatusRunning
			if inFlight && task.ClaimedBy == agentID {
				if _, err := r.board.Requeue(task.ID); err != nil {
					return result, fmt.Errorf("failed to requeue task %s: %w", task.ID, err)
				}
				result.Requeued = true
				if r.feedback != nil {
					reason := fmt.Sprintf("agent %s stale; task requeued by recovery", agentID)
					if err := r.feedback.RecordFailure(task.ID, agentID, reason); err != nil {
						return result, fmt.Errorf("failed to record stale-agent failure: %w", err)
					}
				}
			}
		}
	}

	state.MemorySummary = "recovered after staleness"
	if _, err := r.mgr.Write(agentID, models.CheckpointRecovery, state); err != nil {
		return result, fmt.Errorf("failed to write recovery checkpoint: %w", err)
	}
	return result, nil
}
