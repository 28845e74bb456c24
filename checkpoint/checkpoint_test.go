package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waggle/feedback"
	"waggle/models"
	"waggle/store"
)

func newTestBoard(t *testing.T) *store.FileTaskBoard {
	t.Helper()
	board := store.NewFileTaskBoard()
	err := board.Initialize(map[string]string{
		"boardFile": filepath.Join(t.TempDir(), "board.json"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = board.Close() })
	return board
}

// writeAgedCheckpoint plants a checkpoint file with a timestamp in the past,
// the way an agent that stopped checkpointing would have left it.
func writeAgedCheckpoint(t *testing.T, m *Manager, agentID string, age time.Duration, state models.CheckpointState) {
	t.Helper()
	ts := time.Now().UTC().Add(-age)
	cp := models.Checkpoint{
		AgentID:   agentID,
		Timestamp: ts,
		Type:      models.CheckpointRoutine,
		Version:   1,
		State:     state,
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	require.NoError(t, err)
	dir := m.checkpointDir(agentID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, checkpointFileName(ts, models.CheckpointRoutine))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestWriteAssignsIncreasingVersions(t *testing.T) {
	m := NewManager(t.TempDir())

	first, err := m.Write("agent-1", models.CheckpointRoutine, models.CheckpointState{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := m.Write("agent-1", models.CheckpointPreOperation, models.CheckpointState{CurrentTask: "task-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.True(t, second.Timestamp.After(first.Timestamp))

	latest, err := m.Latest("agent-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "task-1", latest.State.CurrentTask)
	assert.Equal(t, models.CheckpointPreOperation, latest.Type)
}

func TestLatestNilForUnknownAgent(t *testing.T) {
	m := NewManager(t.TempDir())
	latest, err := m.Latest("ghost")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestHistoryOldestFirst(t *testing.T) {
	m := NewManager(t.TempDir())

	for i := 0; i < 3; i++ {
		_, err := m.Write("agent-1", models.CheckpointRoutine, models.CheckpointState{MailboxCursor: uint64(i)})
		require.NoError(t, err)
	}

	history, err := m.History("agent-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, cp := range history {
		assert.Equal(t, i+1, cp.Version)
		assert.Equal(t, uint64(i), cp.State.MailboxCursor)
	}
}

func TestIsStale(t *testing.T) {
	m := NewManager(t.TempDir())

	// Never checkpointed: maximally stale.
	stale, err := m.IsStale("agent-1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, stale)

	// Fresh checkpoint: not stale.
	_, err = m.Write("agent-1", models.CheckpointRoutine, models.CheckpointState{})
	require.NoError(t, err)
	stale, err = m.IsStale("agent-1", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, stale)

	// Last checkpoint 20 minutes ago against a 10 minute interval: stale.
	writeAgedCheckpoint(t, m, "agent-2", 20*time.Minute, models.CheckpointState{})
	stale, err = m.IsStale("agent-2", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestPruneKeepsNewest(t *testing.T) {
	m := NewManager(t.TempDir())

	for i := 0; i < 5; i++ {
		_, err := m.Write("agent-1", models.CheckpointRoutine, models.CheckpointState{MailboxCursor: uint64(i)})
		require.NoError(t, err)
	}

	removed, err := m.Prune("agent-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	history, err := m.History("agent-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(3), history[0].State.MailboxCursor)
	assert.Equal(t, uint64(4), history[1].State.MailboxCursor)

	// Pruning below one retained checkpoint is clamped.
	removed, err = m.Prune("agent-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestRecoverRequeuesInFlightTaskExactlyOnce(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	board := newTestBoard(t)
	fb, err := feedback.NewEngine(feedback.DefaultPolicy())
	require.NoError(t, err)

	task, err := board.Submit(models.Task{Description: "interrupted work"})
	require.NoError(t, err)
	claimed, err := board.NextReadyFor("agent-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	_, err = board.Transition(task.ID, models.StatusRunning, "")
	require.NoError(t, err)

	writeAgedCheckpoint(t, m, "agent-1", 20*time.Minute, models.CheckpointState{CurrentTask: task.ID})

	r := NewRecoverer(m, board, fb)
	result, err := r.Recover("agent-1")
	require.NoError(t, err)
	assert.True(t, result.Requeued)
	assert.Equal(t, task.ID, result.TaskID)

	requeued, err := board.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, requeued.Status)
	assert.Empty(t, requeued.ClaimedBy)
	assert.Equal(t, 1, requeued.RetryCount)

	// The staleness is flagged in the failure ledger.
	rec, ok := fb.Record(task.ID)
	require.True(t, ok)
	assert.Equal(t, 1, rec.FailureCount)

	// A recovery checkpoint was written on top of the stale one.
	latest, err := m.Latest("agent-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.CheckpointRecovery, latest.Type)

	// Second recovery run finds the task already pending and does nothing.
	result, err = r.Recover("agent-1")
	require.NoError(t, err)
	assert.False(t, result.Requeued)
	requeued, err = board.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued.RetryCount)
}

func TestRecoverSkipsTaskClaimedByAnotherAgent(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	board := newTestBoard(t)

	task, err := board.Submit(models.Task{Description: "reassigned work"})
	require.NoError(t, err)
	claimed, err := board.NextReadyFor("agent-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// agent-1's stale checkpoint references a task now owned by agent-2.
	writeAgedCheckpoint(t, m, "agent-1", time.Hour, models.CheckpointState{CurrentTask: task.ID})

	r := NewRecoverer(m, board, nil)
	result, err := r.Recover("agent-1")
	require.NoError(t, err)
	assert.False(t, result.Requeued)

	got, err := board.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClaimed, got.Status)
	assert.Equal(t, "agent-2", got.ClaimedBy)
}

func TestRecoverWithoutCheckpointStillLeavesRecoveryMark(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	board := newTestBoard(t)

	r := NewRecoverer(m, board, nil)
	result, err := r.Recover("agent-1")
	require.NoError(t, err)
	assert.False(t, result.Requeued)
	assert.Empty(t, result.TaskID)

	latest, err := m.Latest("agent-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.CheckpointRecovery, latest.Type)
}

func TestSweepRecoversOnlyStaleAgents(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	board := newTestBoard(t)

	task, err := board.Submit(models.Task{Description: "stalled"})
	require.NoError(t, err)
	claimed, err := board.NextReadyFor("stale-agent")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	writeAgedCheckpoint(t, m, "stale-agent", time.Hour, models.CheckpointState{CurrentTask: task.ID})
	_, err = m.Write("healthy-agent", models.CheckpointRoutine, models.CheckpointState{})
	require.NoError(t, err)

	var notified []string
	w := NewWatcher(m, NewRecoverer(m, board, nil), root, 10*time.Minute, time.Minute,
		func(agentID string, result RecoveryResult, err error) {
			require.NoError(t, err)
			notified = append(notified, agentID)
		})
	w.Sweep()

	assert.Equal(t, []string{"stale-agent"}, notified)
	got, err := board.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	// The recovery checkpoint counts as activity, so the next sweep is quiet.
	notified = nil
	w.Sweep()
	assert.Empty(t, notified)
}
