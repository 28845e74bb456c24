// Package checkpoint provides the snapshot-and-recovery mechanism: agents
// periodically write timestamped state snapshots, and an external watcher
// treats a missing recent snapshot as the sole staleness signal.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"waggle/internal/atomicfile"
	"waggle/models"
	"waggle/types"
)

const (
	stateDir       = "state"
	checkpointsDir = "checkpoints"
	checkpointExt  = ".json"

	// timestampLayout sorts lexically, so filename order is checkpoint
	// order without parsing.
	timestampLayout = "20060102T150405.000000000Z"
)

// Manager reads and writes checkpoints under a shared agents root. Each
// agent's checkpoints are single-writer (the agent itself) and multi-reader.
type Manager struct {
	root string
}

// NewManager returns a Manager over the given agents root directory.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

func (m *Manager) checkpointDir(agentID string) string {
	return filepath.Join(m.root, agentID, stateDir, checkpointsDir)
}

func checkpointFileName(ts time.Time, typ models.CheckpointType) string {
	return ts.UTC().Format(timestampLayout) + "-" + string(typ) + checkpointExt
}

// Write records a checkpoint for the agent. The filename encodes timestamp
// and type so checkpoints are naturally ordered and never collide.
func (m *Manager) Write(agentID string, typ models.CheckpointType, state models.CheckpointState) (models.Checkpoint, error) {
	cp := models.Checkpoint{
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Version:   1,
		State:     state,
	}
	if prev, err := m.Latest(agentID); err == nil && prev != nil {
		cp.Version = prev.Version + 1
		if !cp.Timestamp.After(prev.Timestamp) {
			// Clock went nowhere between two writes; nudge forward to keep
			// the total order.
			cp.Timestamp = prev.Timestamp.Add(time.Nanosecond)
		}
	}
	if err := models.ValidateStruct(cp); err != nil {
		return models.Checkpoint{}, types.WrapCoordError(types.CodeValidationFailure,
			"validation failed for checkpoint", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("failed to marshal checkpoint for %s: %w", agentID, err)
	}
	path := filepath.Join(m.checkpointDir(agentID), checkpointFileName(cp.Timestamp, typ))
	if err := atomicfile.Replace(path, data); err != nil {
		return models.Checkpoint{}, err
	}
	return cp, nil
}

// list returns the agent's checkpoint filenames in ascending order.
func (m *Manager) list(agentID string) ([]string, error) {
	entries, err := os.ReadDir(m.checkpointDir(agentID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, types.IOFailureError("read dir", m.checkpointDir(agentID), err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), checkpointExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) read(agentID, name string) (*models.Checkpoint, error) {
	path := filepath.Join(m.checkpointDir(agentID), name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.IOFailureError("read", path, err)
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint file %s: %w", path, err)
	}
	return &cp, nil
}

// Latest returns the most recent checkpoint across all types, or nil when
// the agent has never checkpointed.
func (m *Manager) Latest(agentID string) (*models.Checkpoint, error) {
	names, err := m.list(agentID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	return m.read(agentID, names[len(names)-1])
}

// History returns every checkpoint for the agent, oldest first.
func (m *Manager) History(agentID string) ([]models.Checkpoint, error) {
	names, err := m.list(agentID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Checkpoint, 0, len(names))
	for _, name := range names {
		cp, err := m.read(agentID, name)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, nil
}

// IsStale reports whether the agent has gone longer than expectedInterval
// without checkpointing. An agent with no checkpoint at all is maximally
// stale.
func (m *Manager) IsStale(agentID string, expectedInterval time.Duration) (bool, error) {
	latest, err := m.Latest(agentID)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return true, nil
	}
	return time.Since(latest.Timestamp) > expectedInterval, nil
}

// Prune keeps the newest keep checkpoints and removes the rest. Retention is
// external policy; the substrate never prunes on its own.
func (m *Manager) Prune(agentID string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	names, err := m.list(agentID)
	if err != nil {
		return 0, err
	}
	if len(names) <= keep {
		return 0, nil
	}
	removed := 0
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(m.checkpointDir(agentID), name)); err != nil {
			return removed, types.IOFailureError("remove", name, err)
		}
		removed++
	}
	return removed, nil
}
