package checkpoint

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"waggle/types"
)

// StaleFunc is notified whenever the watcher acts on a stale agent. The
// error is non-nil when recovery itself failed.
type StaleFunc func(agentID string, result RecoveryResult, err error)

// Watcher is the external observer that turns missing checkpoints into
// recovery actions. It combines an fsnotify watch (cheap liveness hints as
// checkpoint files appear) with a periodic sweep that is the actual source
// of truth; when fsnotify is unavailable the sweep alone still works.
type Watcher struct {
	mgr              *Manager
	recoverer        *Recoverer
	root             string
	expectedInterval time.Duration
	sweepInterval    time.Duration
	onStale          StaleFunc

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewWatcher builds a watcher over the agents root. expectedInterval is the
// longest acceptable gap between an agent's checkpoints; sweepInterval is
// how often the watcher looks for violators.
func NewWatcher(mgr *Manager, recoverer *Recoverer, root string, expectedInterval, sweepInterval time.Duration, onStale StaleFunc) *Watcher {
	if sweepInterval <= 0 {
		sweepInterval = expectedInterval / 2
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Watcher{
		mgr:              mgr,
		recoverer:        recoverer,
		root:             root,
		expectedInterval: expectedInterval,
		sweepInterval:    sweepInterval,
		onStale:          onStale,
		lastSeen:         make(map[string]time.Time),
	}
}

// listAgents returns the agent directories under the root.
func (w *Watcher) listAgents() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, types.IOFailureError("read dir", w.root, err)
	}
	var agents []string
	for _, e := range entries {
		if e.IsDir() {
			agents = append(agents, e.Name())
		}
	}
	return agents, nil
}

// markSeen records filesystem-level checkpoint activity for an agent.
func (w *Watcher) markSeen(agentID string) {
	w.mu.Lock()
	w.lastSeen[agentID] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) seenRecently(agentID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen, ok := w.lastSeen[agentID]
	return ok && time.Since(seen) <= w.expectedInterval
}

// Run blocks until ctx is cancelled, sweeping for stale agents and
// recovering them.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, fswErr := fsnotify.NewWatcher()
	if fswErr == nil {
		defer func() { _ = fsw.Close() }()
		_ = fsw.Add(w.root)
		if agents, err := w.listAgents(); err == nil {
			for _, agent := range agents {
				_ = fsw.Add(w.mgr.checkpointDir(agent))
			}
		}
	}

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		if fswErr == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-fsw.Events:
				if !ok {
					fswErr = errors.New("fsnotify channel closed")
					continue
				}
				w.handleEvent(fsw, ev)
				continue
			case _, ok := <-fsw.Errors:
				if !ok {
					fswErr = errors.New("fsnotify channel closed")
				}
				continue
			case <-ticker.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		w.Sweep()
	}
}

// handleEvent turns checkpoint file creation into a liveness hint and starts
// watching checkpoint dirs of newly appeared agents.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(rel, string(os.PathSeparator))
	agentID := parts[0]
	if len(parts) == 1 {
		// New agent directory: watch its checkpoints as they appear.
		_ = fsw.Add(w.mgr.checkpointDir(agentID))
		return
	}
	if strings.HasSuffix(ev.Name, checkpointExt) {
		w.markSeen(agentID)
	}
}

// Sweep checks every known agent once and recovers the stale ones. It is
// exported so CLI tooling can force a single pass.
func (w *Watcher) Sweep() {
	agents, err := w.listAgents()
	if err != nil {
		return
	}
	for _, agentID := range agents {
		if w.seenRecently(agentID) {
			continue
		}
		stale, err := w.mgr.IsStale(agentID, w.expectedInterval)
		if err != nil || !stale {
			continue
		}
		result, err := w.recoverer.Recover(agentID)
		if err == nil {
			// The recovery checkpoint itself counts as activity.
			w.markSeen(agentID)
		}
		if w.onStale != nil {
			w.onStale(agentID, result, err)
		}
	}
}
