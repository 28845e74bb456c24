// Package feedback keeps the per-task failure ledger consulted by retry
// decisions. The ledger lives in memory; persistence across restarts is a
// configurable policy, not an assumption.
package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"waggle/internal/atomicfile"
	"waggle/models"
)

// Policy configures retry and retention behavior.
type Policy struct {
	// MaxRetries is the total number of tolerated attempts; once
	// failure_count reaches it, ShouldRetry reports false.
	MaxRetries int
	// ClearOnSuccess removes a task's record when it finally completes.
	// When false the record is retained for audit.
	ClearOnSuccess bool
	// PersistPath, when non-empty, makes the ledger survive process
	// restarts by writing it through the atomic file writer after every
	// mutation.
	PersistPath string
	// BaseBackoff and MaxBackoff bound the exponential backoff suggested
	// to the scheduler between attempts.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy matches the substrate's documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		ClearOnSuccess: true,
		BaseBackoff:    2 * time.Second,
		MaxBackoff:     2 * time.Minute,
	}
}

// Engine owns the failure records. It is safe for concurrent use within one
// process; cross-process sharing goes through the persisted file.
type Engine struct {
	mu      sync.Mutex
	records map[string]*models.FailureRecord
	policy  Policy
	writer  *atomicfile.Writer
}

// NewEngine creates an engine with the given policy, loading any previously
// persisted ledger when the policy names a path.
func NewEngine(policy Policy) (*Engine, error) {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = 2 * time.Second
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 2 * time.Minute
	}
	e := &Engine{
		records: make(map[string]*models.FailureRecord),
		policy:  policy,
		writer:  atomicfile.NewWriter(atomicfile.DefaultLockTimeout),
	}
	if policy.PersistPath != "" {
		if err := e.load(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) load() error {
	data, err := os.ReadFile(e.policy.PersistPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read failure ledger %s: %w", e.policy.PersistPath, err)
	}
	if len(data) == 0 {
		return nil
	}
	var records map[string]*models.FailureRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to decode failure ledger %s: %w", e.policy.PersistPath, err)
	}
	e.records = records
	return nil
}

// persist writes the ledger when persistence is configured. Callers must
// hold e.mu.
func (e *Engine) persist() error {
	if e.policy.PersistPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(e.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal failure ledger: %w", err)
	}
	return e.writer.Write(e.policy.PersistPath, data)
}

// RecordFailure appends a failure entry for the task and increments its
// count.
func (e *Engine) RecordFailure(taskID, agentID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[taskID]
	if !ok {
		rec = &models.FailureRecord{TaskID: taskID}
		e.records[taskID] = rec
	}
	rec.History = append(rec.History, models.FailureEntry{
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		Reason:    reason,
	})
	rec.FailureCount = len(rec.History)
	rec.LastReason = reason
	return e.persist()
}

// RecordSuccess notes that the task completed. Under ClearOnSuccess the
// record is dropped; otherwise it is retained for audit.
func (e *Engine) RecordSuccess(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.records[taskID]; !ok {
		return nil
	}
	if e.policy.ClearOnSuccess {
		delete(e.records, taskID)
		return e.persist()
	}
	return nil
}

// ShouldRetry reports whether the task is still within its retry budget:
// failure_count < max_retries.
func (e *Engine) ShouldRetry(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[taskID]
	if !ok {
		return e.policy.MaxRetries > 0
	}
	return rec.FailureCount < e.policy.MaxRetries
}

// History returns the task's failure entries in insertion order.
func (e *Engine) History(taskID string) []models.FailureEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[taskID]
	if !ok {
		return nil
	}
	out := make([]models.FailureEntry, len(rec.History))
	copy(out, rec.History)
	return out
}

// Record returns a copy of the task's failure record, if any.
func (e *Engine) Record(taskID string) (models.FailureRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[taskID]
	if !ok {
		return models.FailureRecord{}, false
	}
	out := *rec
	out.History = make([]models.FailureEntry, len(rec.History))
	copy(out.History, rec.History)
	return out, true
}

// Backoff suggests how long to wait before the task's next attempt,
// doubling per recorded failure up to the policy ceiling.
func (e *Engine) Backoff(taskID string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[taskID]
	if !ok || rec.FailureCount == 0 {
		return 0
	}
	d := e.policy.BaseBackoff
	for i := 1; i < rec.FailureCount; i++ {
		d *= 2
		if d >= e.policy.MaxBackoff {
			return e.policy.MaxBackoff
		}
	}
	if d > e.policy.MaxBackoff {
		d = e.policy.MaxBackoff
	}
	return d
}

// Clear removes a task's record explicitly, e.g. when a task is abandoned.
func (e *Engine) Clear(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.records[taskID]; !ok {
		return nil
	}
	delete(e.records, taskID)
	return e.persist()
}
