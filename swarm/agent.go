// Package swarm runs the cooperative per-agent control loop: poll mailbox,
// apply directives, claim a task, execute, checkpoint, repeat. The loop owns
// no business logic; task execution is delegated to an injected handler and
// every piece of state flows through the coordination substrate.
package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"waggle/checkpoint"
	"waggle/feedback"
	"waggle/internal/atomicfile"
	"waggle/mailbox"
	"waggle/models"
	"waggle/store"
)

// TaskHandler executes one claimed task and returns an opaque result.
type TaskHandler interface {
	Execute(ctx context.Context, task models.Task) (string, error)
}

// HandlerFunc adapts a function to the TaskHandler interface.
type HandlerFunc func(ctx context.Context, task models.Task) (string, error)

func (f HandlerFunc) Execute(ctx context.Context, task models.Task) (string, error) {
	return f(ctx, task)
}

// Config tunes the control loop.
type Config struct {
	PollInterval       time.Duration
	CheckpointInterval time.Duration
	// KeepCheckpoints bounds retention applied by the cleanup directive.
	KeepCheckpoints int
	// Logf receives loop diagnostics; nil silences them.
	Logf func(format string, args ...interface{})
}

// DefaultConfig returns the loop's documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:       2 * time.Second,
		CheckpointInterval: 30 * time.Second,
		KeepCheckpoints:    20,
	}
}

// Agent is one independent worker process's view of the swarm.
type Agent struct {
	id      string
	board   store.TaskBoard
	mbox    *mailbox.Mailbox
	ckpts   *checkpoint.Manager
	fb      *feedback.Engine
	handler TaskHandler
	cfg     Config

	paused     bool
	terminated bool
	cursor     uint64
	seen       map[string]time.Time
	seenPath   string
}

// New wires an agent. agentsRoot is the directory holding every agent's
// mailbox and state.
func New(id, agentsRoot string, board store.TaskBoard, fb *feedback.Engine, handler TaskHandler, cfg Config) (*Agent, error) {
	if handler == nil {
		return nil, errors.New("swarm: task handler is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultConfig().CheckpointInterval
	}
	if cfg.KeepCheckpoints <= 0 {
		cfg.KeepCheckpoints = DefaultConfig().KeepCheckpoints
	}
	mbox, err := mailbox.Open(agentsRoot, id)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		id:       id,
		board:    board,
		mbox:     mbox,
		ckpts:    checkpoint.NewManager(agentsRoot),
		fb:       fb,
		handler:  handler,
		cfg:      cfg,
		seen:     make(map[string]time.Time),
		seenPath: filepath.Join(agentsRoot, id, "state", "directives.json"),
	}
	if err := a.loadSeenDirectives(); err != nil {
		return nil, err
	}
	return a, nil
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Paused reports whether a pause directive is in effect.
func (a *Agent) Paused() bool { return a.paused }

func (a *Agent) logf(format string, args ...interface{}) {
	if a.cfg.Logf != nil {
		a.cfg.Logf(format, args...)
	}
}

// loadSeenDirectives restores the directive idempotency guard, so a restart
// does not re-apply directives that were already handled.
func (a *Agent) loadSeenDirectives() error {
	data, err := os.ReadFile(a.seenPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read directive ledger %s: %w", a.seenPath, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &a.seen); err != nil {
		return fmt.Errorf("failed to decode directive ledger %s: %w", a.seenPath, err)
	}
	return nil
}

func (a *Agent) saveSeenDirectives() error {
	data, err := json.MarshalIndent(a.seen, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal directive ledger: %w", err)
	}
	return atomicfile.Replace(a.seenPath, data)
}

// Run executes the control loop until ctx is cancelled or a terminate
// directive arrives. Cancellation is only checked at loop boundaries, never
// mid-operation.
func (a *Agent) Run(ctx context.Context) error {
	if _, err := a.checkpointNow(models.CheckpointRoutine, ""); err != nil {
		return err
	}
	lastCheckpoint := time.Now()

	for {
		select {
		case <-ctx.Done():
			_, _ = a.checkpointNow(models.CheckpointRoutine, "")
			return ctx.Err()
		default:
		}

		if err := a.processMailbox(); err != nil {
			a.logf("agent %s: mailbox poll failed: %v", a.id, err)
		}
		if a.terminated {
			_, _ = a.checkpointNow(models.CheckpointRoutine, "")
			return nil
		}

		if !a.paused {
			if err := a.runNextTask(ctx); err != nil {
				a.logf("agent %s: task cycle failed: %v", a.id, err)
			}
		}

		if time.Since(lastCheckpoint) >= a.cfg.CheckpointInterval {
			if _, err := a.checkpointNow(models.CheckpointRoutine, ""); err != nil {
				a.logf("agent %s: checkpoint failed: %v", a.id, err)
			} else {
				lastCheckpoint = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			_, _ = a.checkpointNow(models.CheckpointRoutine, "")
			return ctx.Err()
		case <-time.After(a.cfg.PollInterval):
		}
	}
}

func (a *Agent) checkpointNow(typ models.CheckpointType, currentTask string) (models.Checkpoint, error) {
	return a.ckpts.Write(a.id, typ, models.CheckpointState{
		CurrentTask:   currentTask,
		MailboxCursor: a.cursor,
	})
}

// processMailbox drains unread messages, applying directives and retiring
// everything it handled.
func (a *Agent) processMailbox() error {
	msgs, err := a.mbox.Poll()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		outcome := mailbox.Outcome{Success: true, Note: "handled"}
		if msg.Type == models.TypeDirective {
			if err := a.applyDirective(msg); err != nil {
				a.logf("agent %s: directive %s rejected: %v", a.id, msg.ID, err)
				outcome = mailbox.Outcome{Success: false, Note: err.Error()}
			}
		}
		if err := a.mbox.Acknowledge(msg.ID, outcome); err != nil {
			return err
		}
		if msg.Sequence > a.cursor {
			a.cursor = msg.Sequence
		}
		if a.terminated {
			break
		}
	}
	return nil
}

// applyDirective acts on a control message exactly once per directive ID,
// even when the same directive is re-broadcast or redelivered.
func (a *Agent) applyDirective(msg models.Message) error {
	decoded, err := msg.DecodePayload()
	if err != nil {
		return err
	}
	payload, ok := decoded.(*models.DirectivePayload)
	if !ok {
		return fmt.Errorf("directive message %s carries no directive payload", msg.ID)
	}
	if _, applied := a.seen[payload.DirectiveID]; applied {
		return nil
	}
	a.seen[payload.DirectiveID] = time.Now().UTC()
	if err := a.saveSeenDirectives(); err != nil {
		return err
	}

	switch payload.Kind {
	case models.DirectivePause:
		a.paused = true
	case models.DirectiveResume:
		a.paused = false
	case models.DirectiveTerminate:
		a.terminated = true
	case models.DirectiveCleanup:
		if _, err := a.ckpts.Prune(a.id, a.cfg.KeepCheckpoints); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown directive kind %q", payload.Kind)
	}
	a.logf("agent %s: applied directive %s (%s)", a.id, payload.DirectiveID, payload.Kind)
	return nil
}

// runNextTask claims and executes at most one task. Failures are recorded
// with the feedback engine, and retry-eligible tasks are put back on the
// board after the suggested backoff.
func (a *Agent) runNextTask(ctx context.Context) error {
	task, err := a.board.NextReadyFor(a.id)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}

	if _, err := a.checkpointNow(models.CheckpointPreOperation, task.ID); err != nil {
		return err
	}
	if _, err := a.board.Transition(task.ID, models.StatusRunning, ""); err != nil {
		return err
	}

	result, execErr := a.handler.Execute(ctx, *task)
	if execErr != nil {
		if _, err := a.board.Transition(task.ID, models.StatusFailed, execErr.Error()); err != nil {
			return err
		}
		if a.fb != nil {
			if err := a.fb.RecordFailure(task.ID, a.id, execErr.Error()); err != nil {
				return err
			}
			if a.fb.ShouldRetry(task.ID) {
				if wait := a.fb.Backoff(task.ID); wait > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(wait):
					}
				}
				if _, err := a.board.Reset(task.ID); err != nil {
					return err
				}
				a.logf("agent %s: task %s requeued for retry", a.id, task.ID)
			}
		}
	} else {
		if _, err := a.board.Transition(task.ID, models.StatusCompleted, result); err != nil {
			return err
		}
		if a.fb != nil {
			if err := a.fb.RecordSuccess(task.ID); err != nil {
				return err
			}
		}
	}

	_, err = a.checkpointNow(models.CheckpointRoutine, "")
	return err
}
