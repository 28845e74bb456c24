package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	yaml "gopkg.in/yaml.v3"

	"waggle/internal/atomicfile"
	"waggle/models"
	"waggle/types"
)

const (
	defaultBoardFile   = "board.json"
	boardFileKey       = "boardFile"
	boardFormatKey     = "boardFormat"
	lockTimeoutKey     = "lockTimeout"
	defaultBoardFormat = "json"
	formatJSON         = "json"
	formatYAML         = "yaml"
	formatTOML         = "toml"

	archiveSuffix = ".archive.json"

	lockRetryDelay = 25 * time.Millisecond
)

// FileTaskBoard implements the TaskBoard interface with a single persisted
// task set protected by an advisory file lock. Every mutating operation
// reloads from disk, mutates in memory and writes back atomically inside the
// same critical section, so a failed write leaves no partial state visible
// to other readers.
type FileTaskBoard struct {
	filePath    string
	tasks       map[string]models.Task
	flk         *flock.Flock
	format      string
	lockTimeout time.Duration
}

// NewFileTaskBoard creates a new instance of FileTaskBoard.
// It does not initialize the board; Initialize must be called separately.
func NewFileTaskBoard() *FileTaskBoard {
	return &FileTaskBoard{
		tasks:       make(map[string]models.Task),
		lockTimeout: atomicfile.DefaultLockTimeout,
	}
}

// Initialize configures the FileTaskBoard. It expects a 'boardFile' key in
// the config map specifying the path to the data file, an optional
// 'boardFormat' (json, yaml or toml) and an optional 'lockTimeout' duration
// string.
func (b *FileTaskBoard) Initialize(config map[string]string) error {
	if val, ok := config[boardFileKey]; ok && val != "" {
		b.filePath = val
	} else {
		b.filePath = defaultBoardFile
	}

	if val, ok := config[boardFormatKey]; ok && val != "" {
		formatLower := strings.ToLower(val)
		switch formatLower {
		case formatJSON, formatYAML, formatTOML:
			b.format = formatLower
		default:
			return types.NewCoordError(types.CodeValidationFailure,
				fmt.Sprintf("unsupported boardFormat: %s. Supported formats are json, yaml, toml", val), nil)
		}
	} else {
		b.format = defaultBoardFormat
	}

	if b.filePath == defaultBoardFile && b.format != formatJSON {
		ext := filepath.Ext(b.filePath)
		b.filePath = strings.TrimSuffix(b.filePath, ext) + "." + b.format
	}

	if val, ok := config[lockTimeoutKey]; ok && val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return types.NewCoordError(types.CodeValidationFailure,
				fmt.Sprintf("invalid lockTimeout %q: %v", val, err), nil)
		}
		b.lockTimeout = d
	}

	dir := filepath.Dir(b.filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.IOFailureError("mkdir", dir, err)
		}
	}

	// The lock lives on a sidecar so it stays stable across atomic renames
	// of the board file.
	b.flk = flock.New(b.filePath + atomicfile.LockSuffix)

	unlock, err := b.lock()
	if err != nil {
		return err
	}
	defer unlock()

	b.tasks = make(map[string]models.Task)
	return b.loadInternal()
}

// lock acquires the board's exclusive advisory lock, bounded by the
// configured timeout. The returned function releases it.
func (b *FileTaskBoard) lock() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.lockTimeout)
	defer cancel()
	locked, err := b.flk.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.LockTimeoutError(b.filePath, err)
		}
		return nil, types.IOFailureError("lock", b.filePath, err)
	}
	if !locked {
		return nil, types.LockTimeoutError(b.filePath, nil)
	}
	return func() { _ = b.flk.Unlock() }, nil
}

// loadInternal reads the persisted task set, verifying the checksum sidecar.
// Callers must hold the board lock.
func (b *FileTaskBoard) loadInternal() error {
	data, err := atomicfile.ReadVerified(b.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			b.tasks = make(map[string]models.Task)
			return b.saveInternal()
		}
		return fmt.Errorf("failed to read board file %s: %w", b.filePath, err)
	}
	if len(data) == 0 {
		b.tasks = make(map[string]models.Task)
		return nil
	}

	taskList, err := unmarshalTaskList(data, b.format)
	if err != nil {
		return fmt.Errorf("failed to decode board file %s: %w", b.filePath, err)
	}

	b.tasks = make(map[string]models.Task, len(taskList.Tasks))
	for _, task := range taskList.Tasks {
		b.tasks[task.ID] = task
	}
	return nil
}

// saveInternal writes the task set and its checksum atomically. Callers must
// hold the board lock.
func (b *FileTaskBoard) saveInternal() error {
	taskList := models.TaskList{
		Tasks:      make([]models.Task, 0, len(b.tasks)),
		TotalCount: len(b.tasks),
	}
	for _, task := range b.tasks {
		taskList.Tasks = append(taskList.Tasks, task)
	}
	// Stable file content regardless of map iteration order.
	sort.Slice(taskList.Tasks, func(i, j int) bool {
		return taskList.Tasks[i].ID < taskList.Tasks[j].ID
	})

	data, err := marshalTaskList(taskList, b.format)
	if err != nil {
		return err
	}
	return atomicfile.ReplaceWithChecksum(b.filePath, data)
}

func unmarshalTaskList(data []byte, format string) (models.TaskList, error) {
	var taskList models.TaskList
	var err error
	switch format {
	case formatJSON:
		err = json.Unmarshal(data, &taskList)
	case formatYAML:
		err = yaml.Unmarshal(data, &taskList)
	case formatTOML:
		err = toml.Unmarshal(data, &taskList)
	default:
		err = fmt.Errorf("unsupported data format: %s", format)
	}
	return taskList, err
}

func marshalTaskList(taskList models.TaskList, format string) ([]byte, error) {
	switch format {
	case formatJSON:
		return json.MarshalIndent(taskList, "", "  ")
	case formatYAML:
		return yaml.Marshal(taskList)
	case formatTOML:
		buf := new(bytes.Buffer)
		if err := toml.NewEncoder(buf).Encode(taskList); err != nil {
			return nil, fmt.Errorf("failed to marshal TOML: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported data format: %s", format)
	}
}

// generateID creates a new universally unique identifier string.
func generateID() string {
	return uuid.NewString()
}

// Submit validates and appends a new task under the board lock.
func (b *FileTaskBoard) Submit(task models.Task) (models.Task, error) {
	unlock, err := b.lock()
	if err != nil {
		return models.Task{}, err
	}
	defer unlock()

	if err := b.loadInternal(); err != nil {
		return models.Task{}, fmt.Errorf("failed to reload tasks before submit: %w", err)
	}

	if task.ID == "" {
		task.ID = generateID()
	} else if _, exists := b.tasks[task.ID]; exists {
		return models.Task{}, types.NewCoordError(types.CodeDuplicateTask,
			fmt.Sprintf("task with ID '%s' already exists", task.ID),
			map[string]interface{}{"taskId": task.ID})
	}

	now := time.Now().UTC()
	task.Status = models.StatusPending
	task.ClaimedBy = ""
	task.Result = ""
	task.RetryCount = 0
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Priority == 0 {
		task.Priority = 5
	}

	for _, depID := range task.Dependencies {
		if depID == task.ID {
			return models.Task{}, types.NewCoordError(types.CodeValidationFailure,
				"task cannot depend on itself", map[string]interface{}{"taskId": task.ID})
		}
		if _, exists := b.tasks[depID]; !exists {
			return models.Task{}, types.NewCoordError(types.CodeValidationFailure,
				fmt.Sprintf("dependency task with ID '%s' not found", depID),
				map[string]interface{}{"taskId": task.ID, "dependency": depID})
		}
	}

	if err := models.ValidateStruct(task); err != nil {
		return models.Task{}, types.WrapCoordError(types.CodeValidationFailure,
			"validation failed for new task", err)
	}

	b.tasks[task.ID] = task

	if err := b.saveInternal(); err != nil {
		// Discard the in-memory mutation along with the failed write.
		_ = b.loadInternal()
		return models.Task{}, fmt.Errorf("failed to save new task: %w", err)
	}
	return task, nil
}

// ready reports whether a task is eligible for the given agent: pending,
// every dependency completed, and either untargeted or targeted at agentID.
func (b *FileTaskBoard) ready(task models.Task, agentID string) bool {
	if task.Status != models.StatusPending {
		return false
	}
	if task.TargetAgent != "" && task.TargetAgent != agentID {
		return false
	}
	for _, depID := range task.Dependencies {
		dep, exists := b.tasks[depID]
		if !exists || dep.Status != models.StatusCompleted {
			return false
		}
	}
	return true
}

// NextReadyFor selects and claims the next eligible task for agentID inside
// a single critical section. It returns nil when no task is ready.
func (b *FileTaskBoard) NextReadyFor(agentID string) (*models.Task, error) {
	unlock, err := b.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := b.loadInternal(); err != nil {
		return nil, fmt.Errorf("failed to reload tasks before claim: %w", err)
	}

	var candidates []models.Task
	for _, task := range b.tasks {
		if b.ready(task, agentID) {
			candidates = append(candidates, task)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	claimed := candidates[0]
	claimed.Status = models.StatusClaimed
	claimed.ClaimedBy = agentID
	claimed.UpdatedAt = time.Now().UTC()
	b.tasks[claimed.ID] = claimed

	if err := b.saveInternal(); err != nil {
		_ = b.loadInternal()
		return nil, fmt.Errorf("failed to save claim: %w", err)
	}
	return &claimed, nil
}

// Claim claims one specific pending task for agentID, applying the same
// eligibility rules as NextReadyFor.
func (b *FileTaskBoard) Claim(taskID, agentID string) (models.Task, error) {
	unlock, err := b.lock()
	if err != nil {
		return models.Task{}, err
	}
	defer unlock()

	if err := b.loadInternal(); err != nil {
		return models.Task{}, fmt.Errorf("failed to reload tasks before claim: %w", err)
	}

	task, exists := b.tasks[taskID]
	if !exists {
		return models.Task{}, types.NewCoordError(types.CodeTaskNotFound,
			fmt.Sprintf("task with ID '%s' not found", taskID),
			map[string]interface{}{"taskId": taskID})
	}
	if task.Status != models.StatusPending {
		return models.Task{}, types.InvalidTransitionError(taskID, string(task.Status), string(models.StatusClaimed))
	}
	if !b.ready(task, agentID) {
		return models.Task{}, types.NewCoordError(types.CodeValidationFailure,
			fmt.Sprintf("task '%s' is not eligible for agent '%s': unmet dependencies or different target agent", taskID, agentID),
			map[string]interface{}{"taskId": taskID, "agentId": agentID})
	}

	task.Status = models.StatusClaimed
	task.ClaimedBy = agentID
	task.UpdatedAt = time.Now().UTC()
	b.tasks[taskID] = task

	if err := b.saveInternal(); err != nil {
		_ = b.loadInternal()
		return models.Task{}, fmt.Errorf("failed to save claim: %w", err)
	}
	return task, nil
}

// Transition enforces the forward-only state machine.
func (b *FileTaskBoard) Transition(taskID string, newStatus models.TaskStatus, result string) (models.Task, error) {
	unlock, err := b.lock()
	if err != nil {
		return models.Task{}, err
	}
	defer unlock()

	if err := b.loadInternal(); err != nil {
		return models.Task{}, fmt.Errorf("failed to reload tasks before transition: %w", err)
	}

	task, exists := b.tasks[taskID]
	if !exists {
		return models.Task{}, types.NewCoordError(types.CodeTaskNotFound,
			fmt.Sprintf("task with ID '%s' not found", taskID),
			map[string]interface{}{"taskId": taskID})
	}

	if !models.CanTransition(task.Status, newStatus) {
		return models.Task{}, types.InvalidTransitionError(taskID, string(task.Status), string(newStatus))
	}

	task.Status = newStatus
	task.UpdatedAt = time.Now().UTC()
	if newStatus.IsTerminal() {
		task.Result = result
	}
	b.tasks[taskID] = task

	if err := b.saveInternal(); err != nil {
		_ = b.loadInternal()
		return models.Task{}, fmt.Errorf("failed to save transition: %w", err)
	}
	return task, nil
}

// Release returns a claimed task to pending.
func (b *FileTaskBoard) Release(taskID string) (models.Task, error) {
	return b.requeueFrom(taskID, false, models.StatusClaimed)
}

// Requeue returns an in-flight task to pending and counts the attempt.
func (b *FileTaskBoard) Requeue(taskID string) (models.Task, error) {
	return b.requeueFrom(taskID, true, models.StatusClaimed, models.StatusRunning)
}

// Reset is the explicit terminal-to-pending escape hatch.
func (b *FileTaskBoard) Reset(taskID string) (models.Task, error) {
	return b.requeueFrom(taskID, true, models.StatusCompleted, models.StatusFailed, models.StatusCancelled)
}

// requeueFrom moves a task back to pending when its current status is one of
// the allowed source states. These are deliberate backward moves and bypass
// the forward-only transition table.
func (b *FileTaskBoard) requeueFrom(taskID string, countRetry bool, from ...models.TaskStatus) (models.Task, error) {
	unlock, err := b.lock()
	if err != nil {
		return models.Task{}, err
	}
	defer unlock()

	if err := b.loadInternal(); err != nil {
		return models.Task{}, fmt.Errorf("failed to reload tasks before requeue: %w", err)
	}

	task, exists := b.tasks[taskID]
	if !exists {
		return models.Task{}, types.NewCoordError(types.CodeTaskNotFound,
			fmt.Sprintf("task with ID '%s' not found", taskID),
			map[string]interface{}{"taskId": taskID})
	}
	if !slices.Contains(from, task.Status) {
		return models.Task{}, types.InvalidTransitionError(taskID, string(task.Status), string(models.StatusPending))
	}

	task.Status = models.StatusPending
	task.ClaimedBy = ""
	task.Result = ""
	task.UpdatedAt = time.Now().UTC()
	if countRetry {
		task.RetryCount++
	}
	b.tasks[taskID] = task

	if err := b.saveInternal(); err != nil {
		_ = b.loadInternal()
		return models.Task{}, fmt.Errorf("failed to save requeue: %w", err)
	}
	return task, nil
}

// Get retrieves a task by its unique identifier.
func (b *FileTaskBoard) Get(taskID string) (models.Task, error) {
	unlock, err := b.lock()
	if err != nil {
		return models.Task{}, err
	}
	defer unlock()

	if err := b.loadInternal(); err != nil {
		return models.Task{}, fmt.Errorf("failed to load tasks for get: %w", err)
	}
	task, ok := b.tasks[taskID]
	if !ok {
		return models.Task{}, types.NewCoordError(types.CodeTaskNotFound,
			fmt.Sprintf("task with ID '%s' not found", taskID),
			map[string]interface{}{"taskId": taskID})
	}
	return task, nil
}

// List retrieves tasks, optionally filtered and sorted.
func (b *FileTaskBoard) List(filterFn func(models.Task) bool, sortFn func([]models.Task) []models.Task) ([]models.Task, error) {
	unlock, err := b.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := b.loadInternal(); err != nil {
		return nil, fmt.Errorf("failed to load tasks for list: %w", err)
	}

	tasks := make([]models.Task, 0, len(b.tasks))
	for _, task := range b.tasks {
		if filterFn == nil || filterFn(task) {
			tasks = append(tasks, task)
		}
	}
	if sortFn != nil {
		tasks = sortFn(tasks)
	} else {
		sort.Slice(tasks, func(i, j int) bool {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		})
	}
	return tasks, nil
}

// Snapshot reads the persisted set without the exclusive lock. The result
// may be momentarily stale relative to an in-flight writer, which is
// acceptable for observability.
func (b *FileTaskBoard) Snapshot() (BoardSnapshot, error) {
	snap := BoardSnapshot{ByStatus: make(map[models.TaskStatus]int)}

	data, err := atomicfile.ReadVerified(b.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, nil
		}
		return snap, fmt.Errorf("failed to read board file for snapshot: %w", err)
	}
	if len(data) == 0 {
		return snap, nil
	}
	taskList, err := unmarshalTaskList(data, b.format)
	if err != nil {
		return snap, fmt.Errorf("failed to decode board file for snapshot: %w", err)
	}

	byID := make(map[string]models.Task, len(taskList.Tasks))
	for _, task := range taskList.Tasks {
		byID[task.ID] = task
	}
	for _, task := range taskList.Tasks {
		snap.Total++
		snap.ByStatus[task.Status]++
		if task.Status != models.StatusPending {
			continue
		}
		eligible := true
		for _, depID := range task.Dependencies {
			dep, exists := byID[depID]
			if !exists || dep.Status != models.StatusCompleted {
				eligible = false
				break
			}
		}
		if eligible {
			snap.ReadyCount++
		}
	}
	return snap, nil
}

// Compact moves terminal tasks older than olderThan into the board's archive
// file. Tasks still referenced as dependencies of live tasks are retained so
// dependency gating keeps working.
func (b *FileTaskBoard) Compact(olderThan time.Duration) (int, error) {
	unlock, err := b.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := b.loadInternal(); err != nil {
		return 0, fmt.Errorf("failed to reload tasks before compact: %w", err)
	}

	referenced := make(map[string]bool)
	for _, task := range b.tasks {
		if task.Status.IsTerminal() {
			continue
		}
		for _, depID := range task.Dependencies {
			referenced[depID] = true
		}
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	var archived []models.Task
	for id, task := range b.tasks {
		if task.Status.IsTerminal() && task.UpdatedAt.Before(cutoff) && !referenced[id] {
			archived = append(archived, task)
		}
	}
	if len(archived) == 0 {
		return 0, nil
	}

	if err := b.appendToArchive(archived); err != nil {
		return 0, err
	}
	for _, task := range archived {
		delete(b.tasks, task.ID)
	}
	if err := b.saveInternal(); err != nil {
		_ = b.loadInternal()
		return 0, fmt.Errorf("failed to save board after compact: %w", err)
	}
	return len(archived), nil
}

// appendToArchive adds tasks to the archive file next to the board. The
// archive is always JSON regardless of the live format.
func (b *FileTaskBoard) appendToArchive(tasks []models.Task) error {
	archivePath := strings.TrimSuffix(b.filePath, filepath.Ext(b.filePath)) + archiveSuffix

	var existing models.TaskList
	data, err := os.ReadFile(archivePath)
	if err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("failed to decode archive file %s: %w", archivePath, err)
		}
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return types.IOFailureError("read", archivePath, err)
	}

	existing.Tasks = append(existing.Tasks, tasks...)
	existing.TotalCount = len(existing.Tasks)

	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}
	return atomicfile.Replace(archivePath, out)
}

// Close releases the board's lock handle.
func (b *FileTaskBoard) Close() error {
	if b.flk != nil {
		return b.flk.Unlock()
	}
	return nil
}
