// Package mailbox implements the per-agent message lifecycle: delivery into
// an inbox, ordered polling, idempotent acknowledgment and retirement into
// processed or archive directories. All writes go through the atomic file
// writer; the only cross-process coordination is a per-mailbox advisory lock.
package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"waggle/internal/atomicfile"
	"waggle/models"
	"waggle/types"
)

const (
	inboxDir     = "inbox"
	processedDir = "processed"
	archiveDir   = "archive"
	stateDir     = "state"

	seqFile      = "seq"
	mailboxLock  = "mailbox"
	messageExt   = ".json"
	seqNameWidth = 12
)

// Outcome describes how a polled message was handled.
type Outcome struct {
	Success bool
	Note    string
}

// Mailbox is one agent's message store. Only the owning agent moves messages
// out of the inbox; other agents only ever deliver into it.
type Mailbox struct {
	root        string
	agentID     string
	lockTimeout time.Duration
}

// Open returns the mailbox for agentID under root, creating the directory
// layout if needed.
func Open(root, agentID string) (*Mailbox, error) {
	return OpenWithTimeout(root, agentID, atomicfile.DefaultLockTimeout)
}

// OpenWithTimeout is Open with an explicit advisory-lock timeout.
func OpenWithTimeout(root, agentID string, lockTimeout time.Duration) (*Mailbox, error) {
	if agentID == "" {
		return nil, types.NewCoordError(types.CodeValidationFailure, "agent id is required", nil)
	}
	m := &Mailbox{root: root, agentID: agentID, lockTimeout: lockTimeout}
	for _, dir := range []string{inboxDir, processedDir, archiveDir, stateDir} {
		if err := os.MkdirAll(m.dir(dir), 0o755); err != nil {
			return nil, types.IOFailureError("mkdir", m.dir(dir), err)
		}
	}
	return m, nil
}

// AgentID returns the owning agent's identifier.
func (m *Mailbox) AgentID() string {
	return m.agentID
}

// Root returns the mailbox root shared by all agents.
func (m *Mailbox) Root() string {
	return m.root
}

func (m *Mailbox) dir(name string) string {
	return filepath.Join(m.root, m.agentID, name)
}

func (m *Mailbox) lock() (func(), error) {
	flk, err := atomicfile.AcquireLock(filepath.Join(m.dir(stateDir), mailboxLock), m.lockTimeout)
	if err != nil {
		return nil, err
	}
	return func() { _ = flk.Unlock() }, nil
}

// messageFileName embeds the delivery sequence so filename lexical order
// matches delivery order.
func messageFileName(seq uint64, messageID string) string {
	return fmt.Sprintf("%0*d-%s%s", seqNameWidth, seq, messageID, messageExt)
}

// findMessage globs for a message ID inside one mailbox directory.
func (m *Mailbox) findMessage(dir, messageID string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(m.dir(dir), "*-"+messageID+messageExt))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// nextSeq reads, increments and persists the mailbox's monotonic sequence
// counter. Callers must hold the mailbox lock.
func (m *Mailbox) nextSeq() (uint64, error) {
	path := filepath.Join(m.dir(stateDir), seqFile)
	var current uint64
	data, err := os.ReadFile(path)
	if err == nil {
		current, err = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, types.NewCoordError(types.CodeIOFailure,
				fmt.Sprintf("corrupt sequence file %s: %v", path, err), nil)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, types.IOFailureError("read", path, err)
	}
	next := current + 1
	if err := atomicfile.Replace(path, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

// Deliver appends a message to this mailbox's inbox. Message IDs are unique
// per mailbox; a collision with any live or retired message fails with
// DuplicateMessage rather than overwriting.
func (m *Mailbox) Deliver(msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Recipient == "" {
		msg.Recipient = m.agentID
	}
	if msg.Recipient != m.agentID {
		return models.Message{}, types.NewCoordError(types.CodeValidationFailure,
			fmt.Sprintf("message recipient %q does not match mailbox owner %q", msg.Recipient, m.agentID), nil)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = models.MessageUnread
	}
	if msg.Type == "" {
		msg.Type = models.TypeUnknown
	}
	if err := models.ValidateStruct(msg); err != nil {
		return models.Message{}, types.WrapCoordError(types.CodeValidationFailure,
			"validation failed for message", err)
	}

	unlock, err := m.lock()
	if err != nil {
		return models.Message{}, err
	}
	defer unlock()

	for _, dir := range []string{inboxDir, processedDir, archiveDir} {
		if _, found := m.findMessage(dir, msg.ID); found {
			return models.Message{}, types.NewCoordError(types.CodeDuplicateMessage,
				fmt.Sprintf("message with ID '%s' already exists in %s", msg.ID, dir),
				map[string]interface{}{"messageId": msg.ID, "agentId": m.agentID})
		}
	}

	seq, err := m.nextSeq()
	if err != nil {
		return models.Message{}, err
	}
	msg.Sequence = seq

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
	}
	path := filepath.Join(m.dir(inboxDir), messageFileName(seq, msg.ID))
	if err := atomicfile.Replace(path, data); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Poll lists unread inbox messages ordered by timestamp ascending, ties
// broken by filename lexical order. A legacy single-file inbox is migrated
// transparently before the listing.
func (m *Mailbox) Poll() ([]models.Message, error) {
	unlock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := m.migrateLegacyInbox(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(m.dir(inboxDir))
	if err != nil {
		return nil, types.IOFailureError("read dir", m.dir(inboxDir), err)
	}

	type entry struct {
		msg  models.Message
		name string
	}
	var items []entry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), messageExt) {
			continue
		}
		path := filepath.Join(m.dir(inboxDir), e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, types.IOFailureError("read", path, err)
		}
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message file %s: %w", path, err)
		}
		if msg.Status != models.MessageUnread {
			continue
		}
		items = append(items, entry{msg: msg, name: e.Name()})
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].msg.Timestamp.Equal(items[j].msg.Timestamp) {
			return items[i].msg.Timestamp.Before(items[j].msg.Timestamp)
		}
		return items[i].name < items[j].name
	})

	msgs := make([]models.Message, len(items))
	for i, it := range items {
		msgs[i] = it.msg
	}
	return msgs, nil
}

// Acknowledge retires an inbox message. Success moves it into processed;
// failure leaves a copy in archive with the outcome annotation appended.
// Acknowledging an already-acknowledged message is a no-op.
func (m *Mailbox) Acknowledge(messageID string, outcome Outcome) error {
	unlock, err := m.lock()
	if err != nil {
		return err
	}
	defer unlock()

	path, found := m.findMessage(inboxDir, messageID)
	if !found {
		// Already retired earlier: idempotent no-op.
		if _, done := m.findMessage(processedDir, messageID); done {
			return nil
		}
		if _, done := m.findMessage(archiveDir, messageID); done {
			return nil
		}
		return types.NewCoordError(types.CodeMessageNotFound,
			fmt.Sprintf("message with ID '%s' not found in mailbox of %s", messageID, m.agentID),
			map[string]interface{}{"messageId": messageID, "agentId": m.agentID})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.IOFailureError("read", path, err)
	}
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode message file %s: %w", path, err)
	}

	destDir := processedDir
	msg.Status = models.MessageRead
	if !outcome.Success {
		destDir = archiveDir
		msg.Status = models.MessageArchived
	}
	msg.Outcome = outcome.Note

	out, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", messageID, err)
	}
	dest := filepath.Join(m.dir(destDir), filepath.Base(path))
	if err := atomicfile.Replace(dest, out); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return types.IOFailureError("remove", path, err)
	}
	return nil
}

// Archive moves a processed message into the archive for long-term audit.
func (m *Mailbox) Archive(messageID string) error {
	unlock, err := m.lock()
	if err != nil {
		return err
	}
	defer unlock()

	path, found := m.findMessage(processedDir, messageID)
	if !found {
		if _, done := m.findMessage(archiveDir, messageID); done {
			return nil
		}
		return types.NewCoordError(types.CodeMessageNotFound,
			fmt.Sprintf("message with ID '%s' not found in processed of %s", messageID, m.agentID), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.IOFailureError("read", path, err)
	}
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode message file %s: %w", path, err)
	}
	msg.Status = models.MessageArchived
	out, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", messageID, err)
	}
	if err := atomicfile.Replace(filepath.Join(m.dir(archiveDir), filepath.Base(path)), out); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return types.IOFailureError("remove", path, err)
	}
	return nil
}
