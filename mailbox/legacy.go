package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"waggle/internal/atomicfile"
	"waggle/models"
	"waggle/types"
)

// legacyInboxFile is the pre-split single-document inbox: one JSON file
// holding an array of messages at the agent's root.
const legacyInboxFile = "inbox.json"

// legacyDocument tolerates both historical shapes: a bare array and an
// object wrapping one.
type legacyDocument struct {
	Messages []models.Message `json:"messages"`
}

// migrateLegacyInbox splits a legacy single-file inbox into one file per
// message and archives the original. The migration runs at most once: after
// it the legacy file no longer exists, which is the idempotence marker.
// Callers must hold the mailbox lock.
func (m *Mailbox) migrateLegacyInbox() error {
	legacyPath := filepath.Join(m.root, m.agentID, legacyInboxFile)
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return types.IOFailureError("read", legacyPath, err)
	}

	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		var doc legacyDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to decode legacy inbox %s: %w", legacyPath, err)
		}
		msgs = doc.Messages
	}

	for _, msg := range msgs {
		if msg.ID == "" {
			continue // unidentifiable entries stay in the archived original
		}
		if _, found := m.findMessage(inboxDir, msg.ID); found {
			continue
		}
		if msg.Status == "" {
			msg.Status = models.MessageUnread
		}
		seq, err := m.nextSeq()
		if err != nil {
			return err
		}
		msg.Sequence = seq
		out, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal legacy message %s: %w", msg.ID, err)
		}
		dest := filepath.Join(m.dir(inboxDir), messageFileName(seq, msg.ID))
		if err := atomicfile.Replace(dest, out); err != nil {
			return err
		}
	}

	// Retain the original for audit, then remove the marker.
	archived := filepath.Join(m.dir(archiveDir), "inbox.legacy.json")
	if err := os.Rename(legacyPath, archived); err != nil {
		return types.IOFailureError("rename", legacyPath, err)
	}
	return nil
}
