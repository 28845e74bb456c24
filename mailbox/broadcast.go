package mailbox

import (
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"waggle/models"
	"waggle/types"
)

// BroadcastReport records the per-agent outcome of a fan-out. Partial
// failure is the normal case: some deliveries succeed, some do not, and the
// caller decides what to do about the failures.
type BroadcastReport struct {
	Delivered []string
	Failed    map[string]error
}

// AllDelivered reports whether every listed agent received the message.
func (r BroadcastReport) AllDelivered() bool {
	return len(r.Failed) == 0
}

// Broadcast delivers a copy of template to every listed agent's inbox. The
// template's message ID is reused for each copy, so re-broadcasting the same
// logical message is rejected per-mailbox as a duplicate rather than
// processed twice.
func Broadcast(root string, template models.Message, agentIDs []string) BroadcastReport {
	report := BroadcastReport{Failed: make(map[string]error)}
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	if template.Timestamp.IsZero() {
		template.Timestamp = time.Now().UTC()
	}
	for _, agentID := range agentIDs {
		msg := template
		msg.Recipient = agentID
		mbox, err := Open(root, agentID)
		if err != nil {
			report.Failed[agentID] = err
			continue
		}
		if _, err := mbox.Deliver(msg); err != nil {
			report.Failed[agentID] = err
			continue
		}
		report.Delivered = append(report.Delivered, agentID)
	}
	return report
}

// BroadcastDirective fans out a control directive to every listed agent.
// A stable directiveID makes scheduled re-announcements idempotent; pass an
// empty string to mint a fresh one.
func BroadcastDirective(root, sender, directiveID string, kind models.DirectiveKind, objective string, actions []string, agentIDs []string) (BroadcastReport, error) {
	if !models.ValidDirective(kind) {
		return BroadcastReport{}, types.NewCoordError(types.CodeValidationFailure,
			"unknown directive kind: "+string(kind), nil)
	}
	if directiveID == "" {
		directiveID = uuid.NewString()
	}
	payload := models.DirectivePayload{
		DirectiveID: directiveID,
		Kind:        kind,
		Objective:   objective,
		Actions:     actions,
		Status:      "issued",
		Priority:    1,
	}
	template, err := models.NewMessage("directive-"+directiveID, sender, "", models.TypeDirective, payload)
	if err != nil {
		return BroadcastReport{}, err
	}
	return Broadcast(root, template, agentIDs), nil
}

// KnownAgents enumerates agent IDs by listing mailbox directories under
// root. A directory counts as a mailbox once it has an inbox.
func KnownAgents(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.IOFailureError("read dir", root, err)
	}
	var agents []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if info, err := os.Stat(root + "/" + e.Name() + "/" + inboxDir); err == nil && info.IsDir() {
			agents = append(agents, e.Name())
		}
	}
	sort.Strings(agents)
	return agents, nil
}
