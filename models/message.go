package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageStatus represents where a message sits in its lifecycle.
type MessageStatus string

const (
	MessageUnread   MessageStatus = "unread"
	MessageRead     MessageStatus = "read"
	MessageArchived MessageStatus = "archived"
)

// MessageType tags the payload shape of a mailbox message.
type MessageType string

const (
	TypeInstruction MessageType = "instruction"
	TypeDirective   MessageType = "directive"
	TypeResponse    MessageType = "response"
	TypeStatus      MessageType = "status"
	// TypeUnknown is the forward-compatibility fallback for tags this
	// version does not recognise. Unknown messages still flow through the
	// mailbox; only payload decoding degrades.
	TypeUnknown MessageType = "unknown"
)

// KnownMessageTypes lists the tags this version decodes.
var KnownMessageTypes = []MessageType{TypeInstruction, TypeDirective, TypeResponse, TypeStatus}

// Message is a single mailbox entry. The payload is write-once; only Status
// and Outcome change after creation, and only by the owning agent.
type Message struct {
	ID        string          `json:"messageId" validate:"required"`
	Sender    string          `json:"sender" validate:"required"`
	Recipient string          `json:"recipient" validate:"required"`
	Type      MessageType     `json:"type" validate:"required"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp" validate:"required"`
	Status    MessageStatus   `json:"status" validate:"required,oneof=unread read archived"`
	// Sequence is assigned by the recipient's mailbox at delivery and is
	// monotonic per mailbox. It breaks timestamp ties during polling.
	Sequence uint64 `json:"sequence,omitempty"`
	// Outcome is an annotation appended at acknowledgment time.
	Outcome string `json:"outcome,omitempty"`
	// CorrelationID links responses back to the message that prompted them.
	CorrelationID string `json:"correlationId,omitempty"`
}

// InstructionPayload is the payload shape for instruction messages.
type InstructionPayload struct {
	TaskID  string `json:"taskId,omitempty"`
	Content string `json:"content"`
}

// ResponsePayload is the payload shape for response messages.
type ResponsePayload struct {
	TaskID  string `json:"taskId,omitempty"`
	Content string `json:"content"`
	Success bool   `json:"success"`
}

// StatusPayload is the payload shape for status messages.
type StatusPayload struct {
	State   string `json:"state"`
	Detail  string `json:"detail,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Percent int    `json:"percent,omitempty"`
}

// UnknownPayload preserves an unrecognised payload verbatim.
type UnknownPayload struct {
	Raw json.RawMessage
}

// DecodePayload interprets a message's payload according to its type tag.
// It returns one of *DirectivePayload, *InstructionPayload, *ResponsePayload,
// *StatusPayload or *UnknownPayload.
func (m *Message) DecodePayload() (interface{}, error) {
	switch m.Type {
	case TypeDirective:
		var p DirectivePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding directive payload of message %s: %w", m.ID, err)
		}
		return &p, nil
	case TypeInstruction:
		var p InstructionPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding instruction payload of message %s: %w", m.ID, err)
		}
		return &p, nil
	case TypeResponse:
		var p ResponsePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding response payload of message %s: %w", m.ID, err)
		}
		return &p, nil
	case TypeStatus:
		var p StatusPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding status payload of message %s: %w", m.ID, err)
		}
		return &p, nil
	default:
		return &UnknownPayload{Raw: m.Payload}, nil
	}
}

// NewMessage creates an unread message with a defaulted timestamp. The
// payload value is marshalled to JSON; pass nil for messages without one.
func NewMessage(id, sender, recipient string, typ MessageType, payload interface{}) (Message, error) {
	msg := Message{
		ID:        id,
		Sender:    sender,
		Recipient: recipient,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Status:    MessageUnread,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshalling payload for message %s: %w", id, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}
