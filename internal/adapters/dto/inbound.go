// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

import "omnidesk-triage/internal/core/domain"

// InboundWebhookRequest is the envelope a channel gateway posts to the
// triage ingest endpoint. One request can carry several events.
type InboundWebhookRequest struct {
	Channel string         `json:"channel"` // "WhatsApp", "Facebook", "Telegram", "SMS"
	Events  []ChannelEvent `json:"events"`
}

// ChannelEvent is one normalized messaging event from a channel gateway.
// Can be a user message, an echo of our own outbound message, or a
// delivery/read receipt.
type ChannelEvent struct {
	EventID   string `json:"event_id"` // gateway-scoped ID, used for dedup
	SessionID string `json:"session_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	Priority  string `json:"priority,omitempty"`

	// IsEcho marks messages sent BY us; they must never re-enter triage.
	IsEcho bool `json:"is_echo,omitempty"`

	// Receipt events carry no user content.
	Delivery *DeliveryReceipt `json:"delivery,omitempty"`
	Read     *ReadReceipt     `json:"read,omitempty"`
}

// DeliveryReceipt confirms outbound messages reached the channel.
type DeliveryReceipt struct {
	EventIDs  []string `json:"event_ids"`
	Watermark int64    `json:"watermark"`
}

// ReadReceipt confirms the user read messages up to a watermark.
type ReadReceipt struct {
	Watermark int64 `json:"watermark"`
}

// IsUserMessage reports whether this event is an actual user message.
// Echoes and receipts are filtered before triage.
func (e *ChannelEvent) IsUserMessage() bool {
	if e.Text == "" {
		return false
	}
	if e.IsEcho {
		return false
	}
	if e.Delivery != nil || e.Read != nil {
		return false
	}
	return true
}

// PriorityLevel maps the gateway's priority string onto the domain enum,
// defaulting to Medium.
func (e *ChannelEvent) PriorityLevel() domain.PriorityLevel {
	switch e.Priority {
	case string(domain.PriorityLow):
		return domain.PriorityLow
	case string(domain.PriorityHigh):
		return domain.PriorityHigh
	case string(domain.PriorityUrgent):
		return domain.PriorityUrgent
	default:
		return domain.PriorityMedium
	}
}
