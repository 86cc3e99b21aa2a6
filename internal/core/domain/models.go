// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"time"
)

// Message represents a parsed inbound chat message from any channel.
// Immutable input unit: created per inbound event, never mutated.
type Message struct {
	ID             int64     `json:"id" db:"id"`
	ConversationID int64     `json:"conversation_id" db:"conversation_id"`
	SessionID      string    `json:"session_id" db:"session_id"`
	SenderID       *string   `json:"sender_id,omitempty" db:"sender_id"`
	Channel        string    `json:"channel" db:"channel"` // "WhatsApp", "Facebook", "Telegram", "SMS"
	Text           string    `json:"text" db:"text"`
	ExternalMsgID  *string   `json:"external_msg_id,omitempty" db:"external_msg_id"` // Platform message ID (for dedup)
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Channel constants
const (
	ChannelWhatsApp = "WhatsApp"
	ChannelFacebook = "Facebook"
	ChannelTelegram = "Telegram"
	ChannelSMS      = "SMS"
	ChannelAll      = "All" // wildcard in SLA policy lookups
)

// ResponseMode classifies whether a user wants raw data or step-by-step guidance.
type ResponseMode string

// Response modes
const (
	ModeDirectData   ResponseMode = "direct_data"
	ModeInstructions ResponseMode = "instructions"
	ModeMixed        ResponseMode = "mixed"
)

// Classification is the pattern classifier's verdict for one message.
type Classification struct {
	Mode             ResponseMode `json:"mode"`
	Confidence       float64      `json:"confidence"` // [0,1]
	Topic            string       `json:"topic"`
	OverrideDetected bool         `json:"override_detected"`
}

// AuthStatus tracks how far a session has progressed through identity capture.
type AuthStatus string

// Authentication statuses
const (
	AuthNone               AuthStatus = "none"
	AuthProvidedIdentifier AuthStatus = "provided_identifier"
	AuthAuthenticated      AuthStatus = "authenticated"
)

// Session state labels. Coarse labels derived from the session flags; the
// flags overlap, the label is the strongest applicable signal.
const (
	SessionStateInitial       = "initial"
	SessionStateAuthenticated = "authenticated"
	SessionStateDataRetrieved = "data_retrieved"
	SessionStateTopicFocused  = "topic_focused"
	SessionStateHelping       = "helping"
	SessionStateCompleted     = "completed"
)

// Session is the per-session mutable conversational record.
// Created on the first message of a session, updated on every subsequent
// message, never hard-deleted (marked inactive instead).
type Session struct {
	ID                string     `json:"id"`
	AuthStatus        AuthStatus `json:"auth_status"`
	CurrentTopic      string     `json:"current_topic"`
	TopicsDiscussed   []string   `json:"topics_discussed"` // ordered, deduplicated
	InteractionCount  int        `json:"interaction_count"`
	AuthAtInteraction int        `json:"auth_at_interaction,omitempty"` // interaction at which auth flipped; 0 = never
	RecentMessages    []string   `json:"recent_messages"` // bounded rolling buffer
	DataRetrieved     bool       `json:"data_retrieved"`
	SatisfactionHint  string     `json:"satisfaction_hint,omitempty"`
	EscalationNeeded  bool       `json:"escalation_needed"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// StateSnapshot is the view returned after a state tracker update.
type StateSnapshot struct {
	SessionID        string     `json:"session_id"`
	State            string     `json:"state"`
	AuthStatus       AuthStatus `json:"auth_status"`
	CurrentTopic     string     `json:"current_topic"`
	TopicsDiscussed  []string   `json:"topics_discussed"`
	InteractionCount int        `json:"interaction_count"`
	DataRetrieved    bool       `json:"data_retrieved"`
	EscalationNeeded bool       `json:"escalation_needed"`
}

// Guidance is the derived tone/behavior advice for the next response.
type Guidance struct {
	ShouldGreet       bool   `json:"should_greet"`
	ShouldAcknowledge bool   `json:"should_acknowledge_auth"`
	ConversationStage string `json:"conversation_stage"` // "new", "developing", "established", "extended"
	SuggestedTone     string `json:"suggested_tone"`
}

// Conversation stage buckets by interaction count
const (
	StageNew         = "new"
	StageDeveloping  = "developing"
	StageEstablished = "established"
	StageExtended    = "extended"
)

// PriorityLevel for escalations and SLA policy lookups.
type PriorityLevel string

// Priority levels
const (
	PriorityLow    PriorityLevel = "Low"
	PriorityMedium PriorityLevel = "Medium"
	PriorityHigh   PriorityLevel = "High"
	PriorityUrgent PriorityLevel = "Urgent"
	PriorityAll    PriorityLevel = "All" // wildcard in SLA policy lookups
)

// FrustrationLevel signal feeding the escalation score.
type FrustrationLevel string

// Frustration levels
const (
	FrustrationLow    FrustrationLevel = "Low"
	FrustrationMedium FrustrationLevel = "Medium"
	FrustrationHigh   FrustrationLevel = "High"
)

// Escalation status lifecycle: pending -> assigned -> in_progress -> resolved.
// assigned -> resolved is allowed; backward transitions are not.
const (
	EscalationStatusPending    = "pending"
	EscalationStatusAssigned   = "assigned"
	EscalationStatusInProgress = "in_progress"
	EscalationStatusResolved   = "resolved"
)

// EscalationSignals carries the raw inputs to the escalation scorer.
type EscalationSignals struct {
	QueryRef          string           `json:"query_ref"`
	Priority          PriorityLevel    `json:"priority"`
	Frustration       FrustrationLevel `json:"frustration"`
	ConversationTurns int              `json:"conversation_turns"`
	DurationMinutes   float64          `json:"duration_minutes"`
	PriorAttempts     int              `json:"prior_attempts"`
	MLProbability     *float64         `json:"ml_probability,omitempty"` // 0.0-1.0, optional hint
	Department        string           `json:"department"`
	Channel           string           `json:"channel"`
	ConversationID    int64            `json:"conversation_id"`
}

// EscalationRecord is one escalation event flagged for human handling.
type EscalationRecord struct {
	ID                string           `json:"id" db:"id"`
	QueryRef          string           `json:"query_ref" db:"query_ref"`
	ConversationID    int64            `json:"conversation_id" db:"conversation_id"`
	Priority          PriorityLevel    `json:"priority" db:"priority"`
	Frustration       FrustrationLevel `json:"frustration" db:"frustration"`
	ConversationTurns int              `json:"conversation_turns" db:"conversation_turns"`
	DurationMinutes   float64          `json:"duration_minutes" db:"duration_minutes"`
	PriorAttempts     int              `json:"prior_attempts" db:"prior_attempts"`
	MLProbability     *float64         `json:"ml_probability,omitempty" db:"ml_probability"`
	PriorityScore     float64          `json:"priority_score" db:"priority_score"`
	Department        string           `json:"department" db:"department"`
	AssignedAgent     *string          `json:"assigned_agent,omitempty" db:"assigned_agent"`
	Status            string           `json:"status" db:"status"`
	Notes             *string          `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ResolutionHours returns the resolution-time metric in hours.
// Undefined (nil) until the escalation is resolved.
func (e *EscalationRecord) ResolutionHours() *float64 {
	if e.ResolvedAt == nil {
		return nil
	}
	h := e.ResolvedAt.Sub(e.CreatedAt).Hours()
	return &h
}

// SLAPolicy holds the configured time thresholds for a (priority, channel)
// pair. "All" acts as a wildcard on either dimension for fallback lookups.
// Invariant: EscalationTime < FirstResponseTime.
type SLAPolicy struct {
	ID                int64         `json:"id" db:"id"`
	Priority          PriorityLevel `json:"priority" db:"priority"`
	Channel           string        `json:"channel" db:"channel"`
	FirstResponseTime int           `json:"first_response_time" db:"first_response_time"` // minutes
	ResolutionTime    int           `json:"resolution_time" db:"resolution_time"`         // hours
	EscalationTime    int           `json:"escalation_time" db:"escalation_time"`         // minutes
	BusinessHoursOnly bool          `json:"business_hours_only" db:"business_hours_only"`
	Active            bool          `json:"active" db:"active"`
}

// Breach types reported by the SLA monitor
const (
	BreachFirstResponse = "first_response"
	BreachResolution    = "resolution"
)

// BreachResult reports whether a conversation has breached its SLA.
type BreachResult struct {
	ConversationID   int64   `json:"conversation_id"`
	Breached         bool    `json:"breached"`
	Type             string  `json:"type,omitempty"` // "first_response" or "resolution"
	ElapsedMinutes   float64 `json:"elapsed_minutes"`
	ThresholdMinutes float64 `json:"threshold_minutes"`
}

// Agent status constants
const (
	AgentStatusAvailable = "Available"
	AgentStatusBusy      = "Busy"
	AgentStatusOffline   = "Offline"
)

// Routing pool tags partitioning the agent population.
const (
	PoolUnifiedInbox = "Unified Inbox"
	PoolOmnichannel  = "Omnichannel"
	PoolBoth         = "Both"
)

// Agent is a workload-bearing entity in the agent directory.
// ActiveChats is a derived, advisory counter: the authoritative value is the
// count of non-terminal conversations assigned to the agent in the
// conversation store, resynced before every eligibility evaluation.
type Agent struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Status          string    `json:"status" db:"status"`
	AutoAssign      bool      `json:"auto_assign" db:"auto_assign"`
	ActiveChats     int       `json:"active_chats" db:"active_chats"`
	MaxConcurrent   int       `json:"max_concurrent" db:"max_concurrent"` // 1-50
	Channels        []string  `json:"channels"`                           // capability set; empty = unrestricted
	RoutingPool     string    `json:"routing_pool" db:"routing_pool"`     // "", "Unified Inbox", "Omnichannel", "Both"
	WorkStart       *string   `json:"work_start,omitempty" db:"work_start"` // "HH:MM"; nil = always eligible
	WorkEnd         *string   `json:"work_end,omitempty" db:"work_end"`
	LastActivityAt  time.Time `json:"last_activity_at" db:"last_activity_at"`
	WorkloadVersion int64     `json:"-" db:"workload_version"` // optimistic concurrency token
}

// HasCapacity reports whether the agent can take one more conversation.
func (a *Agent) HasCapacity() bool {
	return a.ActiveChats < a.MaxConcurrent
}

// ServesChannel reports whether the agent can handle the given channel.
// An empty capability set means unrestricted.
func (a *Agent) ServesChannel(channel string) bool {
	if channel == "" || len(a.Channels) == 0 {
		return true
	}
	for _, c := range a.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// InPool reports whether the agent belongs to the given routing pool.
// "Both" and an unset tag match any pool (back-compatible default).
func (a *Agent) InPool(pool string) bool {
	if pool == "" {
		return true
	}
	return a.RoutingPool == pool || a.RoutingPool == PoolBoth || a.RoutingPool == ""
}

// Conversation represents a chat thread open in the CRM.
type Conversation struct {
	ID              int64         `json:"id" db:"id"`
	SessionID       string        `json:"session_id" db:"session_id"`
	Channel         string        `json:"channel" db:"channel"`
	Priority        PriorityLevel `json:"priority" db:"priority"`
	Status          string        `json:"status" db:"status"`
	AssignedAgent   *string       `json:"assigned_agent,omitempty" db:"assigned_agent"`
	FirstResponseAt *time.Time    `json:"first_response_at,omitempty" db:"first_response_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       *time.Time    `json:"updated_at,omitempty" db:"updated_at"`
}

// Conversation status constants. "resolved" and "closed" are terminal.
const (
	ConversationStatusOpen     = "open"
	ConversationStatusPending  = "pending"
	ConversationStatusResolved = "resolved"
	ConversationStatusClosed   = "closed"
)

// IsTerminalConversationStatus reports whether a status ends the workload
// obligation for the assigned agent.
func IsTerminalConversationStatus(status string) bool {
	return status == ConversationStatusResolved || status == ConversationStatusClosed
}

// AssignmentResult reports the outcome of an assignment decision.
type AssignmentResult struct {
	ConversationID int64     `json:"conversation_id"`
	AgentID        string    `json:"agent_id"`
	AgentName      string    `json:"agent_name"`
	RoutingPool    string    `json:"routing_pool,omitempty"`
	ActiveChats    int       `json:"active_chats"` // agent workload after this assignment
	AssignedAt     time.Time `json:"assigned_at"`
}

// TriageEvent is broadcast over the event hub when the pipeline makes a
// decision worth surfacing on the operations dashboard.
type TriageEvent struct {
	Kind           string    `json:"kind"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	EscalationID   string    `json:"escalation_id,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	At             time.Time `json:"at"`
}

// TriageEvent kinds
const (
	EventAssignment = "assignment"
	EventEscalation = "escalation"
	EventSLABreach  = "sla_breach"
)
