// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"omnidesk-triage/internal/core/domain"
)

// ConversationStore is the authoritative store for conversation threads.
// Workload counters are derived from it, never the other way around.
type ConversationStore interface {
	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)

	// GetOrCreateBySession retrieves the open conversation for a session or
	// creates a new one. Returns the conversation database ID.
	GetOrCreateBySession(ctx context.Context, sessionID, channel string, priority domain.PriorityLevel) (int64, error)

	// ListOpen enumerates all non-terminal conversations ordered by
	// creation time ascending. Used by the SLA breach sweep.
	ListOpen(ctx context.Context) ([]*domain.Conversation, error)

	// CountActiveByAgent returns the number of non-terminal conversations
	// currently assigned to the agent. This is the authoritative workload.
	CountActiveByAgent(ctx context.Context, agentID string) (int, error)

	// AssignAgent writes the agent assignment on a conversation.
	AssignAgent(ctx context.Context, conversationID int64, agentID string) error

	// SaveMessage persists an inbound message against its conversation.
	SaveMessage(ctx context.Context, msg *domain.Message) error
}

// AgentDirectory exposes agent records and their capability sets.
type AgentDirectory interface {
	// GetAgent retrieves a single agent by ID.
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)

	// ListEnabled returns agents with auto-assignment enabled, any status.
	ListEnabled(ctx context.Context) ([]*domain.Agent, error)

	// UpdateWorkload writes the agent's advisory counter using an optimistic
	// version check. Returns domain.ErrAgentConflict when the stored version
	// no longer matches expectedVersion.
	UpdateWorkload(ctx context.Context, agentID string, activeChats int, expectedVersion int64) error

	// TouchActivity records the agent's last-activity timestamp.
	TouchActivity(ctx context.Context, agentID string, at time.Time) error
}

// SessionStore holds per-session conversational state. Implementations must
// serialize concurrent updates to the same session ID; distinct sessions must
// not contend.
type SessionStore interface {
	// Get retrieves a session. Returns domain.ErrSessionNotFound when the
	// session ID is unknown.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)

	// Mutate applies fn to the session under the per-session lock, creating
	// the session lazily if the ID is unknown. fn receives the current
	// session and mutates it in place.
	Mutate(ctx context.Context, sessionID string, fn func(*domain.Session)) (*domain.Session, error)

	// Deactivate marks a session inactive. Sessions are never hard-deleted.
	Deactivate(ctx context.Context, sessionID string) error
}

// EscalationStore persists escalation records and their status transitions.
type EscalationStore interface {
	// Save inserts a new escalation record.
	Save(ctx context.Context, rec *domain.EscalationRecord) error

	// Get retrieves an escalation by ID.
	Get(ctx context.Context, id string) (*domain.EscalationRecord, error)

	// UpdateStatus writes a status transition, optionally with agent and
	// notes, and stamps ResolvedAt on the resolved transition.
	UpdateStatus(ctx context.Context, id, status string, agentID, notes *string, resolvedAt *time.Time) error

	// ListByStatus returns escalations in the given status ordered by
	// priority score descending.
	ListByStatus(ctx context.Context, status string) ([]*domain.EscalationRecord, error)
}

// SLAPolicyStore exposes the configured SLA policies.
type SLAPolicyStore interface {
	// FindActive returns the active policy for the exact (priority, channel)
	// pair, or domain.ErrPolicyNotFound. Wildcard fallback is the SLA
	// monitor's job, not the store's.
	FindActive(ctx context.Context, priority domain.PriorityLevel, channel string) (*domain.SLAPolicy, error)
}

// ResponseCache is the TTL-bounded result cache keyed by
// (intent, user identity, normalized query).
type ResponseCache interface {
	// Get returns the cached payload for the key, or domain.ErrCacheMiss.
	// Expiry is evaluated lazily at read time.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a payload under the TTL category ("live_data", "static").
	Set(ctx context.Context, key string, payload []byte, category string) error

	// InvalidateUser drops all entries scoped to one user identity.
	InvalidateUser(ctx context.Context, userID string) error

	// Stats returns running hit/miss counts.
	Stats(ctx context.Context) (hits, misses int64, err error)
}

// DedupStore detects duplicate delivery of inbound channel events.
type DedupStore interface {
	// IsDuplicate reports whether an event ID was already processed.
	IsDuplicate(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records an event ID with a TTL.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error
}

// DataResolver fetches live answers for a classified query from the
// surrounding CRM (claims, payments, certificates). External collaborator:
// the triage core only caches and routes what it returns.
type DataResolver interface {
	// Resolve returns the answer payload for the query, or (nil, nil) when
	// no live data exists for it.
	Resolve(ctx context.Context, intent, userID, query string) ([]byte, error)
}

// NotificationGateway delivers escalation and assignment alerts to the
// outside world (channel gateways, internal chat, email).
type NotificationGateway interface {
	// NotifyAssignment tells an agent they picked up a conversation.
	NotifyAssignment(ctx context.Context, agentID string, conversationID int64) error

	// NotifyEscalation alerts the department handling an escalation.
	NotifyEscalation(ctx context.Context, rec *domain.EscalationRecord) error
}
