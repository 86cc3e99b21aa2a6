package domain

import "errors"

var (
	// ErrNoAgentsAvailable is a business outcome, not an infrastructure
	// failure: every agent was filtered out by eligibility or capacity.
	// Callers decide whether to queue or alert.
	ErrNoAgentsAvailable = errors.New("no agents available")

	// ErrAgentConflict signals a lost optimistic-concurrency race on the
	// workload counter; the assignment is retried with fresh state.
	ErrAgentConflict = errors.New("agent workload conflict")

	ErrEscalationNotFound   = errors.New("escalation not found")
	ErrInvalidTransition    = errors.New("invalid escalation transition")
	ErrSessionNotFound      = errors.New("session not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrAgentNotFound        = errors.New("agent not found")
	ErrPolicyNotFound       = errors.New("no sla policy configured")
	ErrCacheMiss            = errors.New("cache miss")
)
