package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
)

// Score weights. They sum to 1.0; each term is normalized to [0,1] before
// weighting. Missing terms contribute zero and the remaining weights are NOT
// renormalized, which compresses scores when signals are sparse. That is the
// documented behavior, kept deliberately so scores stay comparable across
// records with partial data.
const (
	weightPriority    = 0.40
	weightFrustration = 0.25
	weightDuration    = 0.15
	weightAttempts    = 0.10
	weightMLHint      = 0.10
)

// escalationRank orders the status lifecycle for forward-only validation.
var escalationRank = map[string]int{
	domain.EscalationStatusPending:    0,
	domain.EscalationStatusAssigned:   1,
	domain.EscalationStatusInProgress: 2,
	domain.EscalationStatusResolved:   3,
}

// Assigner is the slice of the load balancer the escalation workflow needs.
type Assigner interface {
	Assign(ctx context.Context, conversationID int64, routingPool string) (*domain.AssignmentResult, error)
}

// EscalationService computes priority scores and drives the escalation
// status machine: pending -> assigned -> in_progress -> resolved. Skipping
// in_progress is allowed; moving backward is not.
type EscalationService struct {
	store    ports.EscalationStore
	agents   ports.AgentDirectory
	notifier ports.NotificationGateway
	balancer Assigner // production assignment path; nil falls back to round-robin

	mu       sync.Mutex
	rrCursor int // round-robin position over enabled agents
}

// NewEscalationService creates the escalation workflow service. balancer may
// be nil, in which case creation falls back to round-robin over enabled
// agents.
func NewEscalationService(store ports.EscalationStore, agents ports.AgentDirectory, notifier ports.NotificationGateway, balancer Assigner) *EscalationService {
	return &EscalationService{
		store:    store,
		agents:   agents,
		notifier: notifier,
		balancer: balancer,
	}
}

// Score computes the weighted priority score for the given signals.
func Score(sig domain.EscalationSignals) float64 {
	var score float64

	if p := priorityOrdinal(sig.Priority); p > 0 {
		score += weightPriority * float64(p) / 4
	}
	if f := frustrationOrdinal(sig.Frustration); f > 0 {
		score += weightFrustration * float64(f) / 3
	}
	if sig.DurationMinutes > 0 {
		// Saturates at 30 minutes.
		score += weightDuration * math.Min(3, sig.DurationMinutes/10) / 3
	}
	if sig.PriorAttempts > 0 {
		score += weightAttempts * math.Min(3, float64(sig.PriorAttempts)) / 3
	}
	if sig.MLProbability != nil {
		score += weightMLHint * *sig.MLProbability
	}

	return score
}

// Create scores the signals, persists a pending escalation record, and
// attempts auto-assignment.
func (s *EscalationService) Create(ctx context.Context, sig domain.EscalationSignals) (*domain.EscalationRecord, error) {
	rec := &domain.EscalationRecord{
		ID:                uuid.NewString(),
		QueryRef:          sig.QueryRef,
		ConversationID:    sig.ConversationID,
		Priority:          sig.Priority,
		Frustration:       sig.Frustration,
		ConversationTurns: sig.ConversationTurns,
		DurationMinutes:   sig.DurationMinutes,
		PriorAttempts:     sig.PriorAttempts,
		MLProbability:     sig.MLProbability,
		PriorityScore:     Score(sig),
		Department:        sig.Department,
		Status:            domain.EscalationStatusPending,
		CreatedAt:         time.Now(),
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save escalation: %w", err)
	}

	slog.Info("Escalation created",
		"escalation_id", rec.ID,
		"priority", rec.Priority,
		"score", rec.PriorityScore,
		"department", rec.Department,
	)

	s.autoAssign(ctx, rec)

	if s.notifier != nil {
		if err := s.notifier.NotifyEscalation(ctx, rec); err != nil {
			// Alert delivery is best-effort; the record is already saved.
			slog.Warn("Failed to deliver escalation alert",
				"error", err,
				"escalation_id", rec.ID,
			)
		}
	}

	return rec, nil
}

// autoAssign tries the load balancer first, then falls back to round-robin
// over enabled agents. A failed assignment leaves the record pending.
func (s *EscalationService) autoAssign(ctx context.Context, rec *domain.EscalationRecord) {
	if s.balancer != nil && rec.ConversationID != 0 {
		result, err := s.balancer.Assign(ctx, rec.ConversationID, "")
		if err == nil {
			s.markAssigned(ctx, rec, result.AgentID)
			return
		}
		slog.Warn("Load balancer assignment failed, falling back to round-robin",
			"error", err,
			"escalation_id", rec.ID,
		)
	}

	agentID, err := s.nextRoundRobin(ctx)
	if err != nil {
		slog.Warn("Round-robin assignment unavailable",
			"error", err,
			"escalation_id", rec.ID,
		)
		return
	}
	s.markAssigned(ctx, rec, agentID)
}

// nextRoundRobin picks the next enabled agent in rotation.
func (s *EscalationService) nextRoundRobin(ctx context.Context) (string, error) {
	agents, err := s.agents.ListEnabled(ctx)
	if err != nil {
		return "", fmt.Errorf("list enabled agents: %w", err)
	}
	if len(agents) == 0 {
		return "", domain.ErrNoAgentsAvailable
	}

	s.mu.Lock()
	agent := agents[s.rrCursor%len(agents)]
	s.rrCursor++
	s.mu.Unlock()

	return agent.ID, nil
}

func (s *EscalationService) markAssigned(ctx context.Context, rec *domain.EscalationRecord, agentID string) {
	if err := s.store.UpdateStatus(ctx, rec.ID, domain.EscalationStatusAssigned, &agentID, nil, nil); err != nil {
		slog.Error("Failed to persist escalation assignment",
			"error", err,
			"escalation_id", rec.ID,
			"agent_id", agentID,
		)
		return
	}
	rec.Status = domain.EscalationStatusAssigned
	rec.AssignedAgent = &agentID
}

// Transition moves an escalation to a new status. Forward-only: the target
// rank must exceed the current rank. in_progress may be skipped.
func (s *EscalationService) Transition(ctx context.Context, escalationID, newStatus string, notes *string) (*domain.EscalationRecord, error) {
	newRank, ok := escalationRank[newStatus]
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, newStatus)
	}

	rec, err := s.store.Get(ctx, escalationID)
	if err != nil {
		return nil, fmt.Errorf("get escalation: %w", err)
	}

	curRank := escalationRank[rec.Status]
	if newRank <= curRank {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, rec.Status, newStatus)
	}

	var resolvedAt *time.Time
	if newStatus == domain.EscalationStatusResolved {
		now := time.Now()
		resolvedAt = &now
	}

	if err := s.store.UpdateStatus(ctx, escalationID, newStatus, nil, notes, resolvedAt); err != nil {
		return nil, fmt.Errorf("update escalation status: %w", err)
	}

	rec.Status = newStatus
	rec.Notes = notes
	rec.ResolvedAt = resolvedAt

	slog.Info("Escalation transitioned",
		"escalation_id", escalationID,
		"status", newStatus,
	)

	return rec, nil
}

// Reassign moves an assigned escalation to a different agent. This is the one
// sanctioned exception to forward-only transitions: the status stays
// "assigned", only the agent changes.
func (s *EscalationService) Reassign(ctx context.Context, escalationID, agentID string) error {
	rec, err := s.store.Get(ctx, escalationID)
	if err != nil {
		return fmt.Errorf("get escalation: %w", err)
	}
	if rec.Status != domain.EscalationStatusAssigned && rec.Status != domain.EscalationStatusInProgress {
		return fmt.Errorf("%w: cannot reassign in status %s", domain.ErrInvalidTransition, rec.Status)
	}
	if err := s.store.UpdateStatus(ctx, escalationID, rec.Status, &agentID, nil, nil); err != nil {
		return fmt.Errorf("reassign escalation: %w", err)
	}
	return nil
}

// Pending lists unassigned escalations ordered by priority score.
func (s *EscalationService) Pending(ctx context.Context) ([]*domain.EscalationRecord, error) {
	return s.store.ListByStatus(ctx, domain.EscalationStatusPending)
}

func priorityOrdinal(p domain.PriorityLevel) int {
	switch p {
	case domain.PriorityLow:
		return 1
	case domain.PriorityMedium:
		return 2
	case domain.PriorityHigh:
		return 3
	case domain.PriorityUrgent:
		return 4
	default:
		return 0
	}
}

func frustrationOrdinal(f domain.FrustrationLevel) int {
	switch f {
	case domain.FrustrationLow:
		return 1
	case domain.FrustrationMedium:
		return 2
	case domain.FrustrationHigh:
		return 3
	default:
		return 0
	}
}
