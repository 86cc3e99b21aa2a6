package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
	"omnidesk-triage/internal/metrics"
)

// SLAMonitor resolves the applicable SLA policy for a conversation and
// computes breach status against elapsed wall-clock time.
type SLAMonitor struct {
	policies      ports.SLAPolicyStore
	conversations ports.ConversationStore
	metrics       *metrics.Metrics

	// now is swappable for deterministic breach tests.
	now func() time.Time
}

// NewSLAMonitor creates an SLA monitor. m may be nil (no metric accounting).
func NewSLAMonitor(policies ports.SLAPolicyStore, conversations ports.ConversationStore, m *metrics.Metrics) *SLAMonitor {
	return &SLAMonitor{
		policies:      policies,
		conversations: conversations,
		metrics:       m,
		now:           time.Now,
	}
}

// Resolve looks up the applicable policy with wildcard fallback:
// exact(priority, channel) -> (priority, "All") -> ("All", channel) ->
// ("All", "All"). First match wins. No match returns
// domain.ErrPolicyNotFound, which breach checks treat as "no SLA enforced".
func (m *SLAMonitor) Resolve(ctx context.Context, priority domain.PriorityLevel, channel string) (*domain.SLAPolicy, error) {
	lookups := [][2]string{
		{string(priority), channel},
		{string(priority), domain.ChannelAll},
		{string(domain.PriorityAll), channel},
		{string(domain.PriorityAll), domain.ChannelAll},
	}

	for _, l := range lookups {
		policy, err := m.policies.FindActive(ctx, domain.PriorityLevel(l[0]), l[1])
		if err == nil {
			return policy, nil
		}
		if !errors.Is(err, domain.ErrPolicyNotFound) {
			return nil, fmt.Errorf("sla policy lookup (%s, %s): %w", l[0], l[1], err)
		}
	}

	return nil, domain.ErrPolicyNotFound
}

// CheckBreach evaluates a single conversation against its resolved policy.
//
// First-response breach fires only while no first response has been recorded
// and elapsed minutes exceed the policy's first-response threshold.
// Resolution breach fires only for non-terminal conversations once elapsed
// minutes exceed resolution_time converted from hours to minutes — the
// stored unit is hours and the conversion is load-bearing.
func (m *SLAMonitor) CheckBreach(ctx context.Context, conversationID int64) (*domain.BreachResult, error) {
	conv, err := m.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return m.checkConversation(ctx, conv)
}

func (m *SLAMonitor) checkConversation(ctx context.Context, conv *domain.Conversation) (*domain.BreachResult, error) {
	result := &domain.BreachResult{ConversationID: conv.ID}

	policy, err := m.Resolve(ctx, conv.Priority, conv.Channel)
	if errors.Is(err, domain.ErrPolicyNotFound) {
		// No policy configured means no SLA enforced: not breached.
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	elapsed := m.now().Sub(conv.CreatedAt).Minutes()
	result.ElapsedMinutes = elapsed

	if conv.FirstResponseAt == nil && elapsed > float64(policy.FirstResponseTime) {
		result.Breached = true
		result.Type = domain.BreachFirstResponse
		result.ThresholdMinutes = float64(policy.FirstResponseTime)
		return result, nil
	}

	if !domain.IsTerminalConversationStatus(conv.Status) {
		resolutionMinutes := float64(policy.ResolutionTime) * 60
		if elapsed > resolutionMinutes {
			result.Breached = true
			result.Type = domain.BreachResolution
			result.ThresholdMinutes = resolutionMinutes
			return result, nil
		}
	}

	return result, nil
}

// Sweep evaluates every open conversation, oldest first, and returns the
// breached ones. A failure on one conversation is logged and skipped; it
// never aborts the sweep.
func (m *SLAMonitor) Sweep(ctx context.Context) ([]*domain.BreachResult, error) {
	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		}
	}()

	open, err := m.conversations.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open conversations: %w", err)
	}
	if m.metrics != nil {
		m.metrics.OpenConversations.Set(float64(len(open)))
	}

	var breached []*domain.BreachResult
	for _, conv := range open {
		result, err := m.checkConversation(ctx, conv)
		if err != nil {
			slog.Error("Breach check failed, skipping conversation",
				"error", err,
				"conversation_id", conv.ID,
			)
			continue
		}
		if result.Breached {
			breached = append(breached, result)
			if m.metrics != nil {
				m.metrics.SLABreaches.WithLabelValues(result.Type).Inc()
			}
		}
	}

	slog.Info("SLA sweep completed",
		"open", len(open),
		"breached", len(breached),
	)

	return breached, nil
}
