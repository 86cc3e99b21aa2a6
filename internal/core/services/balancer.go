package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
	"omnidesk-triage/internal/metrics"
)

// defaultAssignRetries bounds how many optimistic-concurrency conflicts one
// assignment call absorbs before giving up.
const defaultAssignRetries = 3

// LoadBalancer maintains live workload views per agent and assigns new work
// to the least-busy eligible agent.
//
// The read-pick-write sequence (resync workload, pick agent, increment
// counter, persist assignment) is a check-then-act race across concurrent
// requests. Two protections stack here: a per-routing-pool mutex serializes
// assignment decisions within this process, and the version-checked workload
// write catches races with other processes sharing the store.
type LoadBalancer struct {
	agents        ports.AgentDirectory
	conversations ports.ConversationStore
	notifier      ports.NotificationGateway
	metrics       *metrics.Metrics
	maxRetries    int

	mu    sync.Mutex
	pools map[string]*sync.Mutex

	// now is swappable for working-hours tests.
	now func() time.Time
}

// NewLoadBalancer creates a load balancer. notifier and m may be nil;
// maxRetries <= 0 falls back to the default.
func NewLoadBalancer(agents ports.AgentDirectory, conversations ports.ConversationStore, notifier ports.NotificationGateway, m *metrics.Metrics, maxRetries int) *LoadBalancer {
	if maxRetries <= 0 {
		maxRetries = defaultAssignRetries
	}
	return &LoadBalancer{
		agents:        agents,
		conversations: conversations,
		notifier:      notifier,
		metrics:       m,
		maxRetries:    maxRetries,
		pools:         make(map[string]*sync.Mutex),
		now:           time.Now,
	}
}

// ListAvailable returns eligible agents ordered by active-chat count
// ascending, then last activity descending (least busy first, ties broken by
// most recently idle). Workload is resynchronized from the conversation
// store before eligibility is evaluated; the directory's cached counter is
// advisory only.
func (b *LoadBalancer) ListAvailable(ctx context.Context, channelType, routingPool string, limit int) ([]*domain.Agent, error) {
	candidates, err := b.agents.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled agents: %w", err)
	}

	var eligible []*domain.Agent
	for _, agent := range candidates {
		// Authoritative workload: count of non-terminal conversations
		// assigned to the agent. Prevents stale-counter starvation and
		// over-assignment.
		active, err := b.conversations.CountActiveByAgent(ctx, agent.ID)
		if err != nil {
			return nil, fmt.Errorf("resync workload for agent %s: %w", agent.ID, err)
		}
		agent.ActiveChats = active

		if !b.isEligible(agent, channelType, routingPool) {
			continue
		}
		eligible = append(eligible, agent)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].ActiveChats != eligible[j].ActiveChats {
			return eligible[i].ActiveChats < eligible[j].ActiveChats
		}
		return eligible[i].LastActivityAt.After(eligible[j].LastActivityAt)
	})

	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

// isEligible applies the assignment filter chain.
func (b *LoadBalancer) isEligible(agent *domain.Agent, channelType, routingPool string) bool {
	if agent.Status != domain.AgentStatusAvailable || !agent.AutoAssign {
		return false
	}
	if !agent.HasCapacity() {
		return false
	}
	if !b.withinWorkingHours(agent) {
		return false
	}
	if !agent.ServesChannel(channelType) {
		return false
	}
	if !agent.InPool(routingPool) {
		return false
	}
	return true
}

// withinWorkingHours checks the agent's configured window against the local
// clock. Undefined hours mean always eligible. Overnight windows
// (start > end) span midnight.
func (b *LoadBalancer) withinWorkingHours(agent *domain.Agent) bool {
	if agent.WorkStart == nil || agent.WorkEnd == nil {
		return true
	}
	start, err1 := parseClock(*agent.WorkStart)
	end, err2 := parseClock(*agent.WorkEnd)
	if err1 != nil || err2 != nil {
		// Malformed config must not lock an agent out.
		return true
	}

	now := b.now()
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Assign picks the least-busy eligible agent for the conversation and
// atomically increments its workload counter before persisting the
// assignment. Returns domain.ErrNoAgentsAvailable when the eligible list is
// empty; store failures surface as distinct wrapped errors so callers never
// conflate "nobody was free" with "the write failed".
func (b *LoadBalancer) Assign(ctx context.Context, conversationID int64, routingPool string) (*domain.AssignmentResult, error) {
	poolLock := b.poolMutex(routingPool)
	poolLock.Lock()
	defer poolLock.Unlock()

	var lastConflict error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		eligible, err := b.ListAvailable(ctx, "", routingPool, 1)
		if err != nil {
			return nil, err
		}
		if len(eligible) == 0 {
			if b.metrics != nil {
				b.metrics.AssignmentsTotal.WithLabelValues("no_agents").Inc()
			}
			return nil, domain.ErrNoAgentsAvailable
		}

		agent := eligible[0]
		err = b.agents.UpdateWorkload(ctx, agent.ID, agent.ActiveChats+1, agent.WorkloadVersion)
		if errors.Is(err, domain.ErrAgentConflict) {
			// Lost the race against another writer; re-read and retry.
			if b.metrics != nil {
				b.metrics.AssignmentConflicts.Inc()
			}
			lastConflict = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update agent workload: %w", err)
		}

		if err := b.conversations.AssignAgent(ctx, conversationID, agent.ID); err != nil {
			return nil, fmt.Errorf("persist assignment: %w", err)
		}

		now := b.now()
		if err := b.agents.TouchActivity(ctx, agent.ID, now); err != nil {
			// Activity timestamp only affects tie-breaking; not fatal.
			slog.Warn("Failed to touch agent activity",
				"error", err,
				"agent_id", agent.ID,
			)
		}

		if b.notifier != nil {
			// Best effort; the assignment is already committed.
			if err := b.notifier.NotifyAssignment(ctx, agent.ID, conversationID); err != nil {
				slog.Warn("Failed to deliver assignment notification",
					"error", err,
					"agent_id", agent.ID,
					"conversation_id", conversationID,
				)
			}
		}

		if b.metrics != nil {
			b.metrics.AssignmentsTotal.WithLabelValues("assigned").Inc()
		}
		slog.Info("Conversation assigned",
			"conversation_id", conversationID,
			"agent_id", agent.ID,
			"active_chats", agent.ActiveChats+1,
			"routing_pool", routingPool,
		)

		return &domain.AssignmentResult{
			ConversationID: conversationID,
			AgentID:        agent.ID,
			AgentName:      agent.Name,
			RoutingPool:    routingPool,
			ActiveChats:    agent.ActiveChats + 1,
			AssignedAt:     now,
		}, nil
	}

	return nil, fmt.Errorf("assignment retries exhausted: %w", lastConflict)
}

// poolMutex returns the serialization point for one routing pool.
func (b *LoadBalancer) poolMutex(pool string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.pools[pool]
	if !ok {
		m = &sync.Mutex{}
		b.pools[pool] = m
	}
	return m
}
