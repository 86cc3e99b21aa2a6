package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
	"omnidesk-triage/internal/metrics"
)

// InboundMessage is the parsed, channel-agnostic input to the pipeline.
// Channel gateways produce it from their own wire formats.
type InboundMessage struct {
	SessionID     string
	Channel       string
	SenderID      string
	Text          string
	ExternalMsgID string
	Priority      domain.PriorityLevel // optional; defaults to Medium
}

// TriageResult is everything the pipeline decided for one message.
type TriageResult struct {
	ConversationID int64                    `json:"conversation_id"`
	Classification domain.Classification    `json:"classification"`
	State          *domain.StateSnapshot    `json:"state"`
	Guidance       *domain.Guidance         `json:"guidance"`
	CacheHit       bool                     `json:"cache_hit"`
	Payload        []byte                   `json:"payload,omitempty"`
	Escalation     *domain.EscalationRecord `json:"escalation,omitempty"`
	Assignment     *domain.AssignmentResult `json:"assignment,omitempty"`
	Duplicate      bool                     `json:"duplicate"`
}

// EventPublisher fans triage decisions out to live observers.
type EventPublisher interface {
	Publish(event domain.TriageEvent)
}

// Cache TTL categories
const (
	CacheCategoryLiveData = "live_data"
	CacheCategoryStatic   = "static"
)

// dedupTTL keeps processed message IDs long enough to cover channel
// gateway redelivery windows.
const dedupTTL = 24 * time.Hour

// frustrationPatterns feed the escalation trigger. High precision over
// recall: a missed trigger costs one more turn, a false one costs an agent.
var frustrationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(this is|i'?m)\s+(ridiculous|unacceptable|fed up|frustrated|angry)\b`),
	regexp.MustCompile(`(?i)\b(speak|talk)\s+(to|with)\s+(a\s+)?(human|person|agent|someone|manager)\b`),
	regexp.MustCompile(`(?i)\b(useless|waste of time|not helping|doesn'?t work)\b`),
	regexp.MustCompile(`(?i)\bcomplain(t|ing)?\b`),
}

// escalationTurnThreshold triggers escalation on long unresolved sessions
// even without explicit frustration.
const escalationTurnThreshold = 8

// TriagePipeline orchestrates the per-message control flow: classify, update
// session state, consult the cache, resolve data on miss, escalate when the
// signals warrant it, and hand assignment to the load balancer.
type TriagePipeline struct {
	classifier    *Classifier
	tracker       *StateTracker
	escalations   *EscalationService
	balancer      *LoadBalancer
	conversations ports.ConversationStore
	cache         ports.ResponseCache
	dedup         ports.DedupStore
	resolver      ports.DataResolver
	events        EventPublisher
	metrics       *metrics.Metrics
}

// NewTriagePipeline wires the pipeline. events, resolver and metrics may be
// nil; the corresponding steps degrade to no-ops.
func NewTriagePipeline(
	classifier *Classifier,
	tracker *StateTracker,
	escalations *EscalationService,
	balancer *LoadBalancer,
	conversations ports.ConversationStore,
	cache ports.ResponseCache,
	dedup ports.DedupStore,
	resolver ports.DataResolver,
	events EventPublisher,
	m *metrics.Metrics,
) *TriagePipeline {
	return &TriagePipeline{
		classifier:    classifier,
		tracker:       tracker,
		escalations:   escalations,
		balancer:      balancer,
		conversations: conversations,
		cache:         cache,
		dedup:         dedup,
		resolver:      resolver,
		events:        events,
		metrics:       m,
	}
}

// Process runs one inbound message through the pipeline.
// Recovers from panics so a poisoned message cannot take the worker down.
func (p *TriagePipeline) Process(ctx context.Context, msg InboundMessage) (result *TriageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in triage pipeline",
				"panic", r,
				"session_id", msg.SessionID,
			)
			result = nil
			err = fmt.Errorf("triage pipeline panic: %v", r)
		}
	}()

	if msg.Priority == "" {
		msg.Priority = domain.PriorityMedium
	}

	// Dedup: channel gateways redeliver, the pipeline must not double-count.
	if msg.ExternalMsgID != "" && p.dedup != nil {
		isDup, derr := p.dedup.IsDuplicate(ctx, msg.ExternalMsgID)
		if derr != nil {
			return nil, fmt.Errorf("dedup check: %w", derr)
		}
		if isDup {
			slog.Info("Duplicate message detected, skipping",
				"external_msg_id", msg.ExternalMsgID,
			)
			p.countMessage("duplicate")
			return &TriageResult{Duplicate: true}, nil
		}
	}

	classification := p.classifier.Classify(msg.Text)

	conversationID, err := p.conversations.GetOrCreateBySession(ctx, msg.SessionID, msg.Channel, msg.Priority)
	if err != nil {
		p.countMessage("failed")
		return nil, fmt.Errorf("get/create conversation: %w", err)
	}

	if err := p.conversations.SaveMessage(ctx, &domain.Message{
		ConversationID: conversationID,
		SessionID:      msg.SessionID,
		SenderID:       optionalString(msg.SenderID),
		Channel:        msg.Channel,
		Text:           msg.Text,
		ExternalMsgID:  optionalString(msg.ExternalMsgID),
		CreatedAt:      time.Now(),
	}); err != nil {
		p.countMessage("failed")
		return nil, fmt.Errorf("save message: %w", err)
	}

	payload, cacheHit := p.lookupOrResolve(ctx, classification, msg)

	state, err := p.tracker.Update(ctx, msg.SessionID, msg.Text, classification.Topic, payload != nil)
	if err != nil {
		p.countMessage("failed")
		return nil, fmt.Errorf("update session state: %w", err)
	}

	guidance, err := p.tracker.Guidance(ctx, msg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("derive guidance: %w", err)
	}

	result = &TriageResult{
		ConversationID: conversationID,
		Classification: classification,
		State:          state,
		Guidance:       guidance,
		CacheHit:       cacheHit,
		Payload:        payload,
	}

	if p.shouldEscalate(msg.Text, state) {
		p.escalate(ctx, msg, conversationID, state, result)
	}

	if p.dedup != nil && msg.ExternalMsgID != "" {
		if err := p.dedup.MarkProcessed(ctx, msg.ExternalMsgID, dedupTTL); err != nil {
			// Message already handled; a dedup write miss only risks one
			// redundant reprocess.
			slog.Warn("Failed to mark message in dedup cache",
				"error", err,
				"external_msg_id", msg.ExternalMsgID,
			)
		}
	}

	p.countMessage("processed")
	return result, nil
}

// lookupOrResolve consults the response cache and falls back to the data
// resolver on miss. Resolver failures degrade to "no live data" rather than
// failing the message.
func (p *TriagePipeline) lookupOrResolve(ctx context.Context, c domain.Classification, msg InboundMessage) ([]byte, bool) {
	if p.cache == nil {
		return p.resolve(ctx, c, msg), false
	}

	key := CacheKey(c.Topic, msg.SenderID, msg.Text)
	payload, err := p.cache.Get(ctx, key)
	if err == nil {
		if p.metrics != nil {
			p.metrics.CacheHits.Inc()
		}
		return payload, true
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		slog.Warn("Cache lookup failed", "error", err)
	}
	if p.metrics != nil {
		p.metrics.CacheMisses.Inc()
	}

	payload = p.resolve(ctx, c, msg)
	if payload != nil {
		category := CacheCategoryStatic
		if c.Mode == domain.ModeDirectData {
			category = CacheCategoryLiveData
		}
		if err := p.cache.Set(ctx, key, payload, category); err != nil {
			slog.Warn("Cache write failed", "error", err)
		}
	}
	return payload, false
}

func (p *TriagePipeline) resolve(ctx context.Context, c domain.Classification, msg InboundMessage) []byte {
	if p.resolver == nil {
		return nil
	}
	payload, err := p.resolver.Resolve(ctx, c.Topic, msg.SenderID, msg.Text)
	if err != nil {
		slog.Warn("Data resolution failed",
			"error", err,
			"topic", c.Topic,
		)
		return nil
	}
	return payload
}

// shouldEscalate decides whether the message or accumulated session state
// warrants human attention. A session already flagged for escalation never
// escalates again; one record per escalation event.
func (p *TriagePipeline) shouldEscalate(text string, state *domain.StateSnapshot) bool {
	if p.escalations == nil {
		return false
	}
	if state.EscalationNeeded {
		return false
	}
	for _, pat := range frustrationPatterns {
		if pat.MatchString(text) {
			return true
		}
	}
	return state.InteractionCount >= escalationTurnThreshold
}

func (p *TriagePipeline) escalate(ctx context.Context, msg InboundMessage, conversationID int64, state *domain.StateSnapshot, result *TriageResult) {
	frustration := domain.FrustrationLow
	for _, pat := range frustrationPatterns {
		if pat.MatchString(msg.Text) {
			frustration = domain.FrustrationHigh
			break
		}
	}

	rec, err := p.escalations.Create(ctx, domain.EscalationSignals{
		QueryRef:          msg.ExternalMsgID,
		ConversationID:    conversationID,
		Priority:          msg.Priority,
		Frustration:       frustration,
		ConversationTurns: state.InteractionCount,
		PriorAttempts:     0,
		Department:        departmentForTopic(state.CurrentTopic),
		Channel:           msg.Channel,
	})
	if err != nil {
		slog.Error("Escalation creation failed",
			"error", err,
			"conversation_id", conversationID,
		)
		return
	}
	result.Escalation = rec

	if err := p.tracker.MarkEscalationNeeded(ctx, msg.SessionID); err != nil {
		slog.Warn("Failed to flag session for escalation",
			"error", err,
			"session_id", msg.SessionID,
		)
	}

	if p.metrics != nil {
		p.metrics.EscalationsCreated.WithLabelValues(string(rec.Priority)).Inc()
	}
	p.publish(domain.TriageEvent{
		Kind:           domain.EventEscalation,
		ConversationID: conversationID,
		EscalationID:   rec.ID,
		Detail:         string(rec.Priority),
		At:             time.Now(),
	})

	if rec.AssignedAgent != nil {
		result.Assignment = &domain.AssignmentResult{
			ConversationID: conversationID,
			AgentID:        *rec.AssignedAgent,
			AssignedAt:     time.Now(),
		}
		p.publish(domain.TriageEvent{
			Kind:           domain.EventAssignment,
			ConversationID: conversationID,
			AgentID:        *rec.AssignedAgent,
			At:             time.Now(),
		})
	}
}

func (p *TriagePipeline) publish(event domain.TriageEvent) {
	if p.events != nil {
		p.events.Publish(event)
	}
}

func (p *TriagePipeline) countMessage(status string) {
	if p.metrics != nil {
		p.metrics.MessagesProcessed.WithLabelValues(status).Inc()
	}
}

// optionalString maps "" to nil so empty identifiers persist as NULL
// instead of colliding on ''.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// departmentForTopic routes escalations to the owning department.
func departmentForTopic(topic string) string {
	switch {
	case strings.HasPrefix(topic, "claim"):
		return "Claims"
	case strings.HasPrefix(topic, "payment"):
		return "Finance"
	case strings.HasPrefix(topic, "document"):
		return "Records"
	case strings.HasPrefix(topic, "technical"):
		return "IT Support"
	default:
		return "Customer Service"
	}
}

// CacheKey fingerprints (intent, user identity, normalized query) into the
// response cache key.
func CacheKey(intent, userID, query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(intent + "|" + userID + "|" + normalized))
	return hex.EncodeToString(sum[:])
}
