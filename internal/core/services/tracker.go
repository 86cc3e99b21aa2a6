package services

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
)

// maxRecentMessages bounds the rolling per-session message history.
const maxRecentMessages = 5

// Identifier-shaped tokens that flip a session to "provided_identifier".
var (
	nationalIDPattern = regexp.MustCompile(`\b\d{9,12}\b`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// Declared-identity keywords and prefix tokens ("customer 1234", "CUST-8812").
	identityKeywords = []string{"customer", "member", "policyholder"}
	prefixTokens     = regexp.MustCompile(`(?i)\b(cust|mem|pol)-?\d{3,}\b`)
)

// intentTopics maps classifier intents onto session topics.
var intentTopics = map[string]string{
	"claims":       "claim_inquiry",
	"financial":    "payment_inquiry",
	"certificates": "document_request",
	"account":      "account_help",
	"technical":    "technical_support",
}

// defaultSessionTopic is used when the intent has no table entry.
const defaultSessionTopic = "general_inquiry"

// Suggested tones, in derivation priority order.
const (
	ToneWelcoming       = "welcoming"
	ToneHelpfulInformed = "helpful_and_informed"
	ToneCollaborative   = "collaborative"
	ToneFriendly        = "friendly"
)

// StateTracker maintains per-session conversational state and derives tone
// guidance from it. All mutation goes through the session store's per-key
// lock, so duplicate deliveries for one session serialize.
type StateTracker struct {
	sessions ports.SessionStore
}

// NewStateTracker creates a state tracker backed by the given session store.
func NewStateTracker(sessions ports.SessionStore) *StateTracker {
	return &StateTracker{sessions: sessions}
}

// Update folds one message into the session state and returns a snapshot.
// Sessions are created lazily on first reference; expiry is an external
// concern.
func (t *StateTracker) Update(ctx context.Context, sessionID, message, intent string, liveDataAvailable bool) (*domain.StateSnapshot, error) {
	sess, err := t.sessions.Mutate(ctx, sessionID, func(s *domain.Session) {
		s.InteractionCount++

		if s.AuthStatus == domain.AuthNone && containsIdentifier(message) {
			s.AuthStatus = domain.AuthProvidedIdentifier
			s.AuthAtInteraction = s.InteractionCount
			slog.Debug("Session provided identifier",
				"session_id", sessionID,
				"interaction", s.InteractionCount,
			)
		}

		if liveDataAvailable {
			s.DataRetrieved = true
		}

		topic := intentTopics[intent]
		if topic == "" {
			topic = defaultSessionTopic
		}
		s.CurrentTopic = topic
		s.TopicsDiscussed = appendUnique(s.TopicsDiscussed, topic)

		s.RecentMessages = append(s.RecentMessages, message)
		if len(s.RecentMessages) > maxRecentMessages {
			s.RecentMessages = s.RecentMessages[len(s.RecentMessages)-maxRecentMessages:]
		}

		s.UpdatedAt = time.Now()
	})
	if err != nil {
		return nil, err
	}

	return &domain.StateSnapshot{
		SessionID:        sess.ID,
		State:            deriveState(sess),
		AuthStatus:       sess.AuthStatus,
		CurrentTopic:     sess.CurrentTopic,
		TopicsDiscussed:  sess.TopicsDiscussed,
		InteractionCount: sess.InteractionCount,
		DataRetrieved:    sess.DataRetrieved,
		EscalationNeeded: sess.EscalationNeeded,
	}, nil
}

// Guidance derives tone advice from the current session state. Pure view:
// calling it repeatedly without an intervening Update returns identical
// output.
func (t *StateTracker) Guidance(ctx context.Context, sessionID string) (*domain.Guidance, error) {
	sess, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	g := &domain.Guidance{
		ShouldGreet: sess.InteractionCount == 1,
		ShouldAcknowledge: sess.AuthAtInteraction > 0 &&
			sess.AuthAtInteraction == sess.InteractionCount &&
			sess.InteractionCount <= 2,
		ConversationStage: conversationStage(sess.InteractionCount),
	}

	// Tone priority: first contact, then informed, then breadth, then default.
	switch {
	case sess.InteractionCount <= 1:
		g.SuggestedTone = ToneWelcoming
	case sess.DataRetrieved:
		g.SuggestedTone = ToneHelpfulInformed
	case len(sess.TopicsDiscussed) > 2:
		g.SuggestedTone = ToneCollaborative
	default:
		g.SuggestedTone = ToneFriendly
	}

	return g, nil
}

// MarkEscalationNeeded flags the session for human handling.
func (t *StateTracker) MarkEscalationNeeded(ctx context.Context, sessionID string) error {
	_, err := t.sessions.Mutate(ctx, sessionID, func(s *domain.Session) {
		s.EscalationNeeded = true
		s.UpdatedAt = time.Now()
	})
	return err
}

// deriveState picks the coarse session label. The underlying flags overlap;
// the label is the strongest applicable signal, not a strict partition.
func deriveState(s *domain.Session) string {
	switch {
	case !s.Active:
		return domain.SessionStateCompleted
	case s.EscalationNeeded:
		return domain.SessionStateHelping
	case len(s.TopicsDiscussed) > 1:
		return domain.SessionStateTopicFocused
	case s.DataRetrieved:
		return domain.SessionStateDataRetrieved
	case s.AuthStatus != domain.AuthNone:
		return domain.SessionStateAuthenticated
	default:
		return domain.SessionStateInitial
	}
}

// conversationStage buckets maturity by interaction count.
func conversationStage(interactions int) string {
	switch {
	case interactions <= 1:
		return domain.StageNew
	case interactions <= 3:
		return domain.StageDeveloping
	case interactions <= 6:
		return domain.StageEstablished
	default:
		return domain.StageExtended
	}
}

// containsIdentifier detects identifier-like tokens: national-ID-shaped
// digit runs, emails, declared identity keywords, or prefixed account tokens.
func containsIdentifier(message string) bool {
	if nationalIDPattern.MatchString(message) || emailPattern.MatchString(message) {
		return true
	}
	if prefixTokens.MatchString(message) {
		return true
	}
	lower := strings.ToLower(message)
	for _, kw := range identityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// appendUnique appends v unless already present, preserving order.
func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}
