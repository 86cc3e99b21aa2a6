// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
)

// Custom errors for specific notification endpoint failures
var (
	// ErrUnauthorized indicates the notification endpoint rejected our token.
	ErrUnauthorized = errors.New("notification endpoint rejected credentials")

	// ErrRateLimited indicates the endpoint throttled us; retry later.
	ErrRateLimited = errors.New("notification endpoint rate limit exceeded")
)

// Ensure HTTPNotifier implements NotificationGateway
var _ ports.NotificationGateway = (*HTTPNotifier)(nil)

// HTTPNotifier delivers assignment and escalation alerts to an internal
// notification endpoint (which fans out to channel gateways, email, etc.).
type HTTPNotifier struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// NewHTTPNotifier creates a notification gateway client.
func NewHTTPNotifier(baseURL, authToken string) *HTTPNotifier {
	return &HTTPNotifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:   baseURL,
		authToken: authToken,
	}
}

// assignmentAlert is the payload for agent pickup notifications.
type assignmentAlert struct {
	Type           string `json:"type"`
	AgentID        string `json:"agent_id"`
	ConversationID int64  `json:"conversation_id"`
}

// escalationAlert is the payload for department escalation alerts.
type escalationAlert struct {
	Type          string  `json:"type"`
	EscalationID  string  `json:"escalation_id"`
	Department    string  `json:"department"`
	Priority      string  `json:"priority"`
	PriorityScore float64 `json:"priority_score"`
}

// NotifyAssignment tells an agent they picked up a conversation.
func (n *HTTPNotifier) NotifyAssignment(ctx context.Context, agentID string, conversationID int64) error {
	return n.deliver(ctx, assignmentAlert{
		Type:           "assignment",
		AgentID:        agentID,
		ConversationID: conversationID,
	})
}

// NotifyEscalation alerts the department handling an escalation.
func (n *HTTPNotifier) NotifyEscalation(ctx context.Context, rec *domain.EscalationRecord) error {
	return n.deliver(ctx, escalationAlert{
		Type:          "escalation",
		EscalationID:  rec.ID,
		Department:    rec.Department,
		Priority:      string(rec.Priority),
		PriorityScore: rec.PriorityScore,
	})
}

// deliver posts an alert with retry. Auth and throttle errors are returned
// immediately; network errors back off and retry.
func (n *HTTPNotifier) deliver(ctx context.Context, payload interface{}) error {
	const maxRetries = 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := n.deliverAttempt(ctx, payload)
		if err == nil {
			return nil
		}

		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRateLimited) {
			return err
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			slog.Warn("Retrying notification delivery",
				"attempt", attempt,
				"max_retries", maxRetries,
				"backoff_ms", backoff.Milliseconds(),
				"error", err,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("notification failed after %d attempts", maxRetries)
}

func (n *HTTPNotifier) deliverAttempt(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/api/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.authToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification endpoint returned %d: %s", resp.StatusCode, respBody)
	}
}
