package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"omnidesk-triage/internal/adapters/dto"
	"omnidesk-triage/internal/core/services"
)

// WebhookHandler receives normalized inbound events from channel gateways
// and feeds them to the triage pipeline. Fire and forget: the gateway gets
// 200 immediately, processing happens asynchronously.
type WebhookHandler struct {
	pipeline   *services.TriagePipeline
	hmacSecret string // For HMAC signature validation
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(pipeline *services.TriagePipeline, hmacSecret string) *WebhookHandler {
	return &WebhookHandler{
		pipeline:   pipeline,
		hmacSecret: hmacSecret,
	}
}

// HandleInbound handles POST /webhook/inbound from channel gateways.
// The signature must validate before anything is processed.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("Failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		slog.Warn("Webhook rejected: missing signature",
			"remote_addr", r.RemoteAddr,
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if !h.validSignature(body, signature) {
		slog.Warn("Webhook rejected: invalid signature",
			"remote_addr", r.RemoteAddr,
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req dto.InboundWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.Error("Failed to parse inbound webhook JSON", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// Respond before processing; gateways expect a fast 200 and redeliver
	// on timeout, which the dedup store absorbs.
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))

	go h.processEvents(req)
}

// processEvents runs the pipeline over each user message in the batch.
// Uses a background context: the request context is gone by now.
func (h *WebhookHandler) processEvents(req dto.InboundWebhookRequest) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in webhook processing", "panic", r)
		}
	}()

	ctx := context.Background()
	processed, skipped := 0, 0

	for i := range req.Events {
		event := &req.Events[i]
		if !event.IsUserMessage() {
			skipped++
			continue
		}

		_, err := h.pipeline.Process(ctx, services.InboundMessage{
			SessionID:     event.SessionID,
			Channel:       req.Channel,
			SenderID:      event.SenderID,
			Text:          event.Text,
			ExternalMsgID: event.EventID,
			Priority:      event.PriorityLevel(),
		})
		if err != nil {
			slog.Error("Failed to triage message",
				"error", err,
				"event_id", event.EventID,
			)
			// Continue processing other events even if one fails
			continue
		}
		processed++
	}

	slog.Info("Webhook batch processed",
		"channel", req.Channel,
		"processed", processed,
		"skipped", skipped,
	)
}

// validSignature checks the X-Hub-Signature-256 header against the payload.
func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	received := strings.TrimPrefix(header, "sha256=")

	mac := hmac.New(sha256.New, []byte(h.hmacSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(received))
}
