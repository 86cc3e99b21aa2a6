package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/services"
)

// TriageHandler exposes the triage library over HTTP for the CRM's web
// layer. Thin translation only: the decisions live in the services.
type TriageHandler struct {
	classifier  *services.Classifier
	tracker     *services.StateTracker
	escalations *services.EscalationService
	balancer    *services.LoadBalancer
	sla         *services.SLAMonitor
}

// NewTriageHandler creates a new triage API handler
func NewTriageHandler(
	classifier *services.Classifier,
	tracker *services.StateTracker,
	escalations *services.EscalationService,
	balancer *services.LoadBalancer,
	sla *services.SLAMonitor,
) *TriageHandler {
	return &TriageHandler{
		classifier:  classifier,
		tracker:     tracker,
		escalations: escalations,
		balancer:    balancer,
		sla:         sla,
	}
}

// Register mounts the triage API routes.
func (h *TriageHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/classify", h.Classify).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/state", h.UpdateState).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/guidance", h.GetGuidance).Methods(http.MethodGet)
	r.HandleFunc("/api/escalations", h.CreateEscalation).Methods(http.MethodPost)
	r.HandleFunc("/api/escalations/{id}/transition", h.TransitionEscalation).Methods(http.MethodPost)
	r.HandleFunc("/api/agents/available", h.ListAvailableAgents).Methods(http.MethodGet)
	r.HandleFunc("/api/conversations/{id}/assign", h.AssignConversation).Methods(http.MethodPost)
	r.HandleFunc("/api/conversations/{id}/breach", h.CheckBreach).Methods(http.MethodGet)
	r.HandleFunc("/api/sla/breaches", h.SweepBreaches).Methods(http.MethodGet)
}

// Classify handles POST /api/classify
func (h *TriageHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, BadRequestResponse("text is required"))
		return
	}

	writeJSON(w, NewSuccessResponse(h.classifier.Classify(req.Text)))
}

// UpdateState handles POST /api/sessions/{id}/state
func (h *TriageHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req struct {
		Message           string `json:"message"`
		Intent            string `json:"intent"`
		LiveDataAvailable bool   `json:"live_data_available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, BadRequestResponse("invalid request body"))
		return
	}

	snapshot, err := h.tracker.Update(r.Context(), sessionID, req.Message, req.Intent, req.LiveDataAvailable)
	if err != nil {
		slog.Error("State update failed", "error", err, "session_id", sessionID)
		writeJSON(w, InternalErrorResponse("state update failed"))
		return
	}

	writeJSON(w, NewSuccessResponse(snapshot))
}

// GetGuidance handles GET /api/sessions/{id}/guidance
func (h *TriageHandler) GetGuidance(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	guidance, err := h.tracker.Guidance(r.Context(), sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeJSON(w, NotFoundResponse("session not found"))
		return
	}
	if err != nil {
		writeJSON(w, InternalErrorResponse("guidance derivation failed"))
		return
	}

	writeJSON(w, NewSuccessResponse(guidance))
}

// CreateEscalation handles POST /api/escalations
func (h *TriageHandler) CreateEscalation(w http.ResponseWriter, r *http.Request) {
	var signals domain.EscalationSignals
	if err := json.NewDecoder(r.Body).Decode(&signals); err != nil {
		writeJSON(w, BadRequestResponse("invalid escalation signals"))
		return
	}

	rec, err := h.escalations.Create(r.Context(), signals)
	if err != nil {
		slog.Error("Escalation creation failed", "error", err)
		writeJSON(w, InternalErrorResponse("escalation creation failed"))
		return
	}

	writeJSON(w, NewSuccessResponse(rec))
}

// TransitionEscalation handles POST /api/escalations/{id}/transition
func (h *TriageHandler) TransitionEscalation(w http.ResponseWriter, r *http.Request) {
	escalationID := mux.Vars(r)["id"]

	var req struct {
		Status string  `json:"status"`
		Notes  *string `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, BadRequestResponse("status is required"))
		return
	}

	rec, err := h.escalations.Transition(r.Context(), escalationID, req.Status, req.Notes)
	switch {
	case errors.Is(err, domain.ErrEscalationNotFound):
		writeJSON(w, NotFoundResponse("escalation not found"))
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, ConflictResponse(err.Error()))
	case err != nil:
		writeJSON(w, InternalErrorResponse("transition failed"))
	default:
		writeJSON(w, NewSuccessResponse(rec))
	}
}

// ListAvailableAgents handles GET /api/agents/available
func (h *TriageHandler) ListAvailableAgents(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	pool := r.URL.Query().Get("pool")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	agents, err := h.balancer.ListAvailable(r.Context(), channel, pool, limit)
	if err != nil {
		slog.Error("Agent listing failed", "error", err)
		writeJSON(w, InternalErrorResponse("agent listing failed"))
		return
	}

	writeJSON(w, NewSuccessResponse(agents))
}

// AssignConversation handles POST /api/conversations/{id}/assign
func (h *TriageHandler) AssignConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, BadRequestResponse("invalid conversation id"))
		return
	}

	var req struct {
		Pool string `json:"pool,omitempty"`
	}
	// Body is optional for pool-less assignment.
	_ = json.NewDecoder(r.Body).Decode(&req)

	result, err := h.balancer.Assign(r.Context(), conversationID, req.Pool)
	switch {
	case errors.Is(err, domain.ErrNoAgentsAvailable):
		// Business outcome, not a server error: the caller queues or alerts.
		writeJSON(w, APIResponse{Code: 200, Message: "no agents available", Data: nil})
	case err != nil:
		slog.Error("Assignment failed", "error", err, "conversation_id", conversationID)
		writeJSON(w, InternalErrorResponse("assignment failed"))
	default:
		writeJSON(w, NewSuccessResponse(result))
	}
}

// CheckBreach handles GET /api/conversations/{id}/breach
func (h *TriageHandler) CheckBreach(w http.ResponseWriter, r *http.Request) {
	conversationID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, BadRequestResponse("invalid conversation id"))
		return
	}

	result, err := h.sla.CheckBreach(r.Context(), conversationID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		writeJSON(w, NotFoundResponse("conversation not found"))
		return
	}
	if err != nil {
		writeJSON(w, InternalErrorResponse("breach check failed"))
		return
	}

	writeJSON(w, NewSuccessResponse(result))
}

// SweepBreaches handles GET /api/sla/breaches
func (h *TriageHandler) SweepBreaches(w http.ResponseWriter, r *http.Request) {
	breached, err := h.sla.Sweep(r.Context())
	if err != nil {
		slog.Error("SLA sweep failed", "error", err)
		writeJSON(w, InternalErrorResponse("sweep failed"))
		return
	}

	writeJSON(w, NewSuccessResponse(breached))
}
