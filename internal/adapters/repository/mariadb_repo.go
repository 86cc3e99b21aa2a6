// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
)

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.ConversationStore = (*MariaDBRepository)(nil)
	_ ports.AgentDirectory    = (*MariaDBRepository)(nil)
	_ ports.EscalationStore   = (*MariaDBRepository)(nil)
	_ ports.SLAPolicyStore    = (*MariaDBRepository)(nil)
)

// MariaDBRepository implements the durable stores for conversations, agents,
// escalations and SLA policies. The database is authoritative; every
// in-memory or Redis structure is strictly a cache over it.
type MariaDBRepository struct {
	db *sql.DB
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db: db,
	}
}

// ============================================================================
// ConversationStore Implementation
// ============================================================================

// GetConversation retrieves a conversation by ID.
func (r *MariaDBRepository) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	query := `
		SELECT id, session_id, channel, priority, status, assigned_agent,
		       first_response_at, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	conv := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.SessionID,
		&conv.Channel,
		&conv.Priority,
		&conv.Status,
		&conv.AssignedAgent,
		&conv.FirstResponseAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	return conv, nil
}

// GetOrCreateBySession retrieves the open conversation for a session or
// creates a new one, returning the conversation database ID.
func (r *MariaDBRepository) GetOrCreateBySession(ctx context.Context, sessionID, channel string, priority domain.PriorityLevel) (int64, error) {
	query := `
		SELECT id FROM conversations
		WHERE session_id = ? AND status NOT IN ('resolved', 'closed')
		ORDER BY created_at DESC
		LIMIT 1
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup conversation: %w", err)
	}

	insert := `
		INSERT INTO conversations (session_id, channel, priority, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, insert, sessionID, channel, string(priority), domain.ConversationStatusOpen, time.Now())
	if err != nil {
		return 0, fmt.Errorf("create conversation: %w", err)
	}

	id, err = result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conversation insert id: %w", err)
	}

	slog.Debug("Conversation created",
		"conversation_id", id,
		"session_id", sessionID,
		"channel", channel,
	)

	return id, nil
}

// ListOpen enumerates all non-terminal conversations, oldest first.
func (r *MariaDBRepository) ListOpen(ctx context.Context) ([]*domain.Conversation, error) {
	query := `
		SELECT id, session_id, channel, priority, status, assigned_agent,
		       first_response_at, created_at, updated_at
		FROM conversations
		WHERE status NOT IN ('resolved', 'closed')
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		if err := rows.Scan(
			&conv.ID,
			&conv.SessionID,
			&conv.Channel,
			&conv.Priority,
			&conv.Status,
			&conv.AssignedAgent,
			&conv.FirstResponseAt,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// CountActiveByAgent returns the authoritative workload for one agent.
func (r *MariaDBRepository) CountActiveByAgent(ctx context.Context, agentID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM conversations
		WHERE assigned_agent = ? AND status NOT IN ('resolved', 'closed')
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, agentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active conversations: %w", err)
	}
	return count, nil
}

// AssignAgent writes the agent assignment on a conversation.
func (r *MariaDBRepository) AssignAgent(ctx context.Context, conversationID int64, agentID string) error {
	query := `
		UPDATE conversations
		SET assigned_agent = ?, status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, agentID, domain.ConversationStatusPending, time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("assign agent: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConversationNotFound
	}

	return nil
}

// SaveMessage persists an inbound message against its conversation.
func (r *MariaDBRepository) SaveMessage(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (conversation_id, session_id, sender_id, channel, text, external_msg_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			text = VALUES(text)
	`

	_, err := r.db.ExecContext(ctx, query,
		msg.ConversationID,
		msg.SessionID,
		msg.SenderID,
		msg.Channel,
		msg.Text,
		msg.ExternalMsgID,
		msg.CreatedAt,
	)
	if err != nil {
		slog.Error("Failed to save message",
			"error", err,
			"conversation_id", msg.ConversationID,
		)
		return fmt.Errorf("save message: %w", err)
	}

	return nil
}

// ============================================================================
// AgentDirectory Implementation
// ============================================================================

const agentColumns = `
	id, name, status, auto_assign, active_chats, max_concurrent,
	channels_json, routing_pool, work_start, work_end, last_activity_at,
	workload_version
`

// GetAgent retrieves a single agent by ID.
func (r *MariaDBRepository) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = ?`

	agent, err := scanAgent(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// ListEnabled returns agents with auto-assignment enabled.
func (r *MariaDBRepository) ListEnabled(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE auto_assign = 1 ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list enabled agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, agent)
	}

	return agents, rows.Err()
}

// UpdateWorkload writes the advisory counter under an optimistic version
// check. A stale version loses the race and returns domain.ErrAgentConflict
// so the caller re-reads and retries.
func (r *MariaDBRepository) UpdateWorkload(ctx context.Context, agentID string, activeChats int, expectedVersion int64) error {
	query := `
		UPDATE agents
		SET active_chats = ?, workload_version = workload_version + 1
		WHERE id = ? AND workload_version = ?
	`

	result, err := r.db.ExecContext(ctx, query, activeChats, agentID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update agent workload: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent workload rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrAgentConflict
	}

	return nil
}

// TouchActivity records the agent's last-activity timestamp.
func (r *MariaDBRepository) TouchActivity(ctx context.Context, agentID string, at time.Time) error {
	query := `UPDATE agents SET last_activity_at = ? WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, at, agentID); err != nil {
		return fmt.Errorf("touch agent activity: %w", err)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	agent := &domain.Agent{}
	var channelsJSON []byte

	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Status,
		&agent.AutoAssign,
		&agent.ActiveChats,
		&agent.MaxConcurrent,
		&channelsJSON,
		&agent.RoutingPool,
		&agent.WorkStart,
		&agent.WorkEnd,
		&agent.LastActivityAt,
		&agent.WorkloadVersion,
	)
	if err != nil {
		return nil, err
	}

	if len(channelsJSON) > 0 {
		if err := json.Unmarshal(channelsJSON, &agent.Channels); err != nil {
			return nil, fmt.Errorf("decode agent channels: %w", err)
		}
	}

	return agent, nil
}

// ============================================================================
// EscalationStore Implementation
// ============================================================================

// Save inserts a new escalation record.
func (r *MariaDBRepository) Save(ctx context.Context, rec *domain.EscalationRecord) error {
	query := `
		INSERT INTO escalations (
			id, query_ref, conversation_id, priority, frustration,
			conversation_turns, duration_minutes, prior_attempts,
			ml_probability, priority_score, department, assigned_agent,
			status, notes, created_at, resolved_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.QueryRef,
		rec.ConversationID,
		string(rec.Priority),
		string(rec.Frustration),
		rec.ConversationTurns,
		rec.DurationMinutes,
		rec.PriorAttempts,
		rec.MLProbability,
		rec.PriorityScore,
		rec.Department,
		rec.AssignedAgent,
		rec.Status,
		rec.Notes,
		rec.CreatedAt,
		rec.ResolvedAt,
	)
	if err != nil {
		slog.Error("Failed to save escalation",
			"error", err,
			"escalation_id", rec.ID,
		)
		return fmt.Errorf("save escalation: %w", err)
	}

	return nil
}

// Get retrieves an escalation by ID.
func (r *MariaDBRepository) Get(ctx context.Context, id string) (*domain.EscalationRecord, error) {
	query := `
		SELECT id, query_ref, conversation_id, priority, frustration,
		       conversation_turns, duration_minutes, prior_attempts,
		       ml_probability, priority_score, department, assigned_agent,
		       status, notes, created_at, resolved_at
		FROM escalations
		WHERE id = ?
	`

	rec, err := scanEscalation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEscalationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	return rec, nil
}

// UpdateStatus writes a status transition. Nil agentID/notes leave the
// stored values untouched.
func (r *MariaDBRepository) UpdateStatus(ctx context.Context, id, status string, agentID, notes *string, resolvedAt *time.Time) error {
	query := `
		UPDATE escalations
		SET status = ?,
		    assigned_agent = COALESCE(?, assigned_agent),
		    notes = COALESCE(?, notes),
		    resolved_at = COALESCE(?, resolved_at)
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, agentID, notes, resolvedAt, id)
	if err != nil {
		return fmt.Errorf("update escalation status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		slog.Warn("No escalation found for status update",
			"escalation_id", id,
		)
	}

	return nil
}

// ListByStatus returns escalations in one status, highest score first.
func (r *MariaDBRepository) ListByStatus(ctx context.Context, status string) ([]*domain.EscalationRecord, error) {
	query := `
		SELECT id, query_ref, conversation_id, priority, frustration,
		       conversation_turns, duration_minutes, prior_attempts,
		       ml_probability, priority_score, department, assigned_agent,
		       status, notes, created_at, resolved_at
		FROM escalations
		WHERE status = ?
		ORDER BY priority_score DESC
	`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var records []*domain.EscalationRecord
	for rows.Next() {
		rec, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanEscalation(row rowScanner) (*domain.EscalationRecord, error) {
	rec := &domain.EscalationRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.QueryRef,
		&rec.ConversationID,
		&rec.Priority,
		&rec.Frustration,
		&rec.ConversationTurns,
		&rec.DurationMinutes,
		&rec.PriorAttempts,
		&rec.MLProbability,
		&rec.PriorityScore,
		&rec.Department,
		&rec.AssignedAgent,
		&rec.Status,
		&rec.Notes,
		&rec.CreatedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ============================================================================
// SLAPolicyStore Implementation
// ============================================================================

// FindActive returns the active policy for the exact (priority, channel)
// pair. Wildcard fallback lives in the SLA monitor, not here: the store only
// answers exact lookups. At most one active policy exists per pair.
func (r *MariaDBRepository) FindActive(ctx context.Context, priority domain.PriorityLevel, channel string) (*domain.SLAPolicy, error) {
	query := `
		SELECT id, priority, channel, first_response_time, resolution_time,
		       escalation_time, business_hours_only, active
		FROM sla_policies
		WHERE priority = ? AND channel = ? AND active = 1
		LIMIT 1
	`

	policy := &domain.SLAPolicy{}
	err := r.db.QueryRowContext(ctx, query, string(priority), channel).Scan(
		&policy.ID,
		&policy.Priority,
		&policy.Channel,
		&policy.FirstResponseTime,
		&policy.ResolutionTime,
		&policy.EscalationTime,
		&policy.BusinessHoursOnly,
		&policy.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find sla policy: %w", err)
	}

	return policy, nil
}
