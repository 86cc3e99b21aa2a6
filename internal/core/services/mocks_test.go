package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"omnidesk-triage/internal/core/domain"
)

// Shared testify mocks for the port interfaces used across the service tests.

type mockEscalationStore struct {
	mock.Mock
}

func (m *mockEscalationStore) Save(ctx context.Context, rec *domain.EscalationRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockEscalationStore) Get(ctx context.Context, id string) (*domain.EscalationRecord, error) {
	args := m.Called(ctx, id)
	if rec := args.Get(0); rec != nil {
		return rec.(*domain.EscalationRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEscalationStore) UpdateStatus(ctx context.Context, id, status string, agentID, notes *string, resolvedAt *time.Time) error {
	args := m.Called(ctx, id, status, agentID, notes, resolvedAt)
	return args.Error(0)
}

func (m *mockEscalationStore) ListByStatus(ctx context.Context, status string) ([]*domain.EscalationRecord, error) {
	args := m.Called(ctx, status)
	if recs := args.Get(0); recs != nil {
		return recs.([]*domain.EscalationRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAgentDirectory struct {
	mock.Mock
}

func (m *mockAgentDirectory) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*domain.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAgentDirectory) ListEnabled(ctx context.Context) ([]*domain.Agent, error) {
	args := m.Called(ctx)
	if a := args.Get(0); a != nil {
		return a.([]*domain.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAgentDirectory) UpdateWorkload(ctx context.Context, agentID string, activeChats int, expectedVersion int64) error {
	args := m.Called(ctx, agentID, activeChats, expectedVersion)
	return args.Error(0)
}

func (m *mockAgentDirectory) TouchActivity(ctx context.Context, agentID string, at time.Time) error {
	args := m.Called(ctx, agentID, at)
	return args.Error(0)
}

type mockConversationStore struct {
	mock.Mock
}

func (m *mockConversationStore) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockConversationStore) GetOrCreateBySession(ctx context.Context, sessionID, channel string, priority domain.PriorityLevel) (int64, error) {
	args := m.Called(ctx, sessionID, channel, priority)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockConversationStore) ListOpen(ctx context.Context) ([]*domain.Conversation, error) {
	args := m.Called(ctx)
	if c := args.Get(0); c != nil {
		return c.([]*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockConversationStore) CountActiveByAgent(ctx context.Context, agentID string) (int, error) {
	args := m.Called(ctx, agentID)
	return args.Int(0), args.Error(1)
}

func (m *mockConversationStore) AssignAgent(ctx context.Context, conversationID int64, agentID string) error {
	args := m.Called(ctx, conversationID, agentID)
	return args.Error(0)
}

func (m *mockConversationStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockSLAPolicyStore struct {
	mock.Mock
}

func (m *mockSLAPolicyStore) FindActive(ctx context.Context, priority domain.PriorityLevel, channel string) (*domain.SLAPolicy, error) {
	args := m.Called(ctx, priority, channel)
	if p := args.Get(0); p != nil {
		return p.(*domain.SLAPolicy), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockResponseCache struct {
	mock.Mock
}

func (m *mockResponseCache) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockResponseCache) Set(ctx context.Context, key string, payload []byte, category string) error {
	args := m.Called(ctx, key, payload, category)
	return args.Error(0)
}

func (m *mockResponseCache) InvalidateUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockResponseCache) Stats(ctx context.Context) (int64, int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

type mockDedupStore struct {
	mock.Mock
}

func (m *mockDedupStore) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *mockDedupStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	args := m.Called(ctx, eventID, ttl)
	return args.Error(0)
}

type mockDataResolver struct {
	mock.Mock
}

func (m *mockDataResolver) Resolve(ctx context.Context, intent, userID, query string) ([]byte, error) {
	args := m.Called(ctx, intent, userID, query)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockNotificationGateway struct {
	mock.Mock
}

func (m *mockNotificationGateway) NotifyAssignment(ctx context.Context, agentID string, conversationID int64) error {
	args := m.Called(ctx, agentID, conversationID)
	return args.Error(0)
}

func (m *mockNotificationGateway) NotifyEscalation(ctx context.Context, rec *domain.EscalationRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type mockAssigner struct {
	mock.Mock
}

func (m *mockAssigner) Assign(ctx context.Context, conversationID int64, routingPool string) (*domain.AssignmentResult, error) {
	args := m.Called(ctx, conversationID, routingPool)
	if r := args.Get(0); r != nil {
		return r.(*domain.AssignmentResult), args.Error(1)
	}
	return nil, args.Error(1)
}
