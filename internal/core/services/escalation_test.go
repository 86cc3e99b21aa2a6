package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"omnidesk-triage/internal/core/domain"
)

func TestScore_AllSignalsMaxedReachesOne(t *testing.T) {
	ml := 1.0
	score := Score(domain.EscalationSignals{
		Priority:        domain.PriorityUrgent,
		Frustration:     domain.FrustrationHigh,
		DurationMinutes: 45,
		PriorAttempts:   5,
		MLProbability:   &ml,
	})
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestScore_MissingSignalsContributeZero(t *testing.T) {
	assert.Zero(t, Score(domain.EscalationSignals{}))

	// One signal present; the rest are absent, not renormalized.
	score := Score(domain.EscalationSignals{Priority: domain.PriorityHigh})
	assert.InDelta(t, 0.40*3.0/4.0, score, 1e-9)
}

func TestScore_MonotonicInPriority(t *testing.T) {
	levels := []domain.PriorityLevel{
		domain.PriorityLow,
		domain.PriorityMedium,
		domain.PriorityHigh,
		domain.PriorityUrgent,
	}
	prev := 0.0
	for _, p := range levels {
		score := Score(domain.EscalationSignals{Priority: p})
		assert.Greater(t, score, prev, "priority %s", p)
		prev = score
	}
}

func TestScore_MonotonicInFrustration(t *testing.T) {
	levels := []domain.FrustrationLevel{
		domain.FrustrationLow,
		domain.FrustrationMedium,
		domain.FrustrationHigh,
	}
	prev := 0.0
	for _, f := range levels {
		score := Score(domain.EscalationSignals{Frustration: f})
		assert.Greater(t, score, prev, "frustration %s", f)
		prev = score
	}
}

func TestScore_DurationSaturatesAtThirtyMinutes(t *testing.T) {
	atCap := Score(domain.EscalationSignals{DurationMinutes: 30})
	wayPast := Score(domain.EscalationSignals{DurationMinutes: 300})
	assert.InDelta(t, atCap, wayPast, 1e-9)
	assert.InDelta(t, 0.15, atCap, 1e-9)
}

func TestCreate_RoundRobinRotatesOverEnabledAgents(t *testing.T) {
	store := new(mockEscalationStore)
	agents := new(mockAgentDirectory)
	svc := NewEscalationService(store, agents, nil, nil)

	store.On("Save", mock.Anything, mock.Anything).Return(nil)
	store.On("UpdateStatus", mock.Anything, mock.Anything, domain.EscalationStatusAssigned,
		mock.Anything, mock.Anything, mock.Anything).Return(nil)
	agents.On("ListEnabled", mock.Anything).Return([]*domain.Agent{
		{ID: "agent-1"}, {ID: "agent-2"},
	}, nil)

	first, err := svc.Create(context.Background(), domain.EscalationSignals{Priority: domain.PriorityHigh})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), domain.EscalationSignals{Priority: domain.PriorityHigh})
	require.NoError(t, err)

	require.NotNil(t, first.AssignedAgent)
	require.NotNil(t, second.AssignedAgent)
	assert.Equal(t, "agent-1", *first.AssignedAgent)
	assert.Equal(t, "agent-2", *second.AssignedAgent)
	assert.Equal(t, domain.EscalationStatusAssigned, first.Status)
}

func TestCreate_BalancerAssignmentPreferred(t *testing.T) {
	store := new(mockEscalationStore)
	agents := new(mockAgentDirectory)
	balancer := new(mockAssigner)
	svc := NewEscalationService(store, agents, nil, balancer)

	store.On("Save", mock.Anything, mock.Anything).Return(nil)
	store.On("UpdateStatus", mock.Anything, mock.Anything, domain.EscalationStatusAssigned,
		mock.Anything, mock.Anything, mock.Anything).Return(nil)
	balancer.On("Assign", mock.Anything, int64(77), "").
		Return(&domain.AssignmentResult{AgentID: "agent-9", ConversationID: 77}, nil)

	rec, err := svc.Create(context.Background(), domain.EscalationSignals{
		Priority:       domain.PriorityUrgent,
		ConversationID: 77,
	})
	require.NoError(t, err)

	require.NotNil(t, rec.AssignedAgent)
	assert.Equal(t, "agent-9", *rec.AssignedAgent)
	agents.AssertNotCalled(t, "ListEnabled", mock.Anything)
}

func TestCreate_BalancerFailureFallsBackToRoundRobin(t *testing.T) {
	store := new(mockEscalationStore)
	agents := new(mockAgentDirectory)
	balancer := new(mockAssigner)
	svc := NewEscalationService(store, agents, nil, balancer)

	store.On("Save", mock.Anything, mock.Anything).Return(nil)
	store.On("UpdateStatus", mock.Anything, mock.Anything, domain.EscalationStatusAssigned,
		mock.Anything, mock.Anything, mock.Anything).Return(nil)
	balancer.On("Assign", mock.Anything, int64(5), "").Return(nil, domain.ErrNoAgentsAvailable)
	agents.On("ListEnabled", mock.Anything).Return([]*domain.Agent{{ID: "agent-3"}}, nil)

	rec, err := svc.Create(context.Background(), domain.EscalationSignals{
		Priority:       domain.PriorityHigh,
		ConversationID: 5,
	})
	require.NoError(t, err)

	require.NotNil(t, rec.AssignedAgent)
	assert.Equal(t, "agent-3", *rec.AssignedAgent)
}

func TestCreate_NoAgentsLeavesRecordPending(t *testing.T) {
	store := new(mockEscalationStore)
	agents := new(mockAgentDirectory)
	svc := NewEscalationService(store, agents, nil, nil)

	store.On("Save", mock.Anything, mock.Anything).Return(nil)
	agents.On("ListEnabled", mock.Anything).Return([]*domain.Agent{}, nil)

	rec, err := svc.Create(context.Background(), domain.EscalationSignals{Priority: domain.PriorityLow})
	require.NoError(t, err)

	assert.Equal(t, domain.EscalationStatusPending, rec.Status)
	assert.Nil(t, rec.AssignedAgent)
	store.AssertNotCalled(t, "UpdateStatus",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreate_NotifierFailureDoesNotFailCreation(t *testing.T) {
	store := new(mockEscalationStore)
	agents := new(mockAgentDirectory)
	notifier := new(mockNotificationGateway)
	svc := NewEscalationService(store, agents, notifier, nil)

	store.On("Save", mock.Anything, mock.Anything).Return(nil)
	agents.On("ListEnabled", mock.Anything).Return([]*domain.Agent{}, nil)
	notifier.On("NotifyEscalation", mock.Anything, mock.Anything).Return(errors.New("gateway down"))

	rec, err := svc.Create(context.Background(), domain.EscalationSignals{Priority: domain.PriorityMedium})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	notifier.AssertExpectations(t)
}

func TestTransition_ForwardStepSucceeds(t *testing.T) {
	store := new(mockEscalationStore)
	svc := NewEscalationService(store, nil, nil, nil)

	store.On("Get", mock.Anything, "esc-1").
		Return(&domain.EscalationRecord{ID: "esc-1", Status: domain.EscalationStatusAssigned}, nil)
	store.On("UpdateStatus", mock.Anything, "esc-1", domain.EscalationStatusInProgress,
		(*string)(nil), (*string)(nil), (*time.Time)(nil)).Return(nil)

	rec, err := svc.Transition(context.Background(), "esc-1", domain.EscalationStatusInProgress, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.EscalationStatusInProgress, rec.Status)
	assert.Nil(t, rec.ResolvedAt)
}

func TestTransition_SkippingInProgressAllowed(t *testing.T) {
	store := new(mockEscalationStore)
	svc := NewEscalationService(store, nil, nil, nil)

	store.On("Get", mock.Anything, "esc-1").
		Return(&domain.EscalationRecord{ID: "esc-1", Status: domain.EscalationStatusAssigned}, nil)
	store.On("UpdateStatus", mock.Anything, "esc-1", domain.EscalationStatusResolved,
		(*string)(nil), (*string)(nil), mock.Anything).Return(nil)

	rec, err := svc.Transition(context.Background(), "esc-1", domain.EscalationStatusResolved, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.EscalationStatusResolved, rec.Status)
	assert.NotNil(t, rec.ResolvedAt)
}

func TestTransition_BackwardAndRepeatRejected(t *testing.T) {
	store := new(mockEscalationStore)
	svc := NewEscalationService(store, nil, nil, nil)

	store.On("Get", mock.Anything, "esc-1").
		Return(&domain.EscalationRecord{ID: "esc-1", Status: domain.EscalationStatusInProgress}, nil)

	_, err := svc.Transition(context.Background(), "esc-1", domain.EscalationStatusAssigned, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Transition(context.Background(), "esc-1", domain.EscalationStatusInProgress, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTransition_UnknownStatusRejectedBeforeLookup(t *testing.T) {
	store := new(mockEscalationStore)
	svc := NewEscalationService(store, nil, nil, nil)

	_, err := svc.Transition(context.Background(), "esc-1", "archived", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestReassign_OnlyWhileAssignedOrInProgress(t *testing.T) {
	store := new(mockEscalationStore)
	svc := NewEscalationService(store, nil, nil, nil)

	store.On("Get", mock.Anything, "esc-ok").
		Return(&domain.EscalationRecord{ID: "esc-ok", Status: domain.EscalationStatusAssigned}, nil)
	store.On("UpdateStatus", mock.Anything, "esc-ok", domain.EscalationStatusAssigned,
		mock.Anything, (*string)(nil), (*time.Time)(nil)).Return(nil)
	store.On("Get", mock.Anything, "esc-pending").
		Return(&domain.EscalationRecord{ID: "esc-pending", Status: domain.EscalationStatusPending}, nil)

	require.NoError(t, svc.Reassign(context.Background(), "esc-ok", "agent-7"))

	err := svc.Reassign(context.Background(), "esc-pending", "agent-7")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestResolutionHours(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &domain.EscalationRecord{CreatedAt: created}
	assert.Nil(t, rec.ResolutionHours())

	resolved := created.Add(90 * time.Minute)
	rec.ResolvedAt = &resolved
	hours := rec.ResolutionHours()
	require.NotNil(t, hours)
	assert.InDelta(t, 1.5, *hours, 1e-9)
}
