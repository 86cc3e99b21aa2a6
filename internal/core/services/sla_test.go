package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/metrics"
)

func newTestMonitor(policies *mockSLAPolicyStore, conversations *mockConversationStore, now time.Time) *SLAMonitor {
	m := NewSLAMonitor(policies, conversations, nil)
	m.now = func() time.Time { return now }
	return m
}

func TestResolve_ExactMatchWins(t *testing.T) {
	policies := new(mockSLAPolicyStore)
	exact := &domain.SLAPolicy{ID: 1, Priority: domain.PriorityHigh, Channel: domain.ChannelWhatsApp}
	policies.On("FindActive", mock.Anything, domain.PriorityHigh, domain.ChannelWhatsApp).Return(exact, nil)

	m := newTestMonitor(policies, nil, time.Now())
	got, err := m.Resolve(context.Background(), domain.PriorityHigh, domain.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, exact, got)
	policies.AssertNumberOfCalls(t, "FindActive", 1)
}

func TestResolve_WildcardChannelFallback(t *testing.T) {
	policies := new(mockSLAPolicyStore)
	fallback := &domain.SLAPolicy{ID: 2, Priority: domain.PriorityHigh, Channel: domain.ChannelAll}
	policies.On("FindActive", mock.Anything, domain.PriorityHigh, domain.ChannelWhatsApp).
		Return(nil, domain.ErrPolicyNotFound)
	policies.On("FindActive", mock.Anything, domain.PriorityHigh, domain.ChannelAll).Return(fallback, nil)

	m := newTestMonitor(policies, nil, time.Now())
	got, err := m.Resolve(context.Background(), domain.PriorityHigh, domain.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)
}

func TestResolve_FullFallbackChainOrder(t *testing.T) {
	policies := new(mockSLAPolicyStore)
	catchAll := &domain.SLAPolicy{ID: 4, Priority: domain.PriorityAll, Channel: domain.ChannelAll}
	policies.On("FindActive", mock.Anything, domain.PriorityLow, domain.ChannelSMS).
		Return(nil, domain.ErrPolicyNotFound)
	policies.On("FindActive", mock.Anything, domain.PriorityLow, domain.ChannelAll).
		Return(nil, domain.ErrPolicyNotFound)
	policies.On("FindActive", mock.Anything, domain.PriorityAll, domain.ChannelSMS).
		Return(nil, domain.ErrPolicyNotFound)
	policies.On("FindActive", mock.Anything, domain.PriorityAll, domain.ChannelAll).Return(catchAll, nil)

	m := newTestMonitor(policies, nil, time.Now())
	got, err := m.Resolve(context.Background(), domain.PriorityLow, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, catchAll, got)
	policies.AssertNumberOfCalls(t, "FindActive", 4)
}

func TestResolve_NoPolicyAnywhere(t *testing.T) {
	policies := new(mockSLAPolicyStore)
	policies.On("FindActive", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrPolicyNotFound)

	m := newTestMonitor(policies, nil, time.Now())
	_, err := m.Resolve(context.Background(), domain.PriorityMedium, domain.ChannelTelegram)
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}

func TestResolve_StoreErrorAbortsFallback(t *testing.T) {
	policies := new(mockSLAPolicyStore)
	policies.On("FindActive", mock.Anything, domain.PriorityHigh, domain.ChannelWhatsApp).
		Return(nil, errors.New("connection reset"))

	m := newTestMonitor(policies, nil, time.Now())
	_, err := m.Resolve(context.Background(), domain.PriorityHigh, domain.ChannelWhatsApp)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPolicyNotFound)
	policies.AssertNumberOfCalls(t, "FindActive", 1)
}

func TestCheckBreach_FirstResponseOverdue(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	policies := new(mockSLAPolicyStore)
	conversations := new(mockConversationStore)

	policies.On("FindActive", mock.Anything, domain.PriorityHigh, domain.ChannelWhatsApp).
		Return(&domain.SLAPolicy{FirstResponseTime: 15, ResolutionTime: 4}, nil)
	conversations.On("GetConversation", mock.Anything, int64(1)).Return(&domain.Conversation{
		ID:        1,
		Channel:   domain.ChannelWhatsApp,
		Priority:  domain.PriorityHigh,
		Status:    domain.ConversationStatusOpen,
		CreatedAt: now.Add(-20 * time.Minute),
	}, nil)

	m := newTestMonitor(policies, conversations, now)
	result, err := m.CheckBreach(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, result.Breached)
	assert.Equal(t, domain.BreachFirstResponse, result.Type)
	assert.InDelta(t, 20, result.ElapsedMinutes, 0.001)
	assert.InDelta(t, 15, result.ThresholdMinutes, 0.001)
}

func TestCheckBreach_FirstResponseTakesPrecedenceOverResolution(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	policies := new(mockSLAPolicyStore)
	conversations := new(mockConversationStore)

	// Both thresholds are long past; the first-response breach is reported.
	policies.On("FindActive", mock.Anything, domain.PriorityUrgent, domain.ChannelSMS).
		Return(&domain.SLAPolicy{FirstResponseTime: 10, ResolutionTime: 1}, nil)
	conversations.On("GetConversation", mock.Anything, int64(2)).Return(&domain.Conversation{
		ID:        2,
		Channel:   domain.ChannelSMS,
		Priority:  domain.PriorityUrgent,
		Status:    domain.ConversationStatusOpen,
		CreatedAt: now.Add(-3 * time.Hour),
	}, nil)

	m := newTestMonitor(policies, conversations, now)
	result, err := m.CheckBreach(context.Background(), 2)
	require.NoError(t, err)

	assert.True(t, result.Breached)
	assert.Equal(t, domain.BreachFirstResponse, result.Type)
}

func TestCheckBreach_ResolutionThresholdIsHours(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	responded := now.Add(-2 * time.Hour)

	policy := &domain.SLAPolicy{FirstResponseTime: 15, ResolutionTime: 1}

	cases := []struct {
		name     string
		age      time.Duration
		breached bool
	}{
		{"under one hour threshold", 59 * time.Minute, false},
		{"over one hour threshold", 61 * time.Minute, true},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policies := new(mockSLAPolicyStore)
			conversations := new(mockConversationStore)
			policies.On("FindActive", mock.Anything, domain.PriorityMedium, domain.ChannelWhatsApp).
				Return(policy, nil)
			conversations.On("GetConversation", mock.Anything, int64(i)).Return(&domain.Conversation{
				ID:              int64(i),
				Channel:         domain.ChannelWhatsApp,
				Priority:        domain.PriorityMedium,
				Status:          domain.ConversationStatusOpen,
				FirstResponseAt: &responded,
				CreatedAt:       now.Add(-tc.age),
			}, nil)

			m := newTestMonitor(policies, conversations, now)
			result, err := m.CheckBreach(context.Background(), int64(i))
			require.NoError(t, err)

			assert.Equal(t, tc.breached, result.Breached)
			if tc.breached {
				assert.Equal(t, domain.BreachResolution, result.Type)
				assert.InDelta(t, 60, result.ThresholdMinutes, 0.001)
			}
		})
	}
}

func TestCheckBreach_TerminalConversationNeverResolutionBreaches(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	responded := now.Add(-5 * time.Hour)
	policies := new(mockSLAPolicyStore)
	conversations := new(mockConversationStore)

	policies.On("FindActive", mock.Anything, domain.PriorityLow, domain.ChannelSMS).
		Return(&domain.SLAPolicy{FirstResponseTime: 15, ResolutionTime: 1}, nil)
	conversations.On("GetConversation", mock.Anything, int64(3)).Return(&domain.Conversation{
		ID:              3,
		Channel:         domain.ChannelSMS,
		Priority:        domain.PriorityLow,
		Status:          domain.ConversationStatusResolved,
		FirstResponseAt: &responded,
		CreatedAt:       now.Add(-6 * time.Hour),
	}, nil)

	m := newTestMonitor(policies, conversations, now)
	result, err := m.CheckBreach(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, result.Breached)
}

func TestCheckBreach_NoPolicyMeansNoBreach(t *testing.T) {
	policies := new(mockSLAPolicyStore)
	conversations := new(mockConversationStore)

	policies.On("FindActive", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrPolicyNotFound)
	conversations.On("GetConversation", mock.Anything, int64(4)).Return(&domain.Conversation{
		ID:        4,
		Channel:   domain.ChannelTelegram,
		Priority:  domain.PriorityUrgent,
		Status:    domain.ConversationStatusOpen,
		CreatedAt: time.Now().Add(-24 * time.Hour),
	}, nil)

	m := newTestMonitor(policies, conversations, time.Now())
	result, err := m.CheckBreach(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, result.Breached)
}

func TestSweep_SkipsFailingConversations(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	policies := new(mockSLAPolicyStore)
	conversations := new(mockConversationStore)

	good := &domain.Conversation{
		ID:        10,
		Channel:   domain.ChannelWhatsApp,
		Priority:  domain.PriorityHigh,
		Status:    domain.ConversationStatusOpen,
		CreatedAt: now.Add(-time.Hour),
	}
	bad := &domain.Conversation{
		ID:        11,
		Channel:   domain.ChannelSMS,
		Priority:  domain.PriorityHigh,
		Status:    domain.ConversationStatusOpen,
		CreatedAt: now.Add(-time.Hour),
	}

	conversations.On("ListOpen", mock.Anything).Return([]*domain.Conversation{bad, good}, nil)
	// The bad conversation's policy lookup fails hard; the sweep moves on.
	policies.On("FindActive", mock.Anything, domain.PriorityHigh, domain.ChannelSMS).
		Return(nil, errors.New("timeout"))
	policies.On("FindActive", mock.Anything, domain.PriorityHigh, domain.ChannelWhatsApp).
		Return(&domain.SLAPolicy{FirstResponseTime: 15, ResolutionTime: 8}, nil)

	m := newTestMonitor(policies, conversations, now)
	breached, err := m.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, breached, 1)
	assert.Equal(t, int64(10), breached[0].ConversationID)
	assert.Equal(t, domain.BreachFirstResponse, breached[0].Type)
}

func TestSweep_UpdatesOpenConversationsGauge(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	policies := new(mockSLAPolicyStore)
	conversations := new(mockConversationStore)

	open := []*domain.Conversation{
		{ID: 20, Channel: domain.ChannelWhatsApp, Priority: domain.PriorityLow, Status: domain.ConversationStatusOpen, CreatedAt: now.Add(-time.Minute)},
		{ID: 21, Channel: domain.ChannelWhatsApp, Priority: domain.PriorityLow, Status: domain.ConversationStatusOpen, CreatedAt: now.Add(-time.Minute)},
		{ID: 22, Channel: domain.ChannelWhatsApp, Priority: domain.PriorityLow, Status: domain.ConversationStatusOpen, CreatedAt: now.Add(-time.Minute)},
	}
	conversations.On("ListOpen", mock.Anything).Return(open, nil)
	policies.On("FindActive", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrPolicyNotFound)

	// Unregistered collectors keep the test independent of the default
	// registry.
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_open_conversations"})
	m := NewSLAMonitor(policies, conversations, &metrics.Metrics{
		OpenConversations: gauge,
		SweepDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_sweep_duration"}),
		SLABreaches:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_sla_breaches"}, []string{"type"}),
	})
	m.now = func() time.Time { return now }

	_, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(3), testutil.ToFloat64(gauge))
}

func TestSweep_ListFailureIsFatal(t *testing.T) {
	conversations := new(mockConversationStore)
	conversations.On("ListOpen", mock.Anything).Return(nil, errors.New("db gone"))

	m := newTestMonitor(new(mockSLAPolicyStore), conversations, time.Now())
	_, err := m.Sweep(context.Background())
	assert.Error(t, err)
}
