package saga

import (
	"testing"
	"time"

	"github.com/draftea/saga-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaries(process string, status SagaStatus, n int, duration time.Duration) []Summary {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]Summary, 0, n)
	for i := 0; i < n; i++ {
		s := Summary{
			SagaID:          models.GenerateUUID(),
			BusinessProcess: process,
			Status:          status,
			StartedAt:       start,
		}
		if status != StatusInProgress {
			s.CompletedAt = timePtr(start.Add(duration))
		}
		out = append(out, s)
	}
	return out
}

func TestComputeStatistics(t *testing.T) {
	tests := []struct {
		name     string
		input    []Summary
		validate func(t *testing.T, stats *Statistics)
	}{
		{
			name: "seven completed two failed one compensated",
			input: append(append(
				summaries("OrderProcessing", StatusCompleted, 7, time.Second),
				summaries("OrderProcessing", StatusFailed, 2, time.Second)...),
				summaries("OrderProcessing", StatusCompensated, 1, time.Second)...),
			validate: func(t *testing.T, stats *Statistics) {
				assert.Equal(t, 10, stats.Total)
				assert.Equal(t, 70.0, stats.SuccessRate)
				assert.Equal(t, 20.0, stats.FailureRate)
				assert.Equal(t, 10.0, stats.CompensationRate)
				assert.Equal(t, 1000.0, stats.AverageDurationMs)
			},
		},
		{
			name: "rates are rounded to two decimals",
			input: append(
				summaries("OrderProcessing", StatusCompleted, 1, time.Second),
				summaries("OrderProcessing", StatusInProgress, 2, 0)...),
			validate: func(t *testing.T, stats *Statistics) {
				assert.Equal(t, 33.33, stats.SuccessRate)
				assert.Equal(t, 2, stats.InProgress)
				assert.Equal(t, 1000.0, stats.AverageDurationMs)
			},
		},
		{
			name: "breakdown by business process",
			input: append(
				summaries("OrderProcessing", StatusCompleted, 3, 2*time.Second),
				summaries("RefundProcessing", StatusCompensated, 1, 4*time.Second)...),
			validate: func(t *testing.T, stats *Statistics) {
				require.Contains(t, stats.ByBusinessProcess, "OrderProcessing")
				require.Contains(t, stats.ByBusinessProcess, "RefundProcessing")
				assert.Equal(t, 3, stats.ByBusinessProcess["OrderProcessing"].Completed)
				assert.Equal(t, 1, stats.ByBusinessProcess["RefundProcessing"].Compensated)
				assert.Equal(t, 2500.0, stats.AverageDurationMs)
			},
		},
		{
			name:  "no sagas",
			input: nil,
			validate: func(t *testing.T, stats *Statistics) {
				assert.Equal(t, 0, stats.Total)
				assert.Zero(t, stats.SuccessRate)
				assert.Empty(t, stats.ByBusinessProcess)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, ComputeStatistics(tt.input))
		})
	}
}

func TestRunStatus(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		run    Run
		status SagaStatus
	}{
		{"in flight", Run{CurrentState: StatePaymentProcessing}, StatusInProgress},
		{"failed awaiting compensation", Run{CurrentState: StateFailed}, StatusInProgress},
		{"failed with nothing to compensate", Run{CurrentState: StateFailed, CompletedAt: &now}, StatusFailed},
		{"compensated", Run{CurrentState: StateCompensated, CompletedAt: &now}, StatusCompensated},
		{"completed", Run{CurrentState: StateCompleted, CompletedAt: &now}, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.run.Status())
		})
	}
}

func TestReplayTransitions(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	transitions := []*Transition{
		{FromState: StateStockVerifying, ToState: StateStockVerified, Timestamp: at.Add(2 * time.Millisecond)},
		{FromState: "", ToState: StateStarted, Timestamp: at},
		{FromState: StateStarted, ToState: StateStockVerifying, Timestamp: at.Add(time.Millisecond)},
	}

	state, err := ReplayTransitions(transitions)
	require.NoError(t, err)
	assert.Equal(t, StateStockVerified, state)

	broken := append(transitions, &Transition{FromState: StatePaymentProcessing, ToState: StateFailed, Timestamp: at.Add(time.Second)})
	_, err = ReplayTransitions(broken)
	assert.Error(t, err)

	_, err = ReplayTransitions(nil)
	assert.Error(t, err)
}
