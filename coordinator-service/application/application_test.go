package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/draftea/saga-system/coordinator-service/mocks"
	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/infrastructure"
	sharedmocks "github.com/draftea/saga-system/shared/mocks"
	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *infrastructure.RedisStateStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return infrastructure.NewRedisStateStore(client, time.Hour, zerolog.Nop())
}

func validOrder() models.OrderPayload {
	return models.OrderPayload{
		OrderID:      "order-1",
		CustomerID:   "customer-1",
		PaymentToken: "tok_visa",
		Email:        "customer@example.com",
		Items: []models.OrderItem{
			{ProductID: "sku-1", Quantity: 2, UnitPrice: models.NewMoney(1500, "USD")},
		},
	}
}

func completedRun(sagaID models.ID) *saga.Run {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Second)
	return &saga.Run{
		SagaID:       sagaID,
		SagaType:     saga.OrderProcessing.SagaType,
		OrderID:      "order-1",
		CurrentState: saga.StateCompleted,
		StartedAt:    started,
		CompletedAt:  &completed,
		Steps: []*saga.Step{
			{StepName: saga.StepVerifyStock, ServiceName: saga.ServiceInventory, Status: saga.StepCompleted},
		},
	}
}

func TestStartOrchestratedSaga_Execute(t *testing.T) {
	sagaID := models.GenerateUUID()

	tests := []struct {
		name           string
		cmd            *StartSagaCommand
		setupMocks     func(executor *mocks.MockSagaExecutor)
		expectedError  error
		expectedStatus saga.SagaStatus
	}{
		{
			name: "runs the order saga",
			cmd:  &StartSagaCommand{SagaID: sagaID.String(), Order: validOrder()},
			setupMocks: func(executor *mocks.MockSagaExecutor) {
				executor.EXPECT().Execute(mock.Anything, saga.OrderProcessing, mock.MatchedBy(func(req saga.StartRequest) bool {
					var order models.OrderPayload
					return req.SagaID == sagaID &&
						req.OrderID == "order-1" &&
						json.Unmarshal(req.Data, &order) == nil &&
						order.PaymentToken == "tok_visa"
				})).Return(completedRun(sagaID), nil).Once()
			},
			expectedStatus: saga.StatusCompleted,
		},
		{
			name:          "invalid order",
			cmd:           &StartSagaCommand{Order: models.OrderPayload{OrderID: "order-1"}},
			setupMocks:    func(executor *mocks.MockSagaExecutor) {},
			expectedError: ErrInvalidCommand,
		},
		{
			name:          "invalid saga id",
			cmd:           &StartSagaCommand{SagaID: "not-a-uuid", Order: validOrder()},
			setupMocks:    func(executor *mocks.MockSagaExecutor) {},
			expectedError: ErrInvalidCommand,
		},
		{
			name: "persistence failure",
			cmd:  &StartSagaCommand{Order: validOrder()},
			setupMocks: func(executor *mocks.MockSagaExecutor) {
				executor.EXPECT().Execute(mock.Anything, mock.Anything, mock.Anything).
					Return(nil, saga.ErrPersistence).Once()
			},
			expectedError: saga.ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := mocks.NewMockSagaExecutor(t)
			tt.setupMocks(executor)

			view, err := NewStartOrchestratedSaga(executor).Execute(context.Background(), tt.cmd)

			if tt.expectedError != nil {
				assert.True(t, errors.Is(err, tt.expectedError), "got %v", err)
				assert.Nil(t, view)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, view.Status)
			assert.Equal(t, saga.ModeOrchestrated, view.Mode)
		})
	}
}

func TestStartChoreographedSaga_Execute(t *testing.T) {
	t.Run("publishes order created", func(t *testing.T) {
		publisher := sharedmocks.NewMockPublisher(t)
		var published *events.Event
		publisher.EXPECT().Publish(mock.Anything, mock.Anything).
			Run(func(_ context.Context, evts ...*events.Event) { published = evts[0] }).
			Return(nil).Once()

		response, err := NewStartChoreographedSaga(publisher).Execute(context.Background(), &StartSagaCommand{Order: validOrder()})

		require.NoError(t, err)
		require.NotNil(t, published)
		assert.Equal(t, events.OrderCreated, published.EventType)
		assert.Equal(t, response.SagaID, published.SagaID().String())
		assert.Equal(t, response.EventID, published.ID.String())
		assert.Equal(t, "customer-1", published.Metadata.UserID)
		assert.Equal(t, saga.ModeChoreographed, response.Mode)

		var order models.OrderPayload
		require.NoError(t, published.UnmarshalPayload(&order))
		assert.Equal(t, validOrder(), order)
	})

	t.Run("publish failure", func(t *testing.T) {
		publisher := sharedmocks.NewMockPublisher(t)
		publisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(errors.New("log down")).Once()

		response, err := NewStartChoreographedSaga(publisher).Execute(context.Background(), &StartSagaCommand{Order: validOrder()})

		assert.ErrorContains(t, err, "log down")
		assert.Nil(t, response)
	})

	t.Run("invalid command", func(t *testing.T) {
		publisher := sharedmocks.NewMockPublisher(t)

		_, err := NewStartChoreographedSaga(publisher).Execute(context.Background(), &StartSagaCommand{})

		assert.True(t, errors.Is(err, ErrInvalidCommand))
		assert.Equal(t, "order ID is required", err.Error())
	})
}

func TestGetSaga_Execute(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	runID := models.GenerateUUID()
	require.NoError(t, store.CreateRun(ctx, completedRun(runID)))

	created, err := events.NewEvent("order-2", events.AggregateOrder, events.OrderCreated, validOrder())
	require.NoError(t, err)
	choreoID := models.GenerateUUID()
	created.WithSaga(choreoID, 1, len(events.ChoreographySteps))
	require.NoError(t, store.CreateChoreography(ctx, saga.NewChoreographedState(created)))

	tests := []struct {
		name          string
		sagaID        string
		expectedMode  string
		expectedError error
	}{
		{name: "orchestrated run", sagaID: runID.String(), expectedMode: saga.ModeOrchestrated},
		{name: "choreographed saga", sagaID: choreoID.String(), expectedMode: saga.ModeChoreographed},
		{name: "unknown saga", sagaID: models.GenerateUUID().String(), expectedError: saga.ErrSagaNotFound},
		{name: "empty id", sagaID: "", expectedError: ErrInvalidCommand},
		{name: "malformed id", sagaID: "abc", expectedError: ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := NewGetSaga(store).Execute(ctx, &GetSagaQuery{SagaID: tt.sagaID})

			if tt.expectedError != nil {
				assert.True(t, errors.Is(err, tt.expectedError), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sagaID, view.SagaID.String())
			assert.Equal(t, tt.expectedMode, view.Mode)
		})
	}
}

func TestGetSagaStatistics_Execute(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	statuses := map[saga.State]int{saga.StateCompleted: 7, saga.StateFailed: 2, saga.StateCompensated: 1}
	for state, n := range statuses {
		for i := 0; i < n; i++ {
			run := completedRun(models.GenerateUUID())
			run.CurrentState = state
			require.NoError(t, store.CreateRun(ctx, run))
			require.NoError(t, store.SaveRun(ctx, run))
		}
	}

	stats, err := NewGetSagaStatistics(store).Execute(ctx)

	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 70.0, stats.SuccessRate)
	assert.Equal(t, 20.0, stats.FailureRate)
	assert.Equal(t, 10.0, stats.CompensationRate)
	assert.Equal(t, 3000.0, stats.AverageDurationMs)
	assert.Equal(t, 10, stats.ByBusinessProcess[saga.OrderProcessing.SagaType].Total)
}

func transition(sagaID models.ID, from, to saga.State, at time.Time) *saga.Transition {
	return &saga.Transition{
		SagaID:      sagaID,
		FromState:   from,
		ToState:     to,
		ServiceName: "saga-coordinator",
		EventType:   saga.TransitionSuccess,
		Timestamp:   at,
	}
}

func TestGetSagaHistory_Execute(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("replays transitions", func(t *testing.T) {
		store := newStore(t)
		sagaID := models.GenerateUUID()
		require.NoError(t, store.CreateRun(ctx, completedRun(sagaID)))
		for _, tr := range []*saga.Transition{
			transition(sagaID, "", saga.StateStarted, at),
			transition(sagaID, saga.StateStarted, saga.StateStockVerifying, at.Add(time.Millisecond)),
			transition(sagaID, saga.StateStockVerifying, saga.StateStockVerified, at.Add(2*time.Millisecond)),
		} {
			require.NoError(t, store.AppendTransition(ctx, tr))
		}

		history, err := NewGetSagaHistory(store, nil).Execute(ctx, &GetSagaQuery{SagaID: sagaID.String()})

		require.NoError(t, err)
		assert.Len(t, history.Transitions, 3)
		assert.Equal(t, saga.StateStockVerified, history.ReplayedState)
		assert.Empty(t, history.Events)
	})

	t.Run("includes archived events", func(t *testing.T) {
		store := newStore(t)
		archive := sharedmocks.NewMockEventStore(t)
		sagaID := models.GenerateUUID()
		created, err := events.NewEvent("order-1", events.AggregateOrder, events.OrderCreated, validOrder())
		require.NoError(t, err)
		created.WithSaga(sagaID, 1, 5)
		archive.EXPECT().GetEventsBySaga(mock.Anything, sagaID).Return([]*events.Event{created}, nil).Once()

		history, err := NewGetSagaHistory(store, archive).Execute(ctx, &GetSagaQuery{SagaID: sagaID.String()})

		require.NoError(t, err)
		assert.Empty(t, history.Transitions)
		require.Len(t, history.Events, 1)
		assert.Equal(t, created.ID, history.Events[0].ID)
	})

	t.Run("unknown saga", func(t *testing.T) {
		_, err := NewGetSagaHistory(newStore(t), nil).Execute(ctx, &GetSagaQuery{SagaID: models.GenerateUUID().String()})

		assert.True(t, errors.Is(err, saga.ErrSagaNotFound))
	})
}

func choreographyHistory(t *testing.T, sagaID models.ID) []*events.Event {
	t.Helper()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	order, err := json.Marshal(validOrder())
	require.NoError(t, err)

	var history []*events.Event
	add := func(aggregateType, eventType string, data interface{}) {
		evt, err := events.NewEvent("order-1", aggregateType, eventType, data)
		require.NoError(t, err)
		evt.WithSaga(sagaID, 0, len(events.ChoreographySteps))
		evt.Timestamp = at.Add(time.Duration(len(history)) * time.Second)
		history = append(history, evt)
	}
	add(events.AggregateOrder, events.OrderCreated, validOrder())
	add(events.AggregateInventory, events.StockReserved, events.StepOutcomeData{OrderID: "order-1", Step: events.StepReserveStock, Order: order})
	add(events.AggregatePayment, events.PaymentProcessed, events.StepOutcomeData{OrderID: "order-1", Step: events.StepProcessPayment, Order: order})
	add(events.AggregateOrder, events.OrderConfirmed, events.StepOutcomeData{OrderID: "order-1", Step: events.StepConfirmOrder, Order: order})
	add(events.AggregateNotification, events.NotificationSent, events.StepOutcomeData{OrderID: "order-1", Step: events.StepSendNotification, Order: order})
	return history
}

func TestRebuildSaga_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing state", func(t *testing.T) {
		store := newStore(t)
		archive := sharedmocks.NewMockEventStore(t)
		sagaID := models.GenerateUUID()
		archive.EXPECT().GetEventsBySaga(mock.Anything, sagaID).Return(choreographyHistory(t, sagaID), nil).Once()

		view, err := NewRebuildSaga(store, archive, zerolog.Nop()).Execute(ctx, &GetSagaQuery{SagaID: sagaID.String()})

		require.NoError(t, err)
		assert.Equal(t, saga.StatusCompleted, view.Status)

		stored, err := store.GetChoreography(ctx, sagaID)
		require.NoError(t, err)
		assert.Equal(t, saga.StatusCompleted, stored.Status)
		for _, step := range stored.Steps {
			assert.Equal(t, saga.StepCompleted, step.Status, step.StepName)
		}
	})

	t.Run("overwrites stale state", func(t *testing.T) {
		store := newStore(t)
		archive := sharedmocks.NewMockEventStore(t)
		sagaID := models.GenerateUUID()
		history := choreographyHistory(t, sagaID)
		require.NoError(t, store.CreateChoreography(ctx, saga.NewChoreographedState(history[0])))
		archive.EXPECT().GetEventsBySaga(mock.Anything, sagaID).Return(history, nil).Once()

		view, err := NewRebuildSaga(store, archive, zerolog.Nop()).Execute(ctx, &GetSagaQuery{SagaID: sagaID.String()})

		require.NoError(t, err)
		assert.Equal(t, saga.StatusCompleted, view.Status)
		stored, err := store.GetChoreography(ctx, sagaID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Version)
		assert.Len(t, stored.ProcessedEventIDs, 5)
	})

	t.Run("refuses to reopen a closed saga", func(t *testing.T) {
		store := newStore(t)
		archive := sharedmocks.NewMockEventStore(t)
		sagaID := models.GenerateUUID()
		history := choreographyHistory(t, sagaID)
		archive.EXPECT().GetEventsBySaga(mock.Anything, sagaID).Return(history, nil).Once()
		archive.EXPECT().GetEventsBySaga(mock.Anything, sagaID).Return(history[:2], nil).Once()
		uc := NewRebuildSaga(store, archive, zerolog.Nop())

		_, err := uc.Execute(ctx, &GetSagaQuery{SagaID: sagaID.String()})
		require.NoError(t, err)
		before, err := store.GetChoreography(ctx, sagaID)
		require.NoError(t, err)
		require.Equal(t, saga.StatusCompleted, before.Status)

		_, err = uc.Execute(ctx, &GetSagaQuery{SagaID: sagaID.String()})

		assert.True(t, errors.Is(err, saga.ErrTerminal), "got %v", err)
		after, err := store.GetChoreography(ctx, sagaID)
		require.NoError(t, err)
		assert.Equal(t, saga.StatusCompleted, after.Status)
		assert.Equal(t, before.Version, after.Version)
		require.NotNil(t, after.CompletedAt)
	})

	t.Run("errors", func(t *testing.T) {
		sagaID := models.GenerateUUID()
		tests := []struct {
			name          string
			archive       func(t *testing.T) events.EventStore
			expectedError error
		}{
			{
				name:          "archive not configured",
				archive:       func(t *testing.T) events.EventStore { return nil },
				expectedError: ErrArchiveUnavailable,
			},
			{
				name: "no archived events",
				archive: func(t *testing.T) events.EventStore {
					archive := sharedmocks.NewMockEventStore(t)
					archive.EXPECT().GetEventsBySaga(mock.Anything, sagaID).Return(nil, nil).Once()
					return archive
				},
				expectedError: ErrNothingToReconstruct,
			},
			{
				name: "history without initiation",
				archive: func(t *testing.T) events.EventStore {
					archive := sharedmocks.NewMockEventStore(t)
					archive.EXPECT().GetEventsBySaga(mock.Anything, sagaID).Return(choreographyHistory(t, sagaID)[1:], nil).Once()
					return archive
				},
				expectedError: saga.ErrSagaNotFound,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				uc := NewRebuildSaga(newStore(t), tt.archive(t), zerolog.Nop())

				_, err := uc.Execute(ctx, &GetSagaQuery{SagaID: sagaID.String()})

				assert.True(t, errors.Is(err, tt.expectedError), "got %v", err)
			})
		}
	})
}

func TestArchiveEvents_Execute(t *testing.T) {
	archive := sharedmocks.NewMockEventStore(t)
	evt, err := events.NewEvent("order-1", events.AggregateOrder, events.OrderCreated, validOrder())
	require.NoError(t, err)

	archive.EXPECT().SaveEvents(mock.Anything, []*events.Event{evt}).Return(nil).Once()
	require.NoError(t, NewArchiveEvents(archive).Execute(context.Background(), evt))

	archive.EXPECT().SaveEvents(mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	assert.ErrorContains(t, NewArchiveEvents(archive).Execute(context.Background(), evt), "db down")

	// nothing to archive
	assert.NoError(t, NewArchiveEvents(archive).Execute(context.Background()))
}
