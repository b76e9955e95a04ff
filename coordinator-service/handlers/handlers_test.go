package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/draftea/saga-system/coordinator-service/application"
	coordmocks "github.com/draftea/saga-system/coordinator-service/mocks"
	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/infrastructure"
	"github.com/draftea/saga-system/shared/mocks"
	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router    *chi.Mux
	store     *infrastructure.RedisStateStore
	executor  *coordmocks.MockSagaExecutor
	publisher *mocks.MockPublisher
}

func newFixture(t *testing.T, archive events.EventStore) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		router:    chi.NewRouter(),
		store:     infrastructure.NewRedisStateStore(client, time.Hour, zerolog.Nop()),
		executor:  coordmocks.NewMockSagaExecutor(t),
		publisher: mocks.NewMockPublisher(t),
	}
	NewSagaHandlers(
		application.NewStartOrchestratedSaga(f.executor),
		application.NewStartChoreographedSaga(f.publisher),
		application.NewGetSaga(f.store),
		application.NewGetSagaStatistics(f.store),
		application.NewGetSagaHistory(f.store, archive),
		application.NewRebuildSaga(f.store, archive, zerolog.Nop()),
		zerolog.Nop(),
	).RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func order() models.OrderPayload {
	return models.OrderPayload{
		OrderID:      "order-1",
		CustomerID:   "customer-1",
		PaymentToken: "tok_visa",
		Items: []models.OrderItem{
			{ProductID: "sku-1", Quantity: 1, UnitPrice: models.NewMoney(999, "USD")},
		},
	}
}

func TestSagaHandlers_StartOrchestrated(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		setupMocks     func(executor *coordmocks.MockSagaExecutor)
		expectedStatus int
	}{
		{
			name: "saga completes",
			body: application.StartSagaCommand{Order: order()},
			setupMocks: func(executor *coordmocks.MockSagaExecutor) {
				now := time.Now().UTC()
				executor.EXPECT().Execute(mock.Anything, saga.OrderProcessing, mock.Anything).
					Return(&saga.Run{SagaID: models.GenerateUUID(), CurrentState: saga.StateCompleted, StartedAt: now, CompletedAt: &now}, nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "malformed body",
			body:           "{",
			setupMocks:     func(executor *coordmocks.MockSagaExecutor) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid order",
			body:           application.StartSagaCommand{},
			setupMocks:     func(executor *coordmocks.MockSagaExecutor) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "saga id already used",
			body: application.StartSagaCommand{Order: order()},
			setupMocks: func(executor *coordmocks.MockSagaExecutor) {
				executor.EXPECT().Execute(mock.Anything, mock.Anything, mock.Anything).
					Return(nil, errors.Wrap(saga.ErrSagaExists, "create run")).Once()
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "state store down",
			body: application.StartSagaCommand{Order: order()},
			setupMocks: func(executor *coordmocks.MockSagaExecutor) {
				executor.EXPECT().Execute(mock.Anything, mock.Anything, mock.Anything).
					Return(nil, saga.ErrPersistence).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			tt.setupMocks(f.executor)

			rec := f.do(t, http.MethodPost, "/sagas/orchestrated", tt.body)

			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedStatus == http.StatusOK {
				var view saga.View
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
				assert.Equal(t, saga.StatusCompleted, view.Status)
			}
		})
	}
}

func TestSagaHandlers_StartChoreographed(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(nil).Once()

	rec := f.do(t, http.MethodPost, "/sagas/choreographed", application.StartSagaCommand{Order: order()})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var response application.StartChoreographedSagaResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.NotEmpty(t, response.SagaID)
	assert.Equal(t, saga.ModeChoreographed, response.Mode)
}

func TestSagaHandlers_Queries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	sagaID := models.GenerateUUID()
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	run := &saga.Run{SagaID: sagaID, SagaType: saga.OrderProcessing.SagaType, CurrentState: saga.StateStarted, StartedAt: started}
	require.NoError(t, f.store.CreateRun(ctx, run))
	require.NoError(t, f.store.AppendTransition(ctx, &saga.Transition{
		SagaID: sagaID, ToState: saga.StateStarted, EventType: saga.TransitionSuccess, Timestamp: started,
	}))

	t.Run("get saga", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/sagas/"+sagaID.String(), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var view saga.View
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
		assert.Equal(t, sagaID, view.SagaID)
		assert.Equal(t, saga.StatusInProgress, view.Status)
		assert.Equal(t, string(saga.StateStarted), view.CurrentState)
	})

	t.Run("unknown saga", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/sagas/"+models.GenerateUUID().String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/sagas/not-an-id", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("statistics", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/sagas/statistics", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var stats saga.Statistics
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
		assert.Equal(t, 1, stats.Total)
		assert.Equal(t, 1, stats.InProgress)
	})

	t.Run("transitions", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/sagas/"+sagaID.String()+"/transitions", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var history application.GetSagaHistoryResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
		assert.Len(t, history.Transitions, 1)
		assert.Equal(t, saga.StateStarted, history.ReplayedState)
	})
}

func TestSagaHandlers_Rebuild(t *testing.T) {
	t.Run("archive not configured", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/sagas/"+models.GenerateUUID().String()+"/rebuild", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("nothing archived", func(t *testing.T) {
		archive := mocks.NewMockEventStore(t)
		archive.EXPECT().GetEventsBySaga(mock.Anything, mock.Anything).Return(nil, nil).Once()
		f := newFixture(t, archive)

		rec := f.do(t, http.MethodPost, "/sagas/"+models.GenerateUUID().String()+"/rebuild", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rebuilds from initiation", func(t *testing.T) {
		sagaID := models.GenerateUUID()
		created, err := events.NewEvent("order-1", events.AggregateOrder, events.OrderCreated, order())
		require.NoError(t, err)
		created.WithSaga(sagaID, 1, len(events.ChoreographySteps))

		archive := mocks.NewMockEventStore(t)
		archive.EXPECT().GetEventsBySaga(mock.Anything, sagaID).Return([]*events.Event{created}, nil).Once()
		f := newFixture(t, archive)

		rec := f.do(t, http.MethodPost, "/sagas/"+sagaID.String()+"/rebuild", nil)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var view saga.View
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
		assert.Equal(t, saga.ModeChoreographed, view.Mode)
		assert.Equal(t, saga.StatusInProgress, view.Status)
	})
}

func TestArchiveEventHandlers_Handle(t *testing.T) {
	archive := mocks.NewMockEventStore(t)
	evt, err := events.NewEvent("order-1", events.AggregateOrder, events.OrderCreated, order())
	require.NoError(t, err)
	archive.EXPECT().SaveEvents(mock.Anything, []*events.Event{evt}).Return(nil).Once()

	h := NewArchiveEventHandlers(application.NewArchiveEvents(archive))

	assert.NoError(t, h.Handle(context.Background(), evt))
	assert.Equal(t, "saga-archive-event-handler", h.HandlerID())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{errors.Wrap(saga.ErrVersionConflict, "save"), http.StatusConflict},
		{errors.Wrap(saga.ErrTerminal, "rebuild"), http.StatusConflict},
		{application.ErrNothingToReconstruct, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, statusFor(tt.err), tt.err.Error())
	}
}
