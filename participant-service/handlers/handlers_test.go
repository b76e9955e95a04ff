package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/draftea/saga-system/participant-service/application"
	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/mocks"
	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRouter(participants map[string]saga.Participant) *chi.Mux {
	r := chi.NewRouter()
	NewParticipantHandlers(participants, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func post(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestParticipantHandlers_Participate(t *testing.T) {
	sagaID := models.GenerateUUID()
	validRequest := saga.StepRequest{SagaID: sagaID, StepName: saga.StepReserveStock, OrderID: "order-1", Data: json.RawMessage(`{}`)}

	tests := []struct {
		name           string
		path           string
		body           interface{}
		setupMocks     func(p *mocks.MockParticipant)
		expectedStatus int
		expectedResult *saga.StepResult
	}{
		{
			name: "step succeeds",
			path: "/inventory/saga/participate",
			body: validRequest,
			setupMocks: func(p *mocks.MockParticipant) {
				p.EXPECT().ExecuteStep(mock.Anything, mock.MatchedBy(func(req *saga.StepRequest) bool {
					return req.SagaID == sagaID && req.StepName == saga.StepReserveStock
				})).Return(saga.Succeeded(sagaID, saga.StepReserveStock, json.RawMessage(`{"reserved":true}`), true), nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedResult: saga.Succeeded(sagaID, saga.StepReserveStock, json.RawMessage(`{"reserved":true}`), true),
		},
		{
			name: "business failure is still a 200",
			path: "/inventory/saga/participate",
			body: validRequest,
			setupMocks: func(p *mocks.MockParticipant) {
				p.EXPECT().ExecuteStep(mock.Anything, mock.Anything).
					Return(saga.Failed(sagaID, saga.StepReserveStock, "insufficient stock"), nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedResult: saga.Failed(sagaID, saga.StepReserveStock, "insufficient stock"),
		},
		{
			name: "participant error",
			path: "/inventory/saga/participate",
			body: validRequest,
			setupMocks: func(p *mocks.MockParticipant) {
				p.EXPECT().ExecuteStep(mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "unknown participant",
			path:           "/shipping/saga/participate",
			body:           validRequest,
			setupMocks:     func(p *mocks.MockParticipant) {},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "malformed body",
			path:           "/inventory/saga/participate",
			body:           "{not json",
			setupMocks:     func(p *mocks.MockParticipant) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing step name",
			path:           "/inventory/saga/participate",
			body:           saga.StepRequest{SagaID: sagaID},
			setupMocks:     func(p *mocks.MockParticipant) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			participant := mocks.NewMockParticipant(t)
			tt.setupMocks(participant)
			router := newRouter(map[string]saga.Participant{saga.ServiceInventory: participant})

			rec := post(t, router, tt.path, tt.body)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedResult != nil {
				var result saga.StepResult
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
				assert.Equal(t, tt.expectedResult.Success, result.Success)
				assert.Equal(t, tt.expectedResult.ErrorMessage, result.ErrorMessage)
				assert.Equal(t, tt.expectedResult.CompensationRequired, result.CompensationRequired)
				assert.JSONEq(t, string(orEmpty(tt.expectedResult.Data)), string(orEmpty(result.Data)))
			}
		})
	}
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}

func TestParticipantHandlers_Compensate(t *testing.T) {
	sagaID := models.GenerateUUID()
	participant := mocks.NewMockParticipant(t)
	participant.EXPECT().CompensateStep(mock.Anything, mock.MatchedBy(func(req *saga.CompensationRequest) bool {
		return req.Reason == "payment declined"
	})).Return(saga.Succeeded(sagaID, saga.StepReserveStock, nil, false), nil).Once()
	router := newRouter(map[string]saga.Participant{saga.ServiceInventory: participant})

	rec := post(t, router, "/inventory/saga/compensate", saga.CompensationRequest{
		SagaID:   sagaID,
		StepName: saga.StepReserveStock,
		Reason:   "payment declined",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var result saga.StepResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestParticipantEventHandlers_Handle(t *testing.T) {
	sagaID := models.GenerateUUID()

	tests := []struct {
		name       string
		eventType  string
		data       interface{}
		setupMocks func(p *mocks.MockParticipant, pub *mocks.MockPublisher)
	}{
		{
			name:      "order created reserves stock",
			eventType: events.OrderCreated,
			data: models.OrderPayload{
				OrderID: "order-1", CustomerID: "c-1",
				Items: []models.OrderItem{{ProductID: "sku-1", Quantity: 1, UnitPrice: models.NewMoney(100, "USD")}},
			},
			setupMocks: func(p *mocks.MockParticipant, pub *mocks.MockPublisher) {
				p.EXPECT().ExecuteStep(mock.Anything, mock.MatchedBy(func(req *saga.StepRequest) bool {
					return req.StepName == events.StepReserveStock && req.OrderID == "order-1"
				})).Return(saga.Succeeded(sagaID, events.StepReserveStock, nil, true), nil).Once()
				pub.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
					return evt.EventType == events.StockReserved
				})).Return(nil).Once()
			},
		},
		{
			name:      "compensation request releases stock",
			eventType: events.SagaCompensationRequested,
			data: events.CompensationRequestedData{
				SagaID:         sagaID.String(),
				FailedStep:     events.StepProcessPayment,
				CompletedSteps: []string{events.StepReserveStock},
			},
			setupMocks: func(p *mocks.MockParticipant, pub *mocks.MockPublisher) {
				p.EXPECT().CompensateStep(mock.Anything, mock.Anything).
					Return(saga.Succeeded(sagaID, events.StepReserveStock, nil, false), nil).Once()
				pub.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
					return evt.EventType == events.StockReleased
				})).Return(nil).Once()
			},
		},
		{
			name:       "unrelated event is ignored",
			eventType:  events.NotificationSent,
			data:       events.StepOutcomeData{OrderID: "order-1"},
			setupMocks: func(p *mocks.MockParticipant, pub *mocks.MockPublisher) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			participant := mocks.NewMockParticipant(t)
			publisher := mocks.NewMockPublisher(t)
			tt.setupMocks(participant, publisher)

			participants := map[string]saga.Participant{saga.ServiceInventory: participant}
			h := NewParticipantEventHandlers(
				application.NewProcessChoreographedStep(participants, publisher, zerolog.Nop()),
				application.NewCompensateChoreographedSaga(participants, publisher, zerolog.Nop()),
			)

			evt, err := events.NewEvent("order-1", events.AggregateOrder, tt.eventType, tt.data)
			require.NoError(t, err)
			evt.WithSaga(sagaID, 1, 5)

			assert.NoError(t, h.Handle(context.Background(), evt))
			assert.Equal(t, "participant-service-event-handler", h.HandlerID())
		})
	}
}
