package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/draftea/saga-system/shared/saga"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ParticipantHandlers exposes participants over the step transport
type ParticipantHandlers struct {
	participants map[string]saga.Participant
	logger       zerolog.Logger
}

// NewParticipantHandlers creates new participant handlers
func NewParticipantHandlers(participants map[string]saga.Participant, logger zerolog.Logger) *ParticipantHandlers {
	return &ParticipantHandlers{
		participants: participants,
		logger:       logger,
	}
}

// Participate handles step execution requests
func (h *ParticipantHandlers) Participate(w http.ResponseWriter, r *http.Request) {
	participant, ok := h.participant(w, r)
	if !ok {
		return
	}

	var req saga.StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SagaID.IsEmpty() || req.StepName == "" {
		http.Error(w, "sagaId and stepName are required", http.StatusBadRequest)
		return
	}

	result, err := participant.ExecuteStep(r.Context(), &req)
	if err != nil {
		h.logger.Error().Err(err).Str("saga_id", req.SagaID.String()).Str("step", req.StepName).Msg("step execution failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Compensate handles step compensation requests
func (h *ParticipantHandlers) Compensate(w http.ResponseWriter, r *http.Request) {
	participant, ok := h.participant(w, r)
	if !ok {
		return
	}

	var req saga.CompensationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SagaID.IsEmpty() || req.StepName == "" {
		http.Error(w, "sagaId and stepName are required", http.StatusBadRequest)
		return
	}

	result, err := participant.CompensateStep(r.Context(), &req)
	if err != nil {
		h.logger.Error().Err(err).Str("saga_id", req.SagaID.String()).Str("step", req.StepName).Msg("step compensation failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ParticipantHandlers) participant(w http.ResponseWriter, r *http.Request) (saga.Participant, bool) {
	service := chi.URLParam(r, "service")
	participant, ok := h.participants[service]
	if !ok {
		http.Error(w, "unknown participant "+service, http.StatusNotFound)
		return nil, false
	}
	return participant, true
}

// RegisterRoutes registers participant routes
func (h *ParticipantHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/{service}/saga", func(r chi.Router) {
		r.Post("/participate", h.Participate)
		r.Post("/compensate", h.Compensate)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
