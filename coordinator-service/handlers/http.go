package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/draftea/saga-system/coordinator-service/application"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SagaHandlers contains saga HTTP handlers
type SagaHandlers struct {
	startOrchestrated  *application.StartOrchestratedSaga
	startChoreographed *application.StartChoreographedSaga
	getSaga            *application.GetSaga
	getStatistics      *application.GetSagaStatistics
	getHistory         *application.GetSagaHistory
	rebuild            *application.RebuildSaga
	logger             zerolog.Logger
}

// NewSagaHandlers creates new saga handlers
func NewSagaHandlers(
	startOrchestrated *application.StartOrchestratedSaga,
	startChoreographed *application.StartChoreographedSaga,
	getSaga *application.GetSaga,
	getStatistics *application.GetSagaStatistics,
	getHistory *application.GetSagaHistory,
	rebuild *application.RebuildSaga,
	logger zerolog.Logger,
) *SagaHandlers {
	return &SagaHandlers{
		startOrchestrated:  startOrchestrated,
		startChoreographed: startChoreographed,
		getSaga:            getSaga,
		getStatistics:      getStatistics,
		getHistory:         getHistory,
		rebuild:            rebuild,
		logger:             logger,
	}
}

// StartOrchestrated runs an order saga to completion and returns its final status
func (h *SagaHandlers) StartOrchestrated(w http.ResponseWriter, r *http.Request) {
	var cmd application.StartSagaCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	view, err := h.startOrchestrated.Execute(r.Context(), &cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// StartChoreographed publishes the event that starts a choreographed order saga
func (h *SagaHandlers) StartChoreographed(w http.ResponseWriter, r *http.Request) {
	var cmd application.StartSagaCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.startChoreographed.Execute(r.Context(), &cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, response)
}

// GetSaga handles saga status requests
func (h *SagaHandlers) GetSaga(w http.ResponseWriter, r *http.Request) {
	view, err := h.getSaga.Execute(r.Context(), &application.GetSagaQuery{SagaID: chi.URLParam(r, "id")})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// GetStatistics handles saga statistics requests
func (h *SagaHandlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.getStatistics.Execute(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetTransitions handles saga history requests
func (h *SagaHandlers) GetTransitions(w http.ResponseWriter, r *http.Request) {
	history, err := h.getHistory.Execute(r.Context(), &application.GetSagaQuery{SagaID: chi.URLParam(r, "id")})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// Rebuild reconstructs a choreographed saga from the event archive
func (h *SagaHandlers) Rebuild(w http.ResponseWriter, r *http.Request) {
	view, err := h.rebuild.Execute(r.Context(), &application.GetSagaQuery{SagaID: chi.URLParam(r, "id")})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// RegisterRoutes registers saga routes
func (h *SagaHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/sagas", func(r chi.Router) {
		r.Post("/orchestrated", h.StartOrchestrated)
		r.Post("/choreographed", h.StartChoreographed)
		r.Get("/statistics", h.GetStatistics)
		r.Get("/{id}", h.GetSaga)
		r.Get("/{id}/transitions", h.GetTransitions)
		r.Post("/{id}/rebuild", h.Rebuild)
	})
}

func (h *SagaHandlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("saga request failed")
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, saga.ErrSagaNotFound), errors.Is(err, application.ErrNothingToReconstruct):
		return http.StatusNotFound
	case errors.Is(err, saga.ErrVersionConflict), errors.Is(err, saga.ErrSagaExists), errors.Is(err, saga.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, application.ErrArchiveUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
