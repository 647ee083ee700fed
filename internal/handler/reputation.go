package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"trueque/internal/middleware"
	"trueque/internal/reputation"
	"trueque/pkg/logger"
	"trueque/pkg/validator"
)

// ReputationHandler exposes snapshots and exchange ratings.
type ReputationHandler struct {
	service   *reputation.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewReputationHandler(service *reputation.Service, val *validator.Validator, log logger.Logger) *ReputationHandler {
	return &ReputationHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Snapshot returns a user's reputation projection.
func (h *ReputationHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	snapshot, err := h.service.Snapshot(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// Rate records a rating for a completed exchange.
func (h *ReputationHandler) Rate(w http.ResponseWriter, r *http.Request) {
	raterID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	exchangeID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid exchange ID")
		return
	}

	var req reputation.RateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ExchangeID = exchangeID
	req.RaterID = raterID

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rating, err := h.service.RateExchange(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rating)
}

// Ratings lists ratings received by a user.
func (h *ReputationHandler) Ratings(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	limit, offset := pagination(r)
	ratings, err := h.service.ListRatings(r.Context(), userID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ratings": ratings,
		"count":   len(ratings),
	})
}
