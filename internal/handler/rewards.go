package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"trueque/internal/middleware"
	"trueque/internal/rewards"
	"trueque/pkg/logger"
	"trueque/pkg/validator"
)

// RewardsHandler exposes the reward catalog, claims, and moderation.
type RewardsHandler struct {
	service   *rewards.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewRewardsHandler(service *rewards.Service, val *validator.Validator, log logger.Logger) *RewardsHandler {
	return &RewardsHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// List returns the active reward catalog.
func (h *RewardsHandler) List(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.service.ListRewards(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rewards": catalog,
		"count":   len(catalog),
	})
}

// Claim redeems a reward for the authenticated user.
func (h *RewardsHandler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	rewardID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid reward ID")
		return
	}

	claim, err := h.service.Claim(r.Context(), userID, rewardID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, claim)
}

// ListClaims returns the authenticated user's claims.
func (h *RewardsHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit, offset := pagination(r)
	claims, err := h.service.ListClaims(r.Context(), userID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"claims": claims,
		"count":  len(claims),
	})
}

// Moderate advances a claim's moderation status. Admin only.
func (h *RewardsHandler) Moderate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	claimID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid claim ID")
		return
	}

	var req rewards.ModerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ClaimID = claimID
	req.ActorID = actorID
	req.Note = validator.Sanitize(req.Note)

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	claim, err := h.service.Moderate(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, claim)
}
