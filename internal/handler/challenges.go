package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"trueque/internal/challenge"
	"trueque/internal/middleware"
	"trueque/pkg/logger"
)

// ChallengesHandler exposes challenge listing, enrollment, and completion.
type ChallengesHandler struct {
	service *challenge.Service
	logger  logger.Logger
}

func NewChallengesHandler(service *challenge.Service, log logger.Logger) *ChallengesHandler {
	return &ChallengesHandler{service: service, logger: log}
}

// List returns the active challenges.
func (h *ChallengesHandler) List(w http.ResponseWriter, r *http.Request) {
	challenges, err := h.service.ListActive(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"challenges": challenges,
		"count":      len(challenges),
	})
}

// Enroll starts the authenticated user on a challenge.
func (h *ChallengesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID, challengeID, ok := h.identify(w, r)
	if !ok {
		return
	}

	enrollment, err := h.service.Enroll(r.Context(), userID, challengeID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, enrollment)
}

// Complete settles a finished challenge for the authenticated user.
func (h *ChallengesHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, challengeID, ok := h.identify(w, r)
	if !ok {
		return
	}

	result, err := h.service.Complete(r.Context(), userID, challengeID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListEnrollments returns the authenticated user's challenge progress.
func (h *ChallengesHandler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	enrollments, err := h.service.ListEnrollments(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"enrollments": enrollments,
		"count":       len(enrollments),
	})
}

func (h *ChallengesHandler) identify(w http.ResponseWriter, r *http.Request) (userID, challengeID uuid.UUID, ok bool) {
	userID, authed := middleware.UserIDFromContext(r.Context())
	if !authed {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	challengeID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid challenge ID")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, challengeID, true
}
