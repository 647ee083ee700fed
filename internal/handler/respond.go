// Package handler provides the HTTP surface of the exchange engine.
package handler

import (
	"encoding/json"
	"net/http"

	"trueque/pkg/errors"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps sentinel errors onto HTTP statuses. Busy is
// the only retryable class and carries a Retry-After hint.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrUserNotFound),
		errors.Is(err, errors.ErrOfferNotFound),
		errors.Is(err, errors.ErrExchangeNotFound),
		errors.Is(err, errors.ErrRewardNotFound),
		errors.Is(err, errors.ErrClaimNotFound),
		errors.Is(err, errors.ErrChallengeNotFound),
		errors.Is(err, errors.ErrNotEnrolled),
		errors.Is(err, errors.ErrRatingNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errors.ErrInvalidState),
		errors.Is(err, errors.ErrAlreadyConfirmed),
		errors.Is(err, errors.ErrAlreadyCompleted),
		errors.Is(err, errors.ErrAlreadyRated),
		errors.Is(err, errors.ErrDuplicateProposal):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errors.ErrSelfExchange),
		errors.Is(err, errors.ErrSelfTransfer),
		errors.Is(err, errors.ErrInvalidAmount),
		errors.Is(err, errors.ErrInvalidRating),
		errors.Is(err, errors.ErrInsufficientProgress):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrInsufficientCredits),
		errors.Is(err, errors.ErrOutOfStock),
		errors.Is(err, errors.ErrRewardInactive),
		errors.Is(err, errors.ErrChallengeInactive):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, errors.ErrBusy):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
