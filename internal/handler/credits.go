package handler

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"trueque/internal/ledger"
	"trueque/internal/middleware"
	"trueque/pkg/logger"
	"trueque/pkg/validator"
)

// CreditsHandler exposes ledger reads, transfers, and admin grants.
type CreditsHandler struct {
	service      *ledger.Service
	validator    *validator.Validator
	defaultGrant int64
	logger       logger.Logger
}

func NewCreditsHandler(service *ledger.Service, val *validator.Validator, defaultGrant int64, log logger.Logger) *CreditsHandler {
	return &CreditsHandler{
		service:      service,
		validator:    val,
		defaultGrant: defaultGrant,
		logger:       log,
	}
}

// Balance returns the authenticated user's current balance.
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	balance, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

// History returns the authenticated user's recent ledger entries.
func (h *CreditsHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	entries, err := h.service.History(r.Context(), userID, parseIntParam(r, "limit", 50))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// Transfer moves credits from the authenticated user to another member.
func (h *CreditsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req ledger.TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.FromUserID = userID
	req.Reason = validator.Sanitize(req.Reason)

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Transfer(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Grant funds a user's account. Admin only; routed behind RequireAdmin.
func (h *CreditsHandler) Grant(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	targetID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req ledger.GrantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.UserID = targetID
	req.GrantedBy = &actorID
	// Omitted amount means the standard new-member grant.
	if req.Amount == 0 {
		req.Amount = h.defaultGrant
	}

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.service.Grant(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
