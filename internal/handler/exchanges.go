package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"trueque/internal/exchange"
	"trueque/internal/middleware"
	"trueque/pkg/logger"
	"trueque/pkg/validator"
)

// ExchangeHandler manages exchange lifecycle endpoints.
type ExchangeHandler struct {
	service   *exchange.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewExchangeHandler(service *exchange.Service, val *validator.Validator, log logger.Logger) *ExchangeHandler {
	return &ExchangeHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Create proposes an exchange against an offer.
func (h *ExchangeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req exchange.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.BuyerID = userID
	if req.Message != nil {
		clean := validator.Sanitize(*req.Message)
		req.Message = &clean
	}

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.service.Create(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// Accept moves a pending proposal to accepted (seller only).
func (h *ExchangeHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, exchangeID, ok := h.identify(w, r)
	if !ok {
		return
	}

	accepted, err := h.service.Accept(r.Context(), exchangeID, userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, accepted)
}

// Confirm records one party's confirmation; when both sides have
// confirmed, the response carries the settlement outcome.
func (h *ExchangeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, exchangeID, ok := h.identify(w, r)
	if !ok {
		return
	}

	result, err := h.service.Confirm(r.Context(), exchangeID, userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Cancel terminates a non-terminal exchange.
func (h *ExchangeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, exchangeID, ok := h.identify(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancellation.
	_ = json.NewDecoder(r.Body).Decode(&body)

	cancelled, err := h.service.Cancel(r.Context(), &exchange.CancelRequest{
		ExchangeID: exchangeID,
		UserID:     userID,
		Reason:     validator.Sanitize(body.Reason),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cancelled)
}

// Get returns one exchange to one of its parties.
func (h *ExchangeHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, exchangeID, ok := h.identify(w, r)
	if !ok {
		return
	}

	found, err := h.service.Get(r.Context(), exchangeID, userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, found)
}

// List returns the authenticated user's exchanges.
func (h *ExchangeHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit, offset := pagination(r)
	exchanges, err := h.service.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"exchanges": exchanges,
		"count":     len(exchanges),
	})
}

func (h *ExchangeHandler) identify(w http.ResponseWriter, r *http.Request) (userID, exchangeID uuid.UUID, ok bool) {
	userID, authed := middleware.UserIDFromContext(r.Context())
	if !authed {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	exchangeID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid exchange ID")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, exchangeID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dest); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = parseIntParam(r, "limit", 50)
	offset = parseIntParam(r, "offset", 0)
	return limit, offset
}
