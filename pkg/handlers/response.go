package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps the error taxonomy onto HTTP statuses. A gated request
// that failed is guaranteed to have charged nothing, so the typed error is
// all the caller needs.
func WriteError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrInsufficientBalance):
		return ErrorResponse(w, http.StatusPaymentRequired, "insufficient_balance", err.Error())
	case errors.Is(err, apperrors.ErrHandleNotFound), errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrWalletNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		return ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrBelowThreshold):
		return ErrorResponse(w, http.StatusUnprocessableEntity, "below_threshold", err.Error())
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
