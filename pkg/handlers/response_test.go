package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"insufficient balance", apperrors.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
		{"wrapped insufficient balance", fmt.Errorf("failed to charge: %w", apperrors.ErrInsufficientBalance), http.StatusPaymentRequired, "insufficient_balance"},
		{"handle not found", apperrors.ErrHandleNotFound, http.StatusNotFound, "not_found"},
		{"not found", apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{"wallet not found", apperrors.ErrWalletNotFound, http.StatusNotFound, "not_found"},
		{"conflict", apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{"below threshold", apperrors.ErrBelowThreshold, http.StatusUnprocessableEntity, "below_threshold"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if err := WriteError(rec, tt.err); err != nil {
				t.Fatalf("WriteError returned error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["error"] != tt.wantCode {
				t.Errorf("error code = %q, want %q", body["error"], tt.wantCode)
			}
		})
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteError(rec, errors.New("pq: connection refused")); err != nil {
		t.Fatalf("WriteError returned error: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["message"] != "internal error" {
		t.Errorf("message = %q, want generic internal error", body["message"])
	}
}

func TestOperatorAuth(t *testing.T) {
	handler := NewOperatorHandler(nil, nil, "operator-secret", zap.NewNop())
	wrapped := handler.auth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer operator-secret", http.StatusNoContent},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/operator/scan", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			wrapped(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestOperatorAuthDisabledWithEmptyToken(t *testing.T) {
	handler := NewOperatorHandler(nil, nil, "", zap.NewNop())
	wrapped := handler.auth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/operator/scan", nil)
	rec := httptest.NewRecorder()
	wrapped(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}
