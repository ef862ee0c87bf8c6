package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/models"
	"github.com/pulseboard/creator-engine/pkg/repositories"
)

// WalletHandler exposes wallet provisioning, top-ups, and the transaction
// log.
type WalletHandler struct {
	ledger repositories.LedgerRepository
	logger *zap.Logger
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger repositories.LedgerRepository, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{ledger: ledger, logger: logger}
}

// RegisterRoutes registers the wallet routes on the given mux.
func (h *WalletHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/wallets", h.Create)
	mux.HandleFunc("GET /api/wallets/{consumerID}", h.Get)
	mux.HandleFunc("POST /api/wallets/{consumerID}/topup", h.TopUp)
	mux.HandleFunc("GET /api/wallets/{consumerID}/transactions", h.Transactions)
}

// CreateWalletRequest is the POST /api/wallets body.
type CreateWalletRequest struct {
	ConsumerID     uuid.UUID `json:"consumer_id"`
	InitialBalance int64     `json:"initial_balance"`
}

// Create handles POST /api/wallets.
func (h *WalletHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.ConsumerID == uuid.Nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "consumer_id is required")
		return
	}
	if req.InitialBalance < 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "initial_balance must not be negative")
		return
	}

	wallet, err := h.ledger.CreateWallet(r.Context(), req.ConsumerID, req.InitialBalance)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, wallet)
}

// Get handles GET /api/wallets/{consumerID}.
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	consumerID, err := uuid.Parse(r.PathValue("consumerID"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "consumerID must be a UUID")
		return
	}

	wallet, err := h.ledger.GetWallet(r.Context(), consumerID)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	if wallet == nil {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "wallet not found")
		return
	}
	_ = WriteJSON(w, http.StatusOK, wallet)
}

// TopUpRequest is the POST /api/wallets/{consumerID}/topup body.
type TopUpRequest struct {
	Amount int64 `json:"amount"`
}

// TopUp handles POST /api/wallets/{consumerID}/topup.
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	consumerID, err := uuid.Parse(r.PathValue("consumerID"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "consumerID must be a UUID")
		return
	}

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}

	if err := h.ledger.Credit(r.Context(), consumerID, req.Amount, models.TransactionTopUp, nil); err != nil {
		_ = WriteError(w, err)
		return
	}

	wallet, err := h.ledger.GetWallet(r.Context(), consumerID)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, wallet)
}

// Transactions handles GET /api/wallets/{consumerID}/transactions?limit=.
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	consumerID, err := uuid.Parse(r.PathValue("consumerID"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "consumerID must be a UUID")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	txns, err := h.ledger.ListTransactions(r.Context(), consumerID, limit)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, txns)
}
