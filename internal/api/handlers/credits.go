package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clydra/backend/internal/api/request"
	"github.com/clydra/backend/internal/api/response"
	"github.com/clydra/backend/internal/auth"
	"github.com/clydra/backend/internal/metering"
)

// CreditsHandler exposes credit purchase and ledger endpoints
type CreditsHandler struct {
	ledger *metering.Ledger
}

// NewCreditsHandler creates a new credits handler
func NewCreditsHandler(ledger *metering.Ledger) *CreditsHandler {
	return &CreditsHandler{ledger: ledger}
}

// PurchaseRequest is the body for POST /api/v1/credits/purchase.
// PaymentEvidence is the provider's record of an already-settled
// payment; the price and credit amounts come from the server-side catalog.
type PurchaseRequest struct {
	PackageID       string `json:"package_id"`
	PaymentEvidence string `json:"payment_evidence"`
}

// Purchase handles POST /api/v1/credits/purchase
func (h *CreditsHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		response.Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.PackageID == "" {
		response.BadRequest(w, "package_id is required")
		return
	}

	result, err := h.ledger.Purchase(r.Context(), user.ID, req.PackageID, req.PaymentEvidence)
	if err != nil {
		switch {
		case errors.Is(err, metering.ErrPackageNotFound):
			response.NotFound(w, "Unknown credit package")
		case errors.Is(err, metering.ErrPackageInactive):
			response.Conflict(w, "Credit package is no longer available")
		default:
			response.InternalError(w, "Failed to record purchase")
		}
		return
	}

	response.Created(w, result)
}

// Transactions handles GET /api/v1/credits/transactions
func (h *CreditsHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		response.Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	limit := request.GetQueryIntWithRange(r, "limit",
		metering.DefaultTransactionLimit, 1, metering.MaxTransactionLimit)

	txns, err := h.ledger.ListTransactions(r.Context(), user.ID, limit)
	if err != nil {
		response.InternalError(w, "Failed to fetch transactions")
		return
	}

	response.Success(w, txns)
}

// Packages handles GET /api/v1/packages
func (h *CreditsHandler) Packages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.ledger.Packages(r.Context())
	if err != nil {
		response.InternalError(w, "Failed to fetch packages")
		return
	}

	response.Success(w, packages)
}
