package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clydra/backend/internal/api/response"
	"github.com/clydra/backend/internal/auth"
	"github.com/clydra/backend/internal/metering"
)

// MeterHandler exposes quota authorization and usage endpoints
type MeterHandler struct {
	meter     *metering.Meter
	estimator metering.Estimator
}

// NewMeterHandler creates a new meter handler
func NewMeterHandler(meter *metering.Meter, estimator metering.Estimator) *MeterHandler {
	return &MeterHandler{
		meter:     meter,
		estimator: estimator,
	}
}

// AuthorizeRequest is the body for POST /api/v1/meter/authorize. Callers
// either send the request text to be estimated, or a pre-computed token
// amount. When both are present the explicit amount wins.
type AuthorizeRequest struct {
	Text            string `json:"text"`
	Model           string `json:"model"`
	EstimatedTokens *int64 `json:"estimated_tokens,omitempty"`
}

// AuthorizeResponse reports the quota decision and the token cost that was
// authorized against it.
type AuthorizeResponse struct {
	metering.Decision
	Amount int64 `json:"amount"`
}

// Authorize handles POST /api/v1/meter/authorize
func (h *MeterHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		response.Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	var amount int64
	if req.EstimatedTokens != nil {
		amount = *req.EstimatedTokens
	} else {
		amount = h.estimator.Estimate(req.Text, req.Model)
	}

	decision, err := h.meter.AuthorizeAndConsume(r.Context(), user.ID, user.Tier, amount)
	if err != nil {
		if errors.Is(err, metering.ErrInvalidAmount) {
			response.BadRequest(w, "Amount must not be negative")
			return
		}
		response.InternalError(w, "Failed to authorize request")
		return
	}

	// A deny is a result, not an error: the client renders the upgrade
	// prompt from the decision body.
	response.Success(w, AuthorizeResponse{
		Decision: decision,
		Amount:   amount,
	})
}

// Usage handles GET /api/v1/user/usage
func (h *MeterHandler) Usage(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		response.Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	report, err := h.meter.Usage(r.Context(), user.ID, user.Tier)
	if err != nil {
		response.InternalError(w, "Failed to fetch usage")
		return
	}

	response.Success(w, report)
}
