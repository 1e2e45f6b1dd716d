package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clydra/backend/internal/auth"
	"github.com/clydra/backend/internal/cache"
	"github.com/clydra/backend/internal/metering"
	"github.com/clydra/backend/internal/models"
)

func newTestMeter() *metering.Meter {
	adapter := cache.NewAdapter(cache.NewMemoryBackend(), 0)
	allowance := metering.NewAllowanceManager(metering.NewMemoryAllowanceStore(), adapter, nil)
	ledger := metering.NewLedger(metering.NewMemoryLedgerStore(), metering.NewMemoryPackageStore())
	return metering.NewMeter(allowance, ledger)
}

func authedRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	user := &models.User{ID: "u1", Email: "u@example.com", Tier: models.TierFree}
	ctx := context.WithValue(r.Context(), auth.UserContextKey, user)
	return r.WithContext(ctx)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.Empty(t, envelope.Error)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestAuthorizeEstimatesFromText(t *testing.T) {
	h := NewMeterHandler(newTestMeter(), metering.HeuristicEstimator{})

	w := httptest.NewRecorder()
	h.Authorize(w, authedRequest(http.MethodPost, "/api/v1/meter/authorize",
		`{"text": "hello there, how do generics work?", "model": "gpt-4o"}`))

	require.Equal(t, http.StatusOK, w.Code)

	var resp AuthorizeResponse
	decodeData(t, w, &resp)
	assert.True(t, resp.Permit)
	assert.Equal(t, metering.SourceDaily, resp.Source)
	assert.Equal(t, metering.HeuristicEstimator{}.Estimate("hello there, how do generics work?", ""), resp.Amount)
	assert.Equal(t, int64(-1), resp.CreditBalance)
}

func TestAuthorizeExplicitAmountWins(t *testing.T) {
	h := NewMeterHandler(newTestMeter(), metering.HeuristicEstimator{})

	w := httptest.NewRecorder()
	h.Authorize(w, authedRequest(http.MethodPost, "/api/v1/meter/authorize",
		`{"text": "ignored", "estimated_tokens": 1234}`))

	require.Equal(t, http.StatusOK, w.Code)

	var resp AuthorizeResponse
	decodeData(t, w, &resp)
	assert.True(t, resp.Permit)
	assert.Equal(t, int64(1234), resp.Amount)
}

func TestAuthorizeDenyIsAResult(t *testing.T) {
	h := NewMeterHandler(newTestMeter(), metering.HeuristicEstimator{})

	// Far beyond the free daily grant, with no credit to fall back on.
	w := httptest.NewRecorder()
	h.Authorize(w, authedRequest(http.MethodPost, "/api/v1/meter/authorize",
		`{"estimated_tokens": 1000000}`))

	require.Equal(t, http.StatusOK, w.Code)

	var resp AuthorizeResponse
	decodeData(t, w, &resp)
	assert.False(t, resp.Permit)
	assert.Equal(t, metering.SourceNone, resp.Source)
	assert.Equal(t, int64(40000), resp.DailyRemaining)
	assert.Equal(t, int64(0), resp.CreditBalance)
}

func TestAuthorizeNegativeAmount(t *testing.T) {
	h := NewMeterHandler(newTestMeter(), metering.HeuristicEstimator{})

	w := httptest.NewRecorder()
	h.Authorize(w, authedRequest(http.MethodPost, "/api/v1/meter/authorize",
		`{"estimated_tokens": -5}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthorizeRequiresAuth(t *testing.T) {
	h := NewMeterHandler(newTestMeter(), metering.HeuristicEstimator{})

	w := httptest.NewRecorder()
	h.Authorize(w, httptest.NewRequest(http.MethodPost, "/api/v1/meter/authorize",
		strings.NewReader(`{"estimated_tokens": 1}`)))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsageReportsBothPools(t *testing.T) {
	meter := newTestMeter()
	h := NewMeterHandler(meter, metering.HeuristicEstimator{})

	// Consume some allowance first so the report reflects it.
	w := httptest.NewRecorder()
	h.Authorize(w, authedRequest(http.MethodPost, "/api/v1/meter/authorize",
		`{"estimated_tokens": 5000}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.Usage(w, authedRequest(http.MethodGet, "/api/v1/user/usage", ""))
	require.Equal(t, http.StatusOK, w.Code)

	var report metering.UsageReport
	decodeData(t, w, &report)
	assert.Equal(t, models.TierFree, report.Tier)
	assert.Equal(t, int64(40000), report.DailyGranted)
	assert.Equal(t, int64(35000), report.DailyRemaining)
	assert.Equal(t, int64(0), report.CreditBalance)
}
