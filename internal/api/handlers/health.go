package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/clydra/backend/internal/api/response"
	"github.com/clydra/backend/internal/cache"
	"github.com/clydra/backend/internal/database"
)

// HealthChecker provides health check functionality
type HealthChecker struct {
	db    *database.DB
	cache *cache.Adapter
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *database.DB, cache *cache.Adapter) *HealthChecker {
	return &HealthChecker{
		db:    db,
		cache: cache,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Health handles GET /health. A degraded cache only degrades the report:
// quota decisions keep working off the database, so the service stays up.
func (h *HealthChecker) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	overallStatus := "healthy"
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		services["database"] = "unhealthy"
		overallStatus = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else {
		services["database"] = "healthy"
	}

	if err := h.cache.Health(ctx); err != nil {
		services["cache"] = "degraded"
		if overallStatus == "healthy" {
			overallStatus = "degraded"
		}
	} else {
		services["cache"] = "healthy"
	}

	resp := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	response.JSON(w, statusCode, resp)
}

// LivenessProbe handles GET /health/live - simple liveness check
func LivenessProbe(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

// ReadinessProbe handles GET /health/ready. Only the database gates
// readiness; the cache is advisory.
func (h *HealthChecker) ReadinessProbe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		response.Error(w, http.StatusServiceUnavailable, "Database not ready")
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
