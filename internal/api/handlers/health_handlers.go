package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheck probes one dependency. Critical failures make the service unhealthy;
// others only degrade it.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// ComponentStatus is the result of one check
type ComponentStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status        string                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Checks        map[string]ComponentStatus `json:"checks"`
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks    []HealthCheck
	logger    *zap.Logger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checks []HealthCheck, logger *zap.Logger, version string) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

// Health handles the general health endpoint
// @Summary Health check
// @Description Returns overall service health with per-dependency status
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:        StatusHealthy,
		Timestamp:     time.Now(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        make(map[string]ComponentStatus, len(h.checks)),
	}

	for _, check := range h.checks {
		start := time.Now()
		err := check.Check(ctx)
		status := ComponentStatus{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			status.Error = err.Error()
			if check.Critical {
				status.Status = StatusUnhealthy
				response.Status = StatusUnhealthy
			} else {
				status.Status = StatusDegraded
				if response.Status == StatusHealthy {
					response.Status = StatusDegraded
				}
			}
		}
		response.Checks[check.Name] = status
	}

	statusCode := http.StatusOK
	switch response.Status {
	case StatusUnhealthy:
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("Health check failed", zap.Any("checks", response.Checks))
	case StatusDegraded:
		h.logger.Warn("Service degraded", zap.Any("checks", response.Checks))
	}

	c.JSON(statusCode, response)
}

// Ping handles simple ping endpoint (no checks, always returns 200)
// @Summary Ping
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /ping [get]
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().Unix(),
		"version": h.version,
	})
}
