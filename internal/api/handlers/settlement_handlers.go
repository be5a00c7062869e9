package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// SettlementService is the part of the settlement service the operator API uses
type SettlementService interface {
	CreateIntent(ctx context.Context, req entities.CreateIntentRequest) (*entities.SettlementTransaction, error)
	Get(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error)
	ListByStatus(ctx context.Context, status entities.SettlementStatus, limit int) ([]*entities.SettlementTransaction, error)
	Replay(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error)
	Refund(ctx context.Context, id uuid.UUID, reason string) (*entities.SettlementTransaction, error)
}

// SettlementHandlers serves the operator settlement endpoints
type SettlementHandlers struct {
	service SettlementService
	logger  *logger.Logger
}

// NewSettlementHandlers creates settlement handlers
func NewSettlementHandlers(service SettlementService, log *logger.Logger) *SettlementHandlers {
	return &SettlementHandlers{service: service, logger: log}
}

// RefundRequest carries the operator's refund reason
type RefundRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// CreateSettlement registers a settlement intent
// @Summary Create settlement intent
// @Description Assigns a custody address to the user and records the bank account the payout goes to
// @Tags settlements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body entities.CreateIntentRequest true "Intent"
// @Success 201 {object} SettlementResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Router /api/v1/settlements [post]
func (h *SettlementHandlers) CreateSettlement(c *gin.Context) {
	var req entities.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	tx, err := h.service.CreateIntent(c.Request.Context(), req)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	h.logger.Info("Settlement intent created",
		"settlement_id", tx.ID.String(),
		"operator", getOperator(c),
		"request_id", c.GetString("request_id"))
	SendCreated(c, toSettlementResponse(tx))
}

// GetSettlement returns one settlement
// @Summary Get settlement
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param id path string true "Settlement ID"
// @Success 200 {object} SettlementResponse
// @Failure 404 {object} entities.ErrorResponse
// @Router /api/v1/settlements/{id} [get]
func (h *SettlementHandlers) GetSettlement(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	tx, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	SendSuccess(c, toSettlementResponse(tx))
}

// ListSettlements lists settlements in one status
// @Summary List settlements by status
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param status query string true "Status"
// @Param limit query int false "Maximum rows" default(100)
// @Success 200 {array} SettlementResponse
// @Failure 400 {object} entities.ErrorResponse
// @Router /api/v1/settlements [get]
func (h *SettlementHandlers) ListSettlements(c *gin.Context) {
	status := entities.SettlementStatus(c.Query("status"))
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			SendBadRequest(c, ErrCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rows, err := h.service.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	out := make([]SettlementResponse, 0, len(rows))
	for _, tx := range rows {
		out = append(out, toSettlementResponse(tx))
	}
	SendSuccess(c, out)
}

// ReplaySettlement re-drives a settlement through the pipeline
// @Summary Replay settlement
// @Description Resumes a paused settlement, retries a retryable failure as a new attempt, or continues an in-progress one
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param id path string true "Settlement ID"
// @Success 200 {object} SettlementResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Router /api/v1/settlements/{id}/replay [post]
func (h *SettlementHandlers) ReplaySettlement(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	tx, err := h.service.Replay(c.Request.Context(), id)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	h.logger.Info("Settlement replayed",
		"settlement_id", id.String(),
		"result_id", tx.ID.String(),
		"status", string(tx.Status),
		"operator", getOperator(c))
	SendSuccess(c, toSettlementResponse(tx))
}

// RefundSettlement marks a settlement refunded
// @Summary Refund settlement
// @Tags settlements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Settlement ID"
// @Param request body RefundRequest true "Reason"
// @Success 200 {object} SettlementResponse
// @Failure 409 {object} entities.ErrorResponse
// @Router /api/v1/settlements/{id}/refund [post]
func (h *SettlementHandlers) RefundSettlement(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	tx, err := h.service.Refund(c.Request.Context(), id, req.Reason)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	h.logger.Info("Settlement refunded", "settlement_id", id.String(), "operator", getOperator(c))
	SendSuccess(c, toSettlementResponse(tx))
}
