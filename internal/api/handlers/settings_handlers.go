package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// RateSettings reads and writes the conversion rate
type RateSettings interface {
	Get(ctx context.Context) (entities.RateSetting, error)
	Set(ctx context.Context, setting entities.RateSetting) error
}

// FeeSettings reads and writes the fee schedule
type FeeSettings interface {
	Tiers() []entities.FeeTier
	Replace(ctx context.Context, tiers []entities.FeeTier) error
}

// SettingsHandlers serves the pricing settings endpoints
type SettingsHandlers struct {
	rates  RateSettings
	fees   FeeSettings
	logger *logger.Logger
}

// NewSettingsHandlers creates settings handlers
func NewSettingsHandlers(rates RateSettings, fees FeeSettings, log *logger.Logger) *SettingsHandlers {
	return &SettingsHandlers{rates: rates, fees: fees, logger: log}
}

// UpdateRateRequest sets the conversion rate
type UpdateRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

// SettingsResponse is the current pricing configuration
type SettingsResponse struct {
	Rate     entities.RateSetting `json:"rate"`
	FeeTiers []entities.FeeTier   `json:"fee_tiers"`
}

// GetSettings returns the rate and fee schedule in use
// @Summary Get pricing settings
// @Tags settings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SettingsResponse
// @Router /api/v1/settings [get]
func (h *SettingsHandlers) GetSettings(c *gin.Context) {
	rate, err := h.rates.Get(c.Request.Context())
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	SendSuccess(c, SettingsResponse{Rate: rate, FeeTiers: h.fees.Tiers()})
}

// UpdateRate sets the conversion rate
// @Summary Update conversion rate
// @Tags settings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpdateRateRequest true "Rate"
// @Success 200 {object} entities.RateSetting
// @Failure 400 {object} entities.ErrorResponse
// @Router /api/v1/settings/rate [put]
func (h *SettingsHandlers) UpdateRate(c *gin.Context) {
	var req UpdateRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	setting := entities.RateSetting{
		Rate:      req.Rate,
		UpdatedAt: time.Now().UTC(),
		UpdatedBy: getOperator(c),
	}
	if err := h.rates.Set(c.Request.Context(), setting); err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	h.logger.Info("Conversion rate updated", "rate", setting.Rate.String(), "operator", setting.UpdatedBy)
	SendSuccess(c, setting)
}

// UpdateFeeTiers replaces the fee schedule
// @Summary Replace fee tiers
// @Tags settings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body []entities.FeeTier true "Tiers"
// @Success 200 {array} entities.FeeTier
// @Failure 400 {object} entities.ErrorResponse
// @Router /api/v1/settings/fee-tiers [put]
func (h *SettingsHandlers) UpdateFeeTiers(c *gin.Context) {
	var tiers []entities.FeeTier
	if err := c.ShouldBindJSON(&tiers); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	if err := h.fees.Replace(c.Request.Context(), tiers); err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	h.logger.Info("Fee schedule replaced", "tiers", len(tiers), "operator", getOperator(c))
	SendSuccess(c, h.fees.Tiers())
}
