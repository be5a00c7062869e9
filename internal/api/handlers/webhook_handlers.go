package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/settlement_service/internal/adapters/fiatrail"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/internal/domain/services/reconciliation"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/retry"
)

// WebhookVerifier authenticates and decodes fiat rail webhooks
type WebhookVerifier interface {
	VerifySignature(body []byte, signature string) bool
	ParseWebhook(body []byte) (*fiatrail.WebhookEvent, error)
}

// PayoutReconciler applies payout confirmations
type PayoutReconciler interface {
	HandlePayoutEvent(ctx context.Context, ev reconciliation.PayoutEvent) (reconciliation.Outcome, error)
}

// WebhookHandlers handles webhook processing
type WebhookHandlers struct {
	verifier      WebhookVerifier
	reconciler    PayoutReconciler
	skipSignature bool
	logger        *logger.Logger
}

// NewWebhookHandlers creates a new WebhookHandlers instance
func NewWebhookHandlers(verifier WebhookVerifier, reconciler PayoutReconciler, skipSignature bool, log *logger.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		verifier:      verifier,
		reconciler:    reconciler,
		skipSignature: skipSignature,
		logger:        log,
	}
}

// FiatRailWebhook handles POST /webhooks/fiat-rail
// @Summary Fiat rail transfer webhook
// @Description Confirms or fails an initiated payout. Events that cannot be applied are acknowledged and logged.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Rail-Signature header string true "HMAC-SHA512 of the body"
// @Success 200 {object} map[string]string
// @Failure 401 {object} entities.ErrorResponse
// @Router /webhooks/fiat-rail [post]
func (h *WebhookHandlers) FiatRailWebhook(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, "Failed to read request body")
		return
	}

	if !h.skipSignature && !h.verifier.VerifySignature(rawBody, c.GetHeader(fiatrail.SignatureHeader)) {
		h.logger.Warn("Webhook signature verification failed", "client_ip", c.ClientIP())
		SendUnauthorized(c, ErrCodeInvalidSignature, "Webhook signature verification failed")
		return
	}

	webhook, err := h.verifier.ParseWebhook(rawBody)
	if err != nil {
		SendBadRequest(c, "INVALID_WEBHOOK", err.Error())
		return
	}

	switch webhook.Event {
	case fiatrail.EventTransferSuccess, fiatrail.EventTransferFailed, fiatrail.EventTransferReversed:
	default:
		h.logger.Debug("Ignoring webhook event", "event", webhook.Event)
		SendSuccess(c, gin.H{"status": "ignored"})
		return
	}

	event := reconciliation.EventFromWebhook(webhook)
	retryConfig := retry.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
	}

	var outcome reconciliation.Outcome
	err = retry.WithExponentialBackoff(
		c.Request.Context(),
		retryConfig,
		func() error {
			var herr error
			outcome, herr = h.reconciler.HandlePayoutEvent(c.Request.Context(), event)
			return herr
		},
		isWebhookRetryableError,
	)

	if err != nil {
		var de *domainerrors.DomainError
		if errors.As(err, &de) {
			// the rail must not keep redelivering an event we will never apply
			h.logger.Warn("Webhook not applied",
				"reference", event.Reference,
				"event", webhook.Event,
				"code", de.Code,
				"error", err)
			SendSuccess(c, gin.H{"status": "not_applied"})
			return
		}

		h.logger.Error("Failed to process fiat rail webhook after retries",
			"reference", event.Reference,
			"event", webhook.Event,
			"error", err)
		SendInternalError(c, ErrCodeWebhookFailed, "Failed to process webhook")
		return
	}

	h.logger.Info("Webhook processed",
		"reference", event.Reference,
		"event", webhook.Event,
		"outcome", string(outcome))
	SendSuccess(c, gin.H{"status": string(outcome)})
}

// isWebhookRetryableError retries storage hiccups but never domain outcomes
func isWebhookRetryableError(err error) bool {
	var de *domainerrors.DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
