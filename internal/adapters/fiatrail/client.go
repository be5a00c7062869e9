package fiatrail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rail-service/settlement_service/pkg/crypto"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/retry"
	"github.com/rail-service/settlement_service/pkg/security"
)

// ErrTransferNotFound is returned when the rail has no transfer for a reference
var ErrTransferNotFound = errors.New("transfer not found")

// Config represents fiat rail API configuration
type Config struct {
	BaseURL         string
	SecretKey       string
	WebhookSecret   string
	Currency        string
	Timeout         time.Duration
	MaxRetries      int
	RateLimitPerSec float64
}

// Client is the fiat rail HTTP client
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	limiter        *rate.Limiter
	validate       *validator.Validate
	logger         *logger.Logger
}

// NewClient creates a new fiat rail client
func NewClient(config Config, log *logger.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.paystack.co"
	}
	if config.Currency == "" {
		config.Currency = "NGN"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitPerSec == 0 {
		config.RateLimitPerSec = 10
	}

	st := gobreaker.Settings{
		Name:        "FiatRail",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *ErrorResponse
			if errors.As(err, &apiErr) {
				return !apiErr.IsRetryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(st),
		limiter:        rate.NewLimiter(rate.Limit(config.RateLimitPerSec), 1),
		validate:       validator.New(),
		logger:         log,
	}
}

// Currency returns the payout currency
func (c *Client) Currency() string {
	return c.config.Currency
}

// ResolveAccount returns the verified holder name of a bank account
func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	params := url.Values{}
	params.Set("account_number", accountNumber)
	params.Set("bank_code", bankCode)

	var account ResolvedAccount
	if err := c.doRequestWithRetry(ctx, http.MethodGet, "/bank/resolve?"+params.Encode(), nil, &account); err != nil {
		c.logger.Warn("Failed to resolve bank account",
			"account_number", security.MaskAccountNumber(accountNumber),
			"bank_code", bankCode,
			"error", err)
		return nil, fmt.Errorf("resolve account failed: %w", err)
	}
	return &account, nil
}

// GetBalance returns the available payout float in major units
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var entries []balanceEntry
	if err := c.doRequestWithRetry(ctx, http.MethodGet, "/balance", nil, &entries); err != nil {
		return decimal.Zero, fmt.Errorf("get balance failed: %w", err)
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Currency, c.config.Currency) {
			return FromMinorUnits(entry.Balance), nil
		}
	}
	return decimal.Zero, nil
}

// CreateRecipient registers a bank account as a transfer recipient
func (c *Client) CreateRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	req := recipientRequest{
		Type:          "nuban",
		Name:          name,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      c.config.Currency,
	}

	var resp recipient
	if err := c.doRequestWithRetry(ctx, http.MethodPost, "/transferrecipient", req, &resp); err != nil {
		return "", fmt.Errorf("create recipient failed: %w", err)
	}
	return resp.RecipientCode, nil
}

// InitiateTransfer sends a payout. It is not retried here; callers re-check
// the reference with VerifyTransfer before sending again.
func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body := transferRequest{
		Source:    "balance",
		Amount:    ToMinorUnits(req.Amount),
		Recipient: req.RecipientCode,
		Reference: req.Reference,
		Reason:    req.Reason,
		Currency:  c.config.Currency,
	}

	c.logger.Info("Initiating fiat transfer",
		"reference", req.Reference,
		"amount", req.Amount.StringFixed(2),
		"currency", c.config.Currency)

	var transfer Transfer
	if err := c.doRequest(ctx, http.MethodPost, "/transfer", body, &transfer); err != nil {
		c.logger.Error("Failed to initiate fiat transfer", "reference", req.Reference, "error", err)
		return nil, fmt.Errorf("initiate transfer failed: %w", err)
	}
	return &transfer, nil
}

// VerifyTransfer returns the transfer with reference, or ErrTransferNotFound
func (c *Client) VerifyTransfer(ctx context.Context, reference string) (*Transfer, error) {
	var transfer Transfer
	err := c.doRequestWithRetry(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &transfer)
	if err != nil {
		var apiErr *ErrorResponse
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("verify transfer failed: %w", err)
	}
	return &transfer, nil
}

// VerifySignature checks the webhook HMAC-SHA512 signature
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if c.config.WebhookSecret == "" || signature == "" {
		return false
	}
	return crypto.VerifySHA512(c.config.WebhookSecret, body, signature)
}

// ParseWebhook decodes and validates a webhook body
func (c *Client) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}
	if err := c.validate.Struct(&event); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &event, nil
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, body, response interface{}) error {
	cfg := retry.RetryConfig{
		MaxAttempts: c.config.MaxRetries,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
	}
	return retry.WithExponentialBackoff(ctx, cfg, func() error {
		return c.doRequest(ctx, method, endpoint, body, response)
	}, func(err error) bool {
		var apiErr *ErrorResponse
		return errors.As(err, &apiErr) && apiErr.IsRetryable()
	})
}

// doRequest performs an HTTP request to the fiat rail API and unwraps the data envelope
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, response interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		var reqBody io.Reader
		if body != nil {
			jsonData, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = bytes.NewReader(jsonData)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+endpoint, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)

		c.logger.Debug("Sending fiat rail request", "method", method, "endpoint", strings.SplitN(endpoint, "?", 2)[0])

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		var env envelope
		decodeErr := json.Unmarshal(respBody, &env)

		if resp.StatusCode >= 400 || (decodeErr == nil && !env.Status) {
			apiErr := &ErrorResponse{StatusCode: resp.StatusCode, Message: env.Message}
			if apiErr.Message == "" {
				apiErr.Message = string(respBody)
			}
			return nil, apiErr
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", decodeErr)
		}

		if response != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, response); err != nil {
				return nil, fmt.Errorf("failed to unmarshal response data: %w", err)
			}
			if err := c.validateResponse(response); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (c *Client) validateResponse(response interface{}) error {
	switch v := response.(type) {
	case *[]balanceEntry:
		for i := range *v {
			if err := c.validate.Struct(&(*v)[i]); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
		}
		return nil
	default:
		if err := c.validate.Struct(response); err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}
		return nil
	}
}
