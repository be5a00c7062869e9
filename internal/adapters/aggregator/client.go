package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/retry"
)

const (
	permitQuotePath    = "/swap/permit2/quote"
	allowanceQuotePath = "/swap/allowance-holder/quote"
)

// ErrNoLiquidity is returned when the aggregator has no route for the pair
var ErrNoLiquidity = errors.New("aggregator has no liquidity for pair")

// Config represents the swap aggregator configuration
type Config struct {
	BaseURL         string
	APIKey          string
	Version         string
	ChainID         int64
	Timeout         time.Duration
	MaxRetries      int
	RateLimitPerSec float64
}

// Client is the swap aggregator HTTP client
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	limiter        *rate.Limiter
	validate       *validator.Validate
	logger         *logger.Logger
}

// NewClient creates a new aggregator client
func NewClient(config Config, log *logger.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.0x.org"
	}
	if config.Version == "" {
		config.Version = "v2"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitPerSec == 0 {
		config.RateLimitPerSec = 5
	}

	st := gobreaker.Settings{
		Name:        "SwapAggregator",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
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

// PermitQuote requests a quote executed through a signed permit
func (c *Client) PermitQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	return c.quote(ctx, permitQuotePath, req)
}

// AllowanceQuote requests a quote executed through a plain ERC-20 allowance
func (c *Client) AllowanceQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	return c.quote(ctx, allowanceQuotePath, req)
}

func (c *Client) quote(ctx context.Context, path string, req QuoteRequest) (*Quote, error) {
	params := url.Values{}
	params.Set("chainId", strconv.FormatInt(c.config.ChainID, 10))
	params.Set("sellToken", req.SellToken)
	params.Set("buyToken", req.BuyToken)
	params.Set("sellAmount", req.SellAmount)
	params.Set("taker", req.Taker)
	if req.SlippageBps > 0 {
		params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	}

	var quote Quote
	err := retry.WithExponentialBackoff(ctx, retry.RetryConfig{
		MaxAttempts: c.config.MaxRetries,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
	}, func() error {
		return c.doRequest(ctx, path+"?"+params.Encode(), &quote)
	}, isRetryable)
	if err != nil {
		return nil, fmt.Errorf("quote %s failed: %w", path, err)
	}

	if !quote.LiquidityAvailable {
		return nil, ErrNoLiquidity
	}
	if err := c.validate.Struct(&quote); err != nil {
		return nil, fmt.Errorf("invalid quote response: %w", err)
	}
	return &quote, nil
}

func isRetryable(err error) bool {
	var apiErr *ErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.IsRateLimited() || apiErr.IsServerError()
	}
	return !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, context.Canceled)
}

// doRequest performs a GET against the aggregator API
func (c *Client) doRequest(ctx context.Context, endpoint string, response interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("0x-version", c.config.Version)
		if c.config.APIKey != "" {
			req.Header.Set("0x-api-key", c.config.APIKey)
		}

		c.logger.Debug("Sending aggregator request", "endpoint", endpoint)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 400 {
			errResp := &ErrorResponse{StatusCode: resp.StatusCode}
			if err := json.Unmarshal(body, errResp); err != nil || errResp.Message == "" {
				errResp.Message = string(body)
			}
			return nil, errResp
		}

		if err := json.Unmarshal(body, response); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return nil, nil
	})
	return err
}
