package bundler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/rail-service/settlement_service/internal/adapters/chain"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/retry"
)

// ErrReceiptTimeout is returned when a user operation is not included in time
var ErrReceiptTimeout = errors.New("user operation receipt timeout")

// Config represents bundler and paymaster endpoints
type Config struct {
	URL             string
	PaymasterURL    string
	SponsorPolicyID string
	EntryPoint      common.Address
	PollInterval    time.Duration
	ReceiptTimeout  time.Duration
}

// Client talks to an ERC-4337 bundler and its paymaster over JSON-RPC
type Client struct {
	config    Config
	bundler   *rpc.Client
	paymaster *rpc.Client
	retry     retry.RetryConfig
	logger    *logger.Logger
}

// GasEstimate is the bundler's eth_estimateUserOperationGas answer
type GasEstimate struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

// Sponsorship is the paymaster's pm_sponsorUserOperation answer
type Sponsorship struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit"`
}

// Receipt is the bundler's eth_getUserOperationReceipt answer
type Receipt struct {
	UserOpHash common.Hash `json:"userOpHash"`
	Success    bool        `json:"success"`
	Reason     string      `json:"reason"`
	Receipt    struct {
		TransactionHash common.Hash `json:"transactionHash"`
	} `json:"receipt"`
}

// Dial connects to the bundler and, when configured separately, the paymaster
func Dial(ctx context.Context, config Config, log *logger.Logger) (*Client, error) {
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.ReceiptTimeout == 0 {
		config.ReceiptTimeout = 2 * time.Minute
	}

	bundlerClient, err := rpc.DialContext(ctx, config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bundler: %w", err)
	}
	paymasterClient := bundlerClient
	if config.PaymasterURL != "" && config.PaymasterURL != config.URL {
		paymasterClient, err = rpc.DialContext(ctx, config.PaymasterURL)
		if err != nil {
			bundlerClient.Close()
			return nil, fmt.Errorf("failed to connect to paymaster: %w", err)
		}
	}

	return &Client{
		config:    config,
		bundler:   bundlerClient,
		paymaster: paymasterClient,
		retry:     retry.DefaultRetryConfig(),
		logger:    log,
	}, nil
}

// EntryPoint returns the EntryPoint the client submits to
func (c *Client) EntryPoint() common.Address {
	return c.config.EntryPoint
}

func (c *Client) call(ctx context.Context, client *rpc.Client, result interface{}, method string, args ...interface{}) error {
	return retry.NewRetrier(method, c.retry, chain.IsRateLimited, c.logger.Zap()).Do(ctx, func() error {
		return client.CallContext(ctx, result, method, args...)
	})
}

// EstimateGas asks the bundler for gas limits of op
func (c *Client) EstimateGas(ctx context.Context, op *UserOperation) (*GasEstimate, error) {
	var estimate GasEstimate
	if err := c.call(ctx, c.bundler, &estimate, "eth_estimateUserOperationGas", op, c.config.EntryPoint); err != nil {
		return nil, fmt.Errorf("estimate user operation gas failed: %w", err)
	}
	if estimate.CallGasLimit == nil || estimate.VerificationGasLimit == nil || estimate.PreVerificationGas == nil {
		return nil, fmt.Errorf("estimate user operation gas returned incomplete limits")
	}
	return &estimate, nil
}

// Sponsor asks the paymaster to cover op's gas
func (c *Client) Sponsor(ctx context.Context, op *UserOperation) (*Sponsorship, error) {
	args := []interface{}{op, c.config.EntryPoint}
	if c.config.SponsorPolicyID != "" {
		args = append(args, map[string]string{"sponsorshipPolicyId": c.config.SponsorPolicyID})
	}

	var sponsorship Sponsorship
	if err := c.call(ctx, c.paymaster, &sponsorship, "pm_sponsorUserOperation", args...); err != nil {
		return nil, fmt.Errorf("sponsor user operation failed: %w", err)
	}
	if len(sponsorship.PaymasterAndData) == 0 {
		return nil, fmt.Errorf("paymaster returned empty paymasterAndData")
	}
	return &sponsorship, nil
}

// Send submits a signed op and returns its user operation hash
func (c *Client) Send(ctx context.Context, op *UserOperation) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, c.bundler, &hash, "eth_sendUserOperation", op, c.config.EntryPoint); err != nil {
		return common.Hash{}, fmt.Errorf("send user operation failed: %w", err)
	}
	c.logger.Info("User operation submitted", "user_op_hash", hash.Hex(), "sender", op.Sender.Hex())
	return hash, nil
}

// GetReceipt returns nil until the operation is included
func (c *Client) GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var receipt *Receipt
	if err := c.call(ctx, c.bundler, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, fmt.Errorf("get user operation receipt failed: %w", err)
	}
	return receipt, nil
}

// WaitReceipt polls GetReceipt until inclusion or the receipt timeout
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.GetReceipt(ctx, hash)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

// Close releases both connections
func (c *Client) Close() {
	if c.paymaster != c.bundler {
		c.paymaster.Close()
	}
	c.bundler.Close()
}

// Apply copies limits from the estimate onto op
func (e *GasEstimate) Apply(op *UserOperation) {
	op.PreVerificationGas = (*big.Int)(e.PreVerificationGas)
	op.VerificationGasLimit = (*big.Int)(e.VerificationGasLimit)
	op.CallGasLimit = (*big.Int)(e.CallGasLimit)
}

// Apply copies paymaster data, and any limits the paymaster overrode, onto op
func (s *Sponsorship) Apply(op *UserOperation) {
	op.PaymasterAndData = s.PaymasterAndData
	if s.PreVerificationGas != nil {
		op.PreVerificationGas = (*big.Int)(s.PreVerificationGas)
	}
	if s.VerificationGasLimit != nil {
		op.VerificationGasLimit = (*big.Int)(s.VerificationGasLimit)
	}
	if s.CallGasLimit != nil {
		op.CallGasLimit = (*big.Int)(s.CallGasLimit)
	}
}
