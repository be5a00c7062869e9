package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/metrics"
	"github.com/rail-service/settlement_service/pkg/retry"
)

// Config represents the chain RPC configuration
type Config struct {
	RPCURL         string
	ChainID        int64
	MaxRetries     int
	RetryBaseDelay time.Duration
	PollInterval   time.Duration
}

// Client wraps ethclient and retries every call that the node rejects with HTTP 429
type Client struct {
	config  Config
	eth     *ethclient.Client
	rpc     *rpc.Client
	chainID *big.Int
	logger  *logger.Logger
}

// Dial connects to the node and checks it serves the configured chain
func Dial(ctx context.Context, config Config, log *logger.Logger) (*Client, error) {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryBaseDelay == 0 {
		config.RetryBaseDelay = time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 3 * time.Second
	}

	rpcClient, err := rpc.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain rpc: %w", err)
	}

	c := &Client{
		config: config,
		eth:    ethclient.NewClient(rpcClient),
		rpc:    rpcClient,
		logger: log,
	}

	chainID, err := retry.DoWithResult(ctx, c.retrier("eth_chainId"), func() (*big.Int, error) {
		return c.eth.ChainID(ctx)
	})
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if config.ChainID != 0 && chainID.Int64() != config.ChainID {
		rpcClient.Close()
		return nil, fmt.Errorf("rpc serves chain %s, expected %d", chainID, config.ChainID)
	}
	c.chainID = chainID

	log.Info("Chain client initialized", "chain_id", chainID.String())
	return c, nil
}

// IsRateLimited reports whether err is the node throttling us
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}

func (c *Client) retrier(method string) *retry.Retrier {
	cfg := retry.RetryConfig{
		MaxAttempts: c.config.MaxRetries,
		BaseDelay:   c.config.RetryBaseDelay,
		MaxDelay:    10 * c.config.RetryBaseDelay,
		Multiplier:  2,
	}
	return retry.NewRetrier(method, cfg, IsRateLimited, c.logger.Zap()).
		OnRetry(func(int, error) {
			metrics.RPCRetriesTotal.WithLabelValues(method).Inc()
		})
}

// ChainID returns the chain the client is bound to
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// RPC exposes the raw JSON-RPC client
func (c *Client) RPC() *rpc.Client {
	return c.rpc
}

// BalanceAt returns the native balance of account at the latest block
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return retry.DoWithResult(ctx, c.retrier("eth_getBalance"), func() (*big.Int, error) {
		return c.eth.BalanceAt(ctx, account, nil)
	})
}

// CallContract runs a read-only call at the latest block
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retrier("eth_call"), func() ([]byte, error) {
		return c.eth.CallContract(ctx, msg, nil)
	})
}

// CodeAt returns the deployed bytecode of account
func (c *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retrier("eth_getCode"), func() ([]byte, error) {
		return c.eth.CodeAt(ctx, account, nil)
	})
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return retry.DoWithResult(ctx, c.retrier("eth_getTransactionCount"), func() (uint64, error) {
		return c.eth.PendingNonceAt(ctx, account)
	})
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return retry.DoWithResult(ctx, c.retrier("eth_gasPrice"), func() (*big.Int, error) {
		return c.eth.SuggestGasPrice(ctx)
	})
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return retry.DoWithResult(ctx, c.retrier("eth_estimateGas"), func() (uint64, error) {
		return c.eth.EstimateGas(ctx, msg)
	})
}

// FeeData returns EIP-1559 fee caps: twice the base fee plus the suggested tip
func (c *Client) FeeData(ctx context.Context) (maxFee, maxPriorityFee *big.Int, err error) {
	header, err := retry.DoWithResult(ctx, c.retrier("eth_getBlockByNumber"), func() (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	tip, err := retry.DoWithResult(ctx, c.retrier("eth_maxPriorityFeePerGas"), func() (*big.Int, error) {
		return c.eth.SuggestGasTipCap(ctx)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get priority fee: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	maxFee = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
	return maxFee, tip, nil
}

// SendLegacy signs an EIP-155 transaction with key and broadcasts it.
// A zero gas limit is estimated.
func (c *Client) SendLegacy(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gas uint64) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := c.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := c.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	if gas == 0 {
		gas, err = c.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gas = gas * 12 / 10
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	err = c.retrier("eth_sendRawTransaction").Do(ctx, func() error {
		err := c.eth.SendTransaction(ctx, signedTx)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "already known") {
			return nil
		}
		return err
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("Transaction sent",
		"tx_hash", signedTx.Hash().Hex(),
		"from", from.Hex(),
		"to", to.Hex(),
		"nonce", nonce)
	return signedTx.Hash(), nil
}

// WaitMined polls for the receipt of hash until it is mined or ctx is done
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := retry.DoWithResult(ctx, c.retrier("eth_getTransactionReceipt"), func() (*types.Receipt, error) {
			return c.eth.TransactionReceipt(ctx, hash)
		})
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt for %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the underlying connection
func (c *Client) Close() {
	c.rpc.Close()
}
