package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/settlement_service/pkg/logger"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []interface{}   `json:"params"`
}

// fakeNode answers JSON-RPC calls from a per-method handler table and counts calls
type fakeNode struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(call int, req rpcRequest) (int, interface{}, *rpcErr)
}

type rpcErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newFakeNode() *fakeNode {
	n := &fakeNode{
		calls:    make(map[string]int),
		handlers: make(map[string]func(int, rpcRequest) (int, interface{}, *rpcErr)),
	}
	n.handlers["eth_chainId"] = func(int, rpcRequest) (int, interface{}, *rpcErr) {
		return http.StatusOK, "0x2105", nil
	}
	return n
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	call := n.calls[req.Method]
	handler := n.handlers[req.Method]
	n.mu.Unlock()

	if handler == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"error": rpcErr{Code: -32601, Message: "method not found"},
		})
		return
	}

	status, result, callErr := handler(call, req)
	if status != http.StatusOK {
		w.WriteHeader(status)
		w.Write([]byte("Too Many Requests"))
		return
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if callErr != nil {
		resp["error"] = callErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func dialFake(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)

	client, err := Dial(context.Background(), Config{
		RPCURL:         server.URL,
		ChainID:        8453,
		RetryBaseDelay: time.Millisecond,
		PollInterval:   time.Millisecond,
	}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func uint256Hex(v int64) string {
	return hexutil.Encode(common.LeftPadBytes(big.NewInt(v).Bytes(), 32))
}

func TestDial_ChainMismatch(t *testing.T) {
	server := httptest.NewServer(newFakeNode())
	defer server.Close()

	_, err := Dial(context.Background(), Config{RPCURL: server.URL, ChainID: 1}, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1")
}

func TestTokenBalance_RetriesOnRateLimit(t *testing.T) {
	node := newFakeNode()
	node.handlers["eth_call"] = func(call int, _ rpcRequest) (int, interface{}, *rpcErr) {
		if call < 3 {
			return http.StatusTooManyRequests, nil, nil
		}
		return http.StatusOK, uint256Hex(1_000_000), nil
	}
	client := dialFake(t, node)

	balance, err := client.TokenBalance(context.Background(),
		common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), balance.Int64())
	assert.Equal(t, 3, node.count("eth_call"))
}

func TestTokenBalance_GivesUpAfterMaxRetries(t *testing.T) {
	node := newFakeNode()
	node.handlers["eth_call"] = func(int, rpcRequest) (int, interface{}, *rpcErr) {
		return http.StatusTooManyRequests, nil, nil
	}
	client := dialFake(t, node)

	_, err := client.TokenBalance(context.Background(),
		common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, 3, node.count("eth_call"))
}

func TestTokenBalance_NoRetryOnOtherErrors(t *testing.T) {
	node := newFakeNode()
	node.handlers["eth_call"] = func(int, rpcRequest) (int, interface{}, *rpcErr) {
		return http.StatusOK, nil, &rpcErr{Code: -32000, Message: "execution reverted"}
	}
	client := dialFake(t, node)

	_, err := client.TokenBalance(context.Background(),
		common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
	assert.Equal(t, 1, node.count("eth_call"))
}

func TestTokenBalance_Native(t *testing.T) {
	node := newFakeNode()
	node.handlers["eth_getBalance"] = func(int, rpcRequest) (int, interface{}, *rpcErr) {
		return http.StatusOK, "0xde0b6b3a7640000", nil
	}
	client := dialFake(t, node)

	balance, err := client.TokenBalance(context.Background(),
		common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", balance.String())
	assert.Equal(t, 0, node.count("eth_call"))
}

func TestWaitMined(t *testing.T) {
	hash := common.HexToHash("0xabc")
	node := newFakeNode()
	node.handlers["eth_getTransactionReceipt"] = func(call int, _ rpcRequest) (int, interface{}, *rpcErr) {
		if call < 3 {
			return http.StatusOK, nil, nil
		}
		return http.StatusOK, map[string]interface{}{
			"type":              "0x0",
			"status":            "0x1",
			"cumulativeGasUsed": "0x5208",
			"logsBloom":         "0x" + strings.Repeat("00", 256),
			"logs":              []interface{}{},
			"transactionHash":   hash.Hex(),
			"gasUsed":           "0x5208",
			"effectiveGasPrice": "0x1",
			"blockHash":         common.HexToHash("0x01").Hex(),
			"blockNumber":       "0x10",
			"transactionIndex":  "0x0",
		}, nil
	}
	client := dialFake(t, node)

	receipt, err := client.WaitMined(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, 3, node.count("eth_getTransactionReceipt"))
}

func TestWaitMined_ContextDone(t *testing.T) {
	node := newFakeNode()
	node.handlers["eth_getTransactionReceipt"] = func(int, rpcRequest) (int, interface{}, *rpcErr) {
		return http.StatusOK, nil, nil
	}
	client := dialFake(t, node)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.WaitMined(ctx, common.HexToHash("0xabc"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRateLimited(t *testing.T) {
	assert.False(t, IsRateLimited(nil))
	assert.True(t, IsRateLimited(rpc.HTTPError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsRateLimited(fmt.Errorf("wrapped: %w", rpc.HTTPError{StatusCode: 429})))
	assert.True(t, IsRateLimited(errors.New("Too Many Requests")))
	assert.False(t, IsRateLimited(rpc.HTTPError{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"}))
	assert.False(t, IsRateLimited(errors.New("execution reverted")))
}

func TestTransferredTo(t *testing.T) {
	token := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	pool := common.HexToAddress("0x2222222222222222222222222222222222222222")
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	topic := ERC20ABI.Events["Transfer"].ID

	transferLog := func(emitter, to common.Address, amount int64) *types.Log {
		return &types.Log{
			Address: emitter,
			Topics:  []common.Hash{topic, common.BytesToHash(other.Bytes()), common.BytesToHash(to.Bytes())},
			Data:    common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		}
	}

	receipt := &types.Receipt{Logs: []*types.Log{
		transferLog(token, pool, 150),
		transferLog(token, other, 999),
		transferLog(other, pool, 777),
		transferLog(token, pool, 50),
	}}

	assert.Equal(t, int64(200), TransferredTo(receipt, token, pool).Int64())
	assert.Equal(t, int64(0), TransferredTo(nil, token, pool).Int64())
}

func TestPackTransfer(t *testing.T) {
	data, err := PackTransfer(common.HexToAddress("0x2222222222222222222222222222222222222222"), big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, "a9059cbb", hexutil.Encode(data[:4])[2:])
	assert.Len(t, data, 4+64)
}

type staticCaller struct {
	out []byte
	msg ethereum.CallMsg
}

func (s *staticCaller) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	s.msg = msg
	return s.out, nil
}

func TestCounterfactualAddress(t *testing.T) {
	account := common.HexToAddress("0x9999999999999999999999999999999999999999")
	out, err := AccountFactoryABI.Methods["getAddress"].Outputs.Pack(account)
	require.NoError(t, err)
	caller := &staticCaller{out: out}
	factory := common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")

	addr, err := CounterfactualAddress(context.Background(), caller, factory,
		common.HexToAddress("0x1111111111111111111111111111111111111111"), big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, account, addr)
	assert.Equal(t, factory, *caller.msg.To)

	args, err := AccountFactoryABI.Methods["getAddress"].Inputs.Unpack(caller.msg.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(3), args[1].(*big.Int).Int64())
}

func TestInitCode(t *testing.T) {
	factory := common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	code, err := InitCode(factory, common.HexToAddress("0x1111111111111111111111111111111111111111"), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, factory.Bytes(), code[:20])
	assert.Equal(t, AccountFactoryABI.Methods["createAccount"].ID, code[20:24])
}
