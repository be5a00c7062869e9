package bundler

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/settlement_service/pkg/logger"
)

var testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

type recordedCall struct {
	Method string
	Params []json.RawMessage
}

type fakeBundler struct {
	mu      sync.Mutex
	calls   []recordedCall
	results map[string]func(n int) interface{}
	counts  map[string]int
}

func (f *fakeBundler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Method: req.Method, Params: req.Params})
	f.counts[req.Method]++
	n := f.counts[req.Method]
	result := f.results[req.Method]
	f.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if result == nil {
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	} else {
		resp["result"] = result(n)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, f *fakeBundler, policy string) *Client {
	t.Helper()
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)

	client, err := Dial(context.Background(), Config{
		URL:             server.URL,
		SponsorPolicyID: policy,
		EntryPoint:      testEntryPoint,
		PollInterval:    time.Millisecond,
		ReceiptTimeout:  200 * time.Millisecond,
	}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(0),
		CallData:             []byte{0xb6, 0x1d, 0x27, 0xf6},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000),
	}
}

func TestUserOperation_HashIsDeterministic(t *testing.T) {
	chainID := big.NewInt(8453)
	h1, err := sampleOp().Hash(testEntryPoint, chainID)
	require.NoError(t, err)
	h2, err := sampleOp().Hash(testEntryPoint, chainID)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	other, err := sampleOp().Hash(testEntryPoint, big.NewInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)

	op := sampleOp()
	op.PaymasterAndData = []byte{0x01}
	sponsored, err := op.Hash(testEntryPoint, chainID)
	require.NoError(t, err)
	assert.NotEqual(t, h1, sponsored)
}

func TestUserOperation_SignRecoversOwner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chainID := big.NewInt(8453)

	op := sampleOp()
	require.NoError(t, op.Sign(key, testEntryPoint, chainID))
	require.Len(t, op.Signature, 65)
	assert.True(t, op.Signature[64] == 27 || op.Signature[64] == 28)

	hash, err := op.Hash(testEntryPoint, chainID)
	require.NoError(t, err)

	sig := append([]byte(nil), op.Signature...)
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestUserOperation_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(sampleOp())
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "0x0", decoded["nonce"])
	assert.Equal(t, "0x186a0", decoded["callGasLimit"])
	assert.Equal(t, "0x", decoded["initCode"])
	assert.Equal(t, "0xb61d27f6", decoded["callData"])
}

func TestClient_SponsorAndSend(t *testing.T) {
	f := &fakeBundler{
		counts: map[string]int{},
		results: map[string]func(int) interface{}{
			"eth_estimateUserOperationGas": func(int) interface{} {
				return map[string]string{"preVerificationGas": "0xc350", "verificationGasLimit": "0x249f0", "callGasLimit": "0x186a0"}
			},
			"pm_sponsorUserOperation": func(int) interface{} {
				return map[string]string{"paymasterAndData": "0xabcdef", "callGasLimit": "0x30d40"}
			},
			"eth_sendUserOperation": func(int) interface{} {
				return common.HexToHash("0x1234").Hex()
			},
		},
	}
	client := newTestClient(t, f, "sp_policy")
	ctx := context.Background()

	op := sampleOp()
	estimate, err := client.EstimateGas(ctx, op)
	require.NoError(t, err)
	estimate.Apply(op)
	assert.Equal(t, int64(150000), op.VerificationGasLimit.Int64())

	sponsorship, err := client.Sponsor(ctx, op)
	require.NoError(t, err)
	sponsorship.Apply(op)
	assert.Equal(t, []byte{0xab, 0xcd, 0xef}, op.PaymasterAndData)
	assert.Equal(t, int64(200000), op.CallGasLimit.Int64())
	assert.Equal(t, int64(50000), op.PreVerificationGas.Int64())

	hash, err := client.Send(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x1234"), hash)

	require.Len(t, f.calls, 3)
	sponsorCall := f.calls[1]
	require.Len(t, sponsorCall.Params, 3)
	assert.JSONEq(t, `{"sponsorshipPolicyId":"sp_policy"}`, string(sponsorCall.Params[2]))
	var ep common.Address
	require.NoError(t, json.Unmarshal(f.calls[2].Params[1], &ep))
	assert.Equal(t, testEntryPoint, ep)
}

func TestClient_SponsorRejectsEmptyPaymasterData(t *testing.T) {
	f := &fakeBundler{
		counts: map[string]int{},
		results: map[string]func(int) interface{}{
			"pm_sponsorUserOperation": func(int) interface{} { return map[string]string{} },
		},
	}
	client := newTestClient(t, f, "")

	_, err := client.Sponsor(context.Background(), sampleOp())
	require.Error(t, err)
	assert.Len(t, f.calls[0].Params, 2)
}

func TestClient_WaitReceipt(t *testing.T) {
	f := &fakeBundler{
		counts: map[string]int{},
		results: map[string]func(int) interface{}{
			"eth_getUserOperationReceipt": func(n int) interface{} {
				if n < 3 {
					return nil
				}
				return map[string]interface{}{
					"userOpHash": common.HexToHash("0x1234").Hex(),
					"success":    true,
					"receipt":    map[string]string{"transactionHash": common.HexToHash("0x5678").Hex()},
				}
			},
		},
	}
	client := newTestClient(t, f, "")

	receipt, err := client.WaitReceipt(context.Background(), common.HexToHash("0x1234"))
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, common.HexToHash("0x5678"), receipt.Receipt.TransactionHash)
	assert.Equal(t, 3, f.counts["eth_getUserOperationReceipt"])
}

func TestClient_WaitReceiptTimeout(t *testing.T) {
	f := &fakeBundler{
		counts: map[string]int{},
		results: map[string]func(int) interface{}{
			"eth_getUserOperationReceipt": func(int) interface{} { return nil },
		},
	}
	client := newTestClient(t, f, "")

	_, err := client.WaitReceipt(context.Background(), common.HexToHash("0x1234"))
	assert.ErrorIs(t, err, ErrReceiptTimeout)
}
