package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/settlement_service/pkg/logger"
)

const permitTypedData = `{
	"types": {
		"EIP712Domain": [
			{"name": "name", "type": "string"},
			{"name": "chainId", "type": "uint256"},
			{"name": "verifyingContract", "type": "address"}
		],
		"PermitTransferFrom": [
			{"name": "permitted", "type": "TokenPermissions"},
			{"name": "spender", "type": "address"},
			{"name": "nonce", "type": "uint256"},
			{"name": "deadline", "type": "uint256"}
		],
		"TokenPermissions": [
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"}
		]
	},
	"domain": {"name": "Permit2", "chainId": "8453", "verifyingContract": "0x000000000022D473030F116dDEE9F6B43aC78BA3"},
	"primaryType": "PermitTransferFrom",
	"message": {
		"permitted": {"token": "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2", "amount": "1000000"},
		"spender": "0x0000000000001fF3684f28c67538d4D072C22734",
		"nonce": "1",
		"deadline": "1735689600"
	}
}`

func quoteBody(withPermit bool) map[string]interface{} {
	body := map[string]interface{}{
		"liquidityAvailable": true,
		"buyAmount":          "999000",
		"minBuyAmount":       "989000",
		"sellAmount":         "1000000",
		"transaction": map[string]string{
			"to":    "0x0000000000001fF3684f28c67538d4D072C22734",
			"data":  "0xdeadbeef",
			"gas":   "210000",
			"value": "0",
		},
		"issues": map[string]interface{}{"allowance": nil},
		"route":  map[string]interface{}{"fills": []map[string]string{{"source": "Aerodrome"}}},
	}
	if withPermit {
		body["permit2"] = map[string]interface{}{
			"type":   "Permit2",
			"hash":   "0x01",
			"eip712": json.RawMessage(permitTypedData),
		}
	}
	return body
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:         server.URL,
		APIKey:          "test-key",
		ChainID:         8453,
		RateLimitPerSec: 1000,
	}, logger.NewNop())
}

func sampleRequest() QuoteRequest {
	return QuoteRequest{
		SellToken:   "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2",
		BuyToken:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		SellAmount:  "1000000",
		Taker:       "0x1111111111111111111111111111111111111111",
		SlippageBps: 100,
	}
}

func TestPermitQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, permitQuotePath, r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("0x-api-key"))
		assert.Equal(t, "v2", r.Header.Get("0x-version"))
		assert.Equal(t, "8453", r.URL.Query().Get("chainId"))
		assert.Equal(t, "1000000", r.URL.Query().Get("sellAmount"))
		assert.Equal(t, "100", r.URL.Query().Get("slippageBps"))
		json.NewEncoder(w).Encode(quoteBody(true))
	})

	quote, err := client.PermitQuote(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, quote.HasPermit())
	assert.Equal(t, "999000", quote.BuyAmount)
	assert.Equal(t, "Aerodrome", quote.Source())
}

func TestAllowanceQuote_WithoutPermit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, allowanceQuotePath, r.URL.Path)
		json.NewEncoder(w).Encode(quoteBody(false))
	})

	quote, err := client.AllowanceQuote(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.False(t, quote.HasPermit())
}

func TestQuote_NoLiquidity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"liquidityAvailable": false})
	})

	_, err := client.AllowanceQuote(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrNoLiquidity)
}

func TestQuote_InvalidResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := quoteBody(false)
		body["transaction"] = map[string]string{"data": "0xdeadbeef"}
		json.NewEncoder(w).Encode(body)
	})

	_, err := client.AllowanceQuote(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid quote response")
}

func TestQuote_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(quoteBody(false))
	})

	_, err := client.AllowanceQuote(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQuote_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"name": "INPUT_INVALID", "message": "sellToken not supported"})
	})

	_, err := client.PermitQuote(context.Background(), sampleRequest())
	require.Error(t, err)
	var apiErr *ErrorResponse
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "INPUT_INVALID", apiErr.Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSignPermit(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	sig, err := SignPermit(json.RawMessage(permitTypedData), key)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	var typedData apitypes.TypedData
	require.NoError(t, json.Unmarshal([]byte(permitTypedData), &typedData))
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)

	recoverable := append([]byte(nil), sig...)
	recoverable[64] -= 27
	pub, err := crypto.SigToPub(hash, recoverable)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestAppendSignature(t *testing.T) {
	sig := make([]byte, 65)
	out := AppendSignature([]byte{0xde, 0xad}, sig)
	require.Len(t, out, 2+32+65)
	assert.Equal(t, byte(65), out[2+31])
	assert.Equal(t, []byte{0xde, 0xad}, out[:2])
}
