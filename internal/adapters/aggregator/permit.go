package aggregator

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignPermit signs the EIP-712 structure of a permit quote with key
func SignPermit(eip712 json.RawMessage, key *ecdsa.PrivateKey) ([]byte, error) {
	var typedData apitypes.TypedData
	if err := json.Unmarshal(eip712, &typedData); err != nil {
		return nil, fmt.Errorf("failed to decode permit typed data: %w", err)
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash permit typed data: %w", err)
	}

	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign permit: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// AppendSignature appends a permit signature to settlement calldata as
// a 32-byte big-endian length followed by the signature bytes
func AppendSignature(data, signature []byte) []byte {
	length := common.LeftPadBytes(big.NewInt(int64(len(signature))).Bytes(), 32)
	out := make([]byte, 0, len(data)+len(length)+len(signature))
	out = append(out, data...)
	out = append(out, length...)
	return append(out, signature...)
}
