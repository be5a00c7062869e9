package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rail-service/settlement_service/internal/domain/entities"
)

const erc20JSON = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// ERC20ABI is the subset of the ERC-20 interface the service calls
var ERC20ABI = MustParseABI(erc20JSON)

// MustParseABI parses a JSON ABI known at compile time
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// IsNative reports whether token is the native-asset sentinel
func IsNative(token common.Address) bool {
	return token == common.HexToAddress(entities.NativeTokenAddress)
}

// TokenBalance returns owner's balance of token; the native sentinel reads the account balance
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if IsNative(token) {
		return c.BalanceAt(ctx, owner)
	}
	data, err := ERC20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	result, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	// an address that never touched the token can come back empty
	if len(result) == 0 {
		return big.NewInt(0), nil
	}
	return unpackUint(ERC20ABI, "balanceOf", result)
}

// Allowance returns how much spender may move from owner
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := ERC20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance: %w", err)
	}
	result, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}
	if len(result) == 0 {
		return big.NewInt(0), nil
	}
	return unpackUint(ERC20ABI, "allowance", result)
}

// PackTransfer encodes transfer(to, amount)
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transfer", to, amount)
}

// PackApprove encodes approve(spender, amount)
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}

// TransferredTo sums the token Transfer events in receipt whose recipient is to
func TransferredTo(receipt *types.Receipt, token, to common.Address) *big.Int {
	total := big.NewInt(0)
	if receipt == nil {
		return total
	}
	topic := ERC20ABI.Events["Transfer"].ID
	for _, log := range receipt.Logs {
		if log.Address != token || len(log.Topics) != 3 || log.Topics[0] != topic {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != to {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(log.Data))
	}
	return total
}

func unpackUint(contract abi.ABI, method string, result []byte) (*big.Int, error) {
	out, err := contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return nil, fmt.Errorf("unexpected %s result type %T", method, out[0])
	}
	return value, nil
}
