package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const simpleAccountFactoryJSON = `[
	{"name":"createAccount","type":"function","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]},
	{"name":"getAddress","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

const simpleAccountJSON = `[
	{"name":"execute","type":"function","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"name":"executeBatch","type":"function","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

const entryPointJSON = `[
	{"name":"getNonce","type":"function","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

var (
	AccountFactoryABI = MustParseABI(simpleAccountFactoryJSON)
	SimpleAccountABI  = MustParseABI(simpleAccountJSON)
	EntryPointABI     = MustParseABI(entryPointJSON)
)

// ContractCaller runs read-only contract calls
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// CounterfactualAddress asks the factory which account owner would get for salt
func CounterfactualAddress(ctx context.Context, caller ContractCaller, factory, owner common.Address, salt *big.Int) (common.Address, error) {
	data, err := AccountFactoryABI.Pack("getAddress", owner, salt)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getAddress: %w", err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data})
	if err != nil {
		return common.Address{}, fmt.Errorf("getAddress call failed: %w", err)
	}
	values, err := AccountFactoryABI.Unpack("getAddress", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getAddress: %w", err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getAddress result type %T", values[0])
	}
	return addr, nil
}

// AccountNonce reads the EntryPoint nonce of sender for key 0
func AccountNonce(ctx context.Context, caller ContractCaller, entryPoint, sender common.Address) (*big.Int, error) {
	data, err := EntryPointABI.Pack("getNonce", sender, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data})
	if err != nil {
		return nil, fmt.Errorf("getNonce call failed: %w", err)
	}
	return unpackUint(EntryPointABI, "getNonce", out)
}

// InitCode is the factory address followed by createAccount(owner, salt)
func InitCode(factory, owner common.Address, salt *big.Int) ([]byte, error) {
	data, err := AccountFactoryABI.Pack("createAccount", owner, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createAccount: %w", err)
	}
	return append(factory.Bytes(), data...), nil
}

// PackExecute encodes a single call made by a smart account
func PackExecute(dest common.Address, value *big.Int, data []byte) ([]byte, error) {
	return SimpleAccountABI.Pack("execute", dest, value, data)
}

// PackExecuteBatch encodes several zero-value calls made by a smart account
func PackExecuteBatch(dests []common.Address, calls [][]byte) ([]byte, error) {
	return SimpleAccountABI.Pack("executeBatch", dests, calls)
}
